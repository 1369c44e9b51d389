package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gajzzs/clusterbanned/internal/config"
	"github.com/gajzzs/clusterbanned/internal/crypto"
	"github.com/gajzzs/clusterbanned/internal/platform"
	"github.com/gajzzs/clusterbanned/internal/service"
	"github.com/gajzzs/clusterbanned/internal/system"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:                   "status",
		Short:                 "Show hosts, firewall, selection and service status",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			fmt.Fprintln(out, titleStyle.Render("ClusterBanned Status"))

			fmt.Fprintln(out, "\n"+sectionStyle.Render("Hosts File:"))
			if platform.Elevated() {
				fmt.Fprintf(out, "  Elevated: %s\n", okStyle.Render("yes"))
			} else {
				fmt.Fprintf(out, "  Elevated: %s\n", warnStyle.Render("no"))
			}
			elev := e.store.CheckElevation()
			fmt.Fprintf(out, "  Path: %s\n", elev.Path)
			if elev.Writable {
				fmt.Fprintf(out, "  Writable: %s\n", okStyle.Render("yes"))
			} else {
				fmt.Fprintf(out, "  Writable: %s (%v)\n", warnStyle.Render("no"), elev.Err)
			}
			if _, text, err := e.store.Read(); err == nil {
				fmt.Fprintf(out, "  Fingerprint: %s\n", crypto.Short(crypto.Fingerprint(text)))
			}

			blocked, err := e.reconciler.BlockedDomains(ctx)
			if err != nil {
				fmt.Fprintf(out, "  Blocked: %s\n", badStyle.Render(err.Error()))
			} else {
				fmt.Fprintf(out, "  Blocked domains: %d\n", len(blocked))
			}

			fmt.Fprintln(out, "\n"+sectionStyle.Render("Selection:"))
			rep := e.checker.Check(ctx, e.selection())
			switch {
			case !rep.Available:
				fmt.Fprintf(out, "  %s\n", warnStyle.Render(rep.Message))
			case rep.Mismatch:
				fmt.Fprintf(out, "  %s\n", badStyle.Render(rep.Message))
			default:
				fmt.Fprintf(out, "  %s\n", okStyle.Render(rep.Message))
			}

			fmt.Fprintln(out, "\n"+sectionStyle.Render("Firewall:"))
			fmt.Fprintf(out, "  Backend: %s\n", e.cfg.FirewallBackend)
			if rules, err := e.mirror.Rules(ctx); err != nil {
				fmt.Fprintf(out, "  Rules: %s\n", warnStyle.Render(err.Error()))
			} else {
				fmt.Fprintf(out, "  Rules (%s): %d\n", e.mirror.Prefix(), len(rules))
			}

			monitor := system.NewSystemMonitor()
			ips := blockedIPs(e, blocked)
			if conns, err := monitor.ConnectionsTo(ips); err == nil && len(conns) > 0 {
				fmt.Fprintln(out, "\n"+sectionStyle.Render("Live Connections To Blocked Clusters:"))
				for _, c := range conns {
					fmt.Fprintf(out, "  %s (pid %d) %s -> %s %s\n", c.Process, c.PID, c.Local, c.Remote, c.Status)
				}
			}

			fmt.Fprintln(out, "\n"+sectionStyle.Render("Service Status:"))
			if sm, err := service.NewServiceManager(nil); err == nil {
				if status, err := sm.Status(); err == nil {
					fmt.Fprintf(out, "  Status: %s\n", status)
				} else {
					fmt.Fprintln(out, "  Status: Unknown")
				}
				fmt.Fprintf(out, "  Config: %s\n", service.ConfigPath())
			} else {
				fmt.Fprintln(out, "  Status: Not Available")
			}
			fmt.Fprintf(out, "  Check interval: %s (auto repair: %t)\n", e.cfg.Interval(), e.cfg.AutoRepair)

			fmt.Fprintln(out, "\n"+sectionStyle.Render("System Information:"))
			if sysInfo, err := monitor.GetSystemInfo(); err == nil {
				if hostname, ok := sysInfo["hostname"].(string); ok {
					fmt.Fprintf(out, "  Hostname: %s\n", hostname)
				}
				if name, ok := sysInfo["platform"].(string); ok {
					fmt.Fprintf(out, "  Platform: %s %v\n", name, sysInfo["platform_version"])
				}
			}
			fmt.Fprintf(out, "  Config: %s\n", config.ConfigFile)
			return nil
		},
	}
}

// blockedIPs returns the known addresses of blocked cluster domains.
func blockedIPs(e *engine, blocked []string) []string {
	set := make(map[string]bool, len(blocked))
	for _, d := range blocked {
		set[d] = true
	}
	seen := make(map[string]bool)
	var ips []string
	for _, r := range e.dir.Regions {
		for _, c := range r.Clusters {
			if !set[strings.ToLower(c.Domain)] {
				continue
			}
			for _, ip := range c.IPs {
				if !seen[ip] {
					seen[ip] = true
					ips = append(ips, ip)
				}
			}
		}
	}
	sort.Strings(ips)
	return ips
}
