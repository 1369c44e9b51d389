package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gajzzs/clusterbanned/internal/blocker"
	"github.com/gajzzs/clusterbanned/internal/config"
	"github.com/gajzzs/clusterbanned/internal/dns"
	"github.com/gajzzs/clusterbanned/internal/hosts"
)

var (
	errFailed = errors.New("one or more operations failed")
	errDrift  = errors.New("hosts file does not match the saved selection")
)

func printResult(cmd *cobra.Command, res blocker.Result) {
	for _, line := range res.Lines() {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
}

func resultError(res blocker.Result) error {
	if !res.Success {
		return errFailed
	}
	return nil
}

// rememberSelection mirrors a manual block/unblock into the saved
// selection so that check and the daemon agree with it.
func rememberSelection(cmd *cobra.Command, e *engine, region string, domains []string, blocked, replace bool) {
	if replace {
		for _, d := range e.dir.Domains(region) {
			setSelection(e.cfg, region, d, true)
		}
	}
	for _, d := range domains {
		setSelection(e.cfg, region, d, !blocked)
	}
	if err := config.SaveConfig(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: selection not saved: %v\n", err)
	}
}

func setSelection(cfg *config.Config, region, domain string, enabled bool) {
	if cfg.Selections == nil {
		cfg.Selections = map[string]map[string]bool{}
	}
	if cfg.Selections[region] == nil {
		cfg.Selections[region] = map[string]bool{}
	}
	cfg.Selections[region][domain] = enabled
}

func NewBlockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block <region> [domain...]",
		Short: "Block a region's clusters (all of them when no domain is given)",
		Long: "Block a region's clusters in the hosts file and the firewall.\n\n" +
			"Clusters the directory lists without IPs are resolved with DNS first; " +
			"run `clusterbanned resolve --write` to keep the addresses.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			region := args[0]
			domains, err := e.regionDomains(region, args[1:])
			if err != nil {
				return err
			}
			opts := e.options(cmd)
			e.resolveMissing(cmd, region, opts)

			res := e.blocker.Apply(cmd.Context(), blocker.UpdateRequest{
				RegionID:    region,
				Domains:     domains,
				Enable:      true,
				UseHosts:    opts.UseHosts,
				UseFirewall: opts.UseFirewall,
				Backup:      opts.Backup,
			})
			printResult(cmd, res)
			if res.Success {
				rememberSelection(cmd, e, region, domains, true, true)
			}
			return resultError(res)
		},
	}
	addPathFlags(cmd)
	return cmd
}

func NewUnblockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unblock <region> [domain...]",
		Short: "Unblock a region's clusters (all of them when no domain is given)",
		Long: "Unblock a region's clusters in the hosts file and the firewall.\n\n" +
			"Clusters the directory lists without IPs are resolved with DNS first.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			region := args[0]
			domains, err := e.regionDomains(region, args[1:])
			if err != nil {
				return err
			}
			opts := e.options(cmd)
			e.resolveMissing(cmd, region, opts)

			res := e.blocker.Apply(cmd.Context(), blocker.UpdateRequest{
				RegionID:    region,
				Domains:     domains,
				Enable:      false,
				UseHosts:    opts.UseHosts,
				UseFirewall: opts.UseFirewall,
				Backup:      opts.Backup,
			})
			printResult(cmd, res)
			if res.Success {
				rememberSelection(cmd, e, region, domains, false, false)
			}
			return resultError(res)
		},
	}
	addPathFlags(cmd)
	return cmd
}

func NewApplyCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "apply [region]",
		Short: "Apply the saved selection of a region (or every region with --all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			var regions []string
			switch {
			case all:
				regions = e.dir.RegionIDs()
			case len(args) == 1:
				regions = args
			default:
				return fmt.Errorf("specify a region or --all")
			}

			opts := e.options(cmd)
			failed := false
			for _, region := range regions {
				e.resolveMissing(cmd, region, opts)
				res, err := e.blocker.ApplySelection(cmd.Context(), region, e.selection(), opts)
				if err != nil {
					return err
				}
				if len(regions) > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s]\n", region)
				}
				printResult(cmd, res)
				failed = failed || !res.Success
			}
			if failed {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "apply every region of the directory")
	addPathFlags(cmd)
	return cmd
}

func NewSelectCommand() *cobra.Command {
	var enabled bool
	cmd := &cobra.Command{
		Use:   "select <region> <domain>",
		Short: "Mark a cluster as enabled (reachable) or disabled (blocked) in the saved selection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			region := args[0]
			domain, err := hosts.NormalizeDomain(args[1])
			if err != nil {
				return err
			}

			known := false
			for _, d := range e.dir.Domains(region) {
				if d == domain {
					known = true
				}
			}
			if !known {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s is not a cluster of region %s\n", domain, region)
			}

			if err := config.SetSelection(region, domain, enabled); err != nil {
				return err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) %s; run `clusterbanned apply %s` to enforce\n", domain, region, state, region)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "cluster is reachable (false blocks it)")
	return cmd
}

func NewCheckCommand() *cobra.Command {
	var selectionFile string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare the hosts file with the saved selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			sel := e.selection()
			if selectionFile != "" {
				data, err := os.ReadFile(selectionFile)
				if err != nil {
					return err
				}
				if sel, err = hosts.ParseSelection(data); err != nil {
					return err
				}
			}

			rep := e.checker.Check(cmd.Context(), sel)
			out := cmd.OutOrStdout()
			if !rep.Available {
				fmt.Fprintf(out, "Hosts file unavailable: %s\n", rep.Message)
				return nil
			}
			fmt.Fprintln(out, rep.Message)
			if rep.Mismatch {
				return errDrift
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&selectionFile, "selection", "", "JSON selection file to check against instead of the saved one")
	return cmd
}

func NewClearCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every clusterbanned block from hosts and every firewall rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			if !yes {
				prompt := promptui.Prompt{
					Label:     "Remove all clusterbanned blocks and firewall rules",
					IsConfirm: true,
				}
				if _, err := prompt.Run(); err != nil {
					if errors.Is(err, promptui.ErrAbort) {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
						return nil
					}
					return err
				}
			}

			opts := e.options(cmd)
			res := e.blocker.ClearAll(cmd.Context(), opts.Backup, opts.UseFirewall)
			printResult(cmd, res)
			return resultError(res)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().Bool("no-firewall", false, "leave firewall rules alone")
	cmd.Flags().Bool("backup", false, "snapshot the hosts file before writing (default: backup_on_write)")
	return cmd
}

func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List managed blocks in the hosts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			path, text, err := e.store.Read()
			if err != nil {
				return err
			}
			blocks := hosts.ParseDocument(text).Blocks()
			if len(blocks) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No clusterbanned blocks in %s\n", path)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Managed blocks in %s:\n", path)
			rows := make([][]string, 0)
			for _, b := range blocks {
				region := b.Region
				if !b.HasRegion {
					region = "(untagged)"
				}
				for _, d := range b.Domains {
					rows = append(rows, []string{region, d})
				}
			}
			renderTable(cmd.OutOrStdout(), []string{"Region", "Domain"}, rows)
			return nil
		},
	}
}

func NewRegionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "Show the cluster directory with blocked and selected state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			blocked := make(map[string]bool)
			if list, err := e.reconciler.BlockedDomains(cmd.Context()); err == nil {
				for _, d := range list {
					blocked[d] = true
				}
			}
			sel := e.selection()

			var rows [][]string
			for _, r := range e.dir.Regions {
				for _, c := range r.Clusters {
					d := strings.ToLower(c.Domain)
					rows = append(rows, []string{
						r.ID,
						c.ID,
						d,
						c.Location,
						strings.Join(c.IPs, ","),
						yesNo(blocked[d]),
						yesNo(sel.Enabled(r.ID, d)),
					})
				}
			}
			renderTable(cmd.OutOrStdout(), []string{"Region", "Cluster", "Domain", "Location", "IPs", "Blocked", "Enabled"}, rows)
			return nil
		},
	}
}

func NewRulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List firewall rules owned by clusterbanned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			names, err := e.mirror.Rules(cmd.Context())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No firewall rules with prefix %s\n", e.mirror.Prefix())
				return nil
			}
			rows := make([][]string, len(names))
			for i, n := range names {
				rows[i] = []string{n}
			}
			renderTable(cmd.OutOrStdout(), []string{"Rule"}, rows)
			return nil
		},
	}
}

func NewResolveCommand() *cobra.Command {
	var write, server string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Refresh cluster IP addresses with DNS lookups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			if server == "" {
				server = e.cfg.DNSServer
			}
			resolver := dns.NewResolver(server)
			sum, err := resolver.Refresh(cmd.Context(), e.dir)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, r := range e.dir.Regions {
				for _, c := range r.Clusters {
					rows = append(rows, []string{r.ID, c.Domain, strings.Join(c.IPs, ",")})
				}
			}
			renderTable(cmd.OutOrStdout(), []string{"Region", "Domain", "IPs"}, rows)
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %d domains via %s, %d failed\n", sum.Resolved, resolver.Server(), sum.Failed)
			for _, msg := range sum.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", msg)
			}

			if write != "" {
				if err := e.dir.Save(write); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Directory written to %s\n", write)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&write, "write", "", "save the refreshed directory to this YAML file")
	cmd.Flags().StringVar(&server, "server", "", "DNS server host:port (default: dns_server from config or system resolver)")
	return cmd
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
