package app

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/gajzzs/clusterbanned/internal/blocker"
	"github.com/gajzzs/clusterbanned/internal/config"
	"github.com/gajzzs/clusterbanned/internal/directory"
	"github.com/gajzzs/clusterbanned/internal/dns"
	"github.com/gajzzs/clusterbanned/internal/firewall"
	"github.com/gajzzs/clusterbanned/internal/hosts"
	"github.com/gajzzs/clusterbanned/internal/platform"
)

var (
	hostsPath     string
	directoryPath string

	// Swapped out by tests.
	newFirewallPort = platform.NewFirewallPort
	newResolver     = dns.NewResolver
)

// AddGlobalFlags registers flags shared by every command.
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&hostsPath, "hosts", "", "hosts file to manage (default: first existing system hosts file)")
	root.PersistentFlags().StringVar(&directoryPath, "directory", "", "cluster directory YAML (default: directory_path from config or built-in)")
}

type engine struct {
	cfg        *config.Config
	store      *hosts.Store
	reconciler *hosts.Reconciler
	checker    *hosts.Checker
	dir        *directory.Directory
	mirror     *firewall.Mirror
	blocker    *blocker.Blocker
}

func newEngine() (*engine, error) {
	cfg := config.GetConfig()

	paths := cfg.HostsPaths
	if hostsPath != "" {
		paths = []string{hostsPath}
	}
	store := hosts.NewStore(paths, cfg.BackupCount)

	dirPath := cfg.DirectoryPath
	if directoryPath != "" {
		dirPath = directoryPath
	}
	dir, err := directory.Load(dirPath)
	if err != nil {
		return nil, err
	}

	var port firewall.Port
	port, err = newFirewallPort(cfg.FirewallBackend, cfg.RulePrefix)
	if err != nil {
		log.Printf("firewall unavailable: %v", err)
		port = firewall.UnsupportedPort{Err: err}
	}

	reconciler := hosts.NewReconciler(store)
	mirror := firewall.NewMirror(port, dir, cfg.RulePrefix)
	return &engine{
		cfg:        cfg,
		store:      store,
		reconciler: reconciler,
		checker:    hosts.NewChecker(store),
		dir:        dir,
		mirror:     mirror,
		blocker:    blocker.NewBlocker(reconciler, mirror, dir),
	}, nil
}

func (e *engine) selection() hosts.Selection {
	return hosts.Selection(e.cfg.Selections)
}

func optionsFromConfig(cfg *config.Config) blocker.Options {
	return blocker.Options{
		UseHosts:    cfg.UseHosts,
		UseFirewall: cfg.UseFirewall,
		Backup:      cfg.BackupOnWrite,
	}
}

func (e *engine) options(cmd *cobra.Command) blocker.Options {
	opts := optionsFromConfig(e.cfg)
	flags := cmd.Flags()
	if v, err := flags.GetBool("no-hosts"); err == nil && v {
		opts.UseHosts = false
	}
	if v, err := flags.GetBool("no-firewall"); err == nil && v {
		opts.UseFirewall = false
	}
	if flags.Changed("backup") {
		opts.Backup, _ = flags.GetBool("backup")
	}
	return opts
}

func addPathFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-hosts", false, "skip the hosts file")
	cmd.Flags().Bool("no-firewall", false, "skip firewall rules")
	cmd.Flags().Bool("backup", false, "snapshot the hosts file before writing (default: backup_on_write)")
}

// regionDomains resolves the domains named on the command line, or every
// cluster domain of the region when none are given.
func (e *engine) regionDomains(region string, args []string) ([]string, error) {
	if !hosts.ValidRegion(region) {
		return nil, fmt.Errorf("%w: region %q must not contain whitespace", hosts.ErrInvalidRequest, region)
	}
	if len(args) > 0 {
		out := make([]string, 0, len(args))
		for _, a := range args {
			d, err := hosts.NormalizeDomain(a)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	}
	domains := e.dir.Domains(region)
	if len(domains) == 0 {
		return nil, fmt.Errorf("%w: %q", blocker.ErrUnknownRegion, region)
	}
	return domains, nil
}

// resolveMissing looks up clusters of region that the directory lists
// without addresses, so the firewall path has something to block. The
// result lives only for this invocation; `resolve --write` persists it.
func (e *engine) resolveMissing(cmd *cobra.Command, region string, opts blocker.Options) {
	if !opts.UseFirewall {
		return
	}
	missing := 0
	for _, c := range e.dir.Clusters(region) {
		if len(c.IPs) == 0 {
			missing++
		}
	}
	if missing == 0 {
		return
	}
	resolver := newResolver(e.cfg.DNSServer)
	sum, err := resolver.ResolveMissing(cmd.Context(), e.dir, region)
	if err != nil {
		log.Printf("dns: resolving %s clusters: %v", region, err)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resolved %d of %d cluster addresses via %s\n", sum.Resolved, missing, resolver.Server())
}
