package blocker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gajzzs/clusterbanned/internal/firewall"
	"github.com/gajzzs/clusterbanned/internal/hosts"
)

var ErrUnknownRegion = errors.New("unknown region")

const skipped = "Skipped"

type HostsEngine interface {
	Apply(ctx context.Context, req hosts.Request) (hosts.Outcome, error)
	Clear(ctx context.Context, backup bool) (hosts.ClearOutcome, error)
	BlockedDomains(ctx context.Context) ([]string, error)
}

type FirewallEngine interface {
	Apply(ctx context.Context, regionID string, domains []string, enable bool) (firewall.Outcome, error)
	Clear(ctx context.Context) (firewall.Outcome, error)
}

type Directory interface {
	Domains(regionID string) []string
}

// Blocker runs the hosts and firewall paths side by side. A failure in one
// path never prevents the other from running.
type Blocker struct {
	hosts    HostsEngine
	firewall FirewallEngine
	dir      Directory
}

func NewBlocker(h HostsEngine, f FirewallEngine, dir Directory) *Blocker {
	return &Blocker{hosts: h, firewall: f, dir: dir}
}

type UpdateRequest struct {
	RegionID    string
	Domains     []string
	Enable      bool
	UseHosts    bool
	UseFirewall bool
	Backup      bool
}

type Result struct {
	Success  bool
	Partial  bool
	Hosts    string
	Firewall string
}

func (r Result) String() string {
	return fmt.Sprintf("Hosts: %s\nFirewall: %s", r.Hosts, r.Firewall)
}

// Apply blocks (Enable) or unblocks the request's domains on both paths.
func (b *Blocker) Apply(ctx context.Context, req UpdateRequest) Result {
	res := Result{Success: true, Hosts: skipped, Firewall: skipped}
	domains := req.Domains
	if domains == nil {
		domains = []string{}
	}

	if req.UseHosts {
		mode := hosts.ModeRemove
		if req.Enable {
			mode = hosts.ModeSet
		}
		out, err := b.hosts.Apply(ctx, hosts.Request{
			Region:    req.RegionID,
			HasRegion: req.RegionID != "",
			Domains:   domains,
			Mode:      mode,
			Backup:    req.Backup,
		})
		if err != nil {
			res.Success = false
			res.Hosts = "Error: " + err.Error()
		} else {
			res.Hosts = out.Message
		}
	}

	if req.UseFirewall {
		out, err := b.firewall.Apply(ctx, req.RegionID, domains, req.Enable)
		if err != nil {
			res.Success = false
			res.Firewall = "Error: " + err.Error()
		} else {
			res.Firewall = out.String()
			res.Partial = out.Partial
		}
	}

	log.Printf("blocker: region=%q enable=%v domains=%d success=%v", req.RegionID, req.Enable, len(domains), res.Success)
	return res
}

type Options struct {
	UseHosts    bool
	UseFirewall bool
	Backup      bool
}

// ApplySelection turns the saved selection for a region into an update.
// Clusters whose selection is false get blocked; with none left to block,
// whatever the region still has blocked in hosts is released.
func (b *Blocker) ApplySelection(ctx context.Context, regionID string, sel hosts.Selection, opts Options) (Result, error) {
	domains := b.dir.Domains(regionID)
	if len(domains) == 0 {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownRegion, regionID)
	}

	blocked := make(map[string]bool)
	if list, err := b.hosts.BlockedDomains(ctx); err != nil {
		log.Printf("blocker: cannot read blocked domains: %v", err)
	} else {
		for _, d := range list {
			blocked[d] = true
		}
	}

	var toBlock, released []string
	for _, d := range domains {
		if !sel.Enabled(regionID, d) {
			toBlock = append(toBlock, d)
		} else if blocked[d] {
			released = append(released, d)
		}
	}

	if len(toBlock) > 0 {
		res := b.Apply(ctx, UpdateRequest{
			RegionID:    regionID,
			Domains:     toBlock,
			Enable:      true,
			UseHosts:    opts.UseHosts,
			UseFirewall: opts.UseFirewall,
			Backup:      opts.Backup,
		})
		// Set mode already dropped released domains from hosts.
		if opts.UseFirewall && len(released) > 0 {
			out, err := b.firewall.Apply(ctx, regionID, released, false)
			if err != nil {
				res.Success = false
				res.Firewall += "\nError: " + err.Error()
			} else {
				res.Firewall += "\n" + out.String()
				res.Partial = res.Partial || out.Partial
			}
		}
		return res, nil
	}

	if len(released) == 0 {
		return Result{Success: true, Hosts: "No cluster entries to update", Firewall: skipped}, nil
	}
	return b.Apply(ctx, UpdateRequest{
		RegionID:    regionID,
		Domains:     released,
		Enable:      false,
		UseHosts:    opts.UseHosts,
		UseFirewall: opts.UseFirewall,
		Backup:      opts.Backup,
	}), nil
}

// ClearAll removes every managed hosts block and, with useFirewall, every
// rule under the application prefixes.
func (b *Blocker) ClearAll(ctx context.Context, backup, useFirewall bool) Result {
	res := Result{Success: true, Firewall: skipped}

	out, err := b.hosts.Clear(ctx, backup)
	switch {
	case err != nil:
		res.Success = false
		res.Hosts = "Error: " + err.Error()
	default:
		res.Hosts = out.Message
		if out.Halted {
			res.Partial = true
		}
	}

	if useFirewall {
		fw, err := b.firewall.Clear(ctx)
		if err != nil {
			res.Success = false
			res.Firewall = "Error: " + err.Error()
		} else {
			res.Firewall = fw.String()
			res.Partial = res.Partial || fw.Partial
		}
	}
	return res
}

// Lines renders a result for terminal output.
func (r Result) Lines() []string {
	return append(
		prefixed("Hosts", r.Hosts),
		prefixed("Firewall", r.Firewall)...)
}

func prefixed(label, text string) []string {
	parts := strings.Split(text, "\n")
	out := []string{label + ": " + parts[0]}
	for _, p := range parts[1:] {
		out = append(out, "  "+p)
	}
	return out
}
