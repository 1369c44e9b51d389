package firewall

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/gajzzs/clusterbanned/internal/directory"
)

// Directory resolves the clusters of a region.
type Directory interface {
	Clusters(regionID string) []directory.Cluster
}

// Mirror keeps one outbound block rule per domain in step with the hosts
// denylist. The firewall itself is the only record of what exists.
type Mirror struct {
	port   Port
	dir    Directory
	prefix string
}

func NewMirror(port Port, dir Directory, prefix string) *Mirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Mirror{port: port, dir: dir, prefix: prefix}
}

func (m *Mirror) Prefix() string {
	return m.prefix
}

type Outcome struct {
	Summary string
	Lines   []string
	Domains int
	IPs     int
	// Partial is set when at least one domain or rule failed while the
	// rest of the batch went through.
	Partial bool
}

func (o Outcome) String() string {
	if len(o.Lines) == 0 {
		return o.Summary
	}
	return o.Summary + "\n" + strings.Join(o.Lines, "\n")
}

// Apply blocks (enable) or unblocks the given domains of a region. Only
// domains that the directory lists for the region are acted upon.
func (m *Mirror) Apply(ctx context.Context, regionID string, domains []string, enable bool) (Outcome, error) {
	if regionID == "" {
		return Outcome{}, fmt.Errorf("%w: region id is empty", ErrInvalidRequest)
	}

	want := make(map[string]bool, len(domains))
	for _, d := range domains {
		want[strings.ToLower(strings.TrimSpace(d))] = true
	}

	verb, added := "unblock", "removed"
	if enable {
		verb, added = "block", "added"
	}

	var out Outcome
	clusters := m.dir.Clusters(regionID)
	seen := make(map[string]bool)
	for _, c := range clusters {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		domain := strings.ToLower(c.Domain)
		if !want[domain] || seen[domain] {
			continue
		}
		seen[domain] = true

		ips := nonEmpty(c.IPs)
		if len(ips) == 0 {
			out.Lines = append(out.Lines, fmt.Sprintf("No IPs found for %s", domain))
			continue
		}

		var msgs []string
		var partial bool
		var err error
		if enable {
			msgs, partial, err = m.block(ctx, domain, ips)
		} else {
			msgs, partial, err = m.unblock(ctx, domain, ips)
		}
		if err != nil {
			log.Printf("firewall: failed to %s %s: %v", verb, domain, err)
			out.Lines = append(out.Lines, fmt.Sprintf("Failed to %s %s: %v", verb, domain, err))
			out.Partial = true
			continue
		}
		out.Partial = out.Partial || partial
		out.Lines = append(out.Lines, domain+": "+strings.Join(msgs, "; "))
		out.IPs += len(ips)
	}

	if len(clusters) > 0 {
		var missing []string
		for d := range want {
			if d != "" && !seen[d] {
				missing = append(missing, d)
			}
		}
		sort.Strings(missing)
		for _, d := range missing {
			out.Lines = append(out.Lines, fmt.Sprintf("No IPs found for %s", d))
		}
	}

	out.Domains = len(out.Lines)
	if out.Domains == 0 {
		out.Summary = fmt.Sprintf("No firewall rules %s for region %s", added, regionID)
		return out, nil
	}
	done := "Unblocked"
	if enable {
		done = "Blocked"
	}
	out.Summary = fmt.Sprintf("%s %d IPs across %d domains", done, out.IPs, out.Domains)
	return out, nil
}

func (m *Mirror) block(ctx context.Context, domain string, ips []string) ([]string, bool, error) {
	name := RuleName(m.prefix, domain)
	if err := m.port.DeleteRule(ctx, name); err != nil && !errors.Is(err, ErrRuleNotFound) {
		log.Printf("firewall: failed to delete stale rule %s: %v", name, err)
	}

	err := m.port.AddBlockRule(ctx, name, ips)
	if err == nil {
		return []string{fmt.Sprintf("Firewall rule created for %s (%d IPs)", domain, len(ips))}, false, nil
	}
	if !errors.Is(err, ErrMultiAddressRejected) {
		return nil, false, err
	}

	log.Printf("firewall: %s rejected as a multi-address rule, falling back to one rule per IP", name)
	var msgs []string
	var errs []error
	for _, ip := range ips {
		ipName := AddressRuleName(m.prefix, domain, ip)
		if err := m.port.DeleteRule(ctx, ipName); err != nil && !errors.Is(err, ErrRuleNotFound) {
			log.Printf("firewall: failed to delete stale rule %s: %v", ipName, err)
		}
		if err := m.port.AddBlockRule(ctx, ipName, []string{ip}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ip, err))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("Blocked IP: %s", ip))
	}
	if len(msgs) == 0 {
		return nil, false, fmt.Errorf("no per-address rules created: %w", errors.Join(errs...))
	}
	return msgs, len(errs) > 0, nil
}

func (m *Mirror) unblock(ctx context.Context, domain string, ips []string) ([]string, bool, error) {
	name := RuleName(m.prefix, domain)

	var msgs []string
	switch err := m.port.DeleteRule(ctx, name); {
	case err == nil:
		msgs = append(msgs, fmt.Sprintf("Firewall rule removed for %s", domain))
	case errors.Is(err, ErrRuleNotFound):
		msgs = append(msgs, fmt.Sprintf("Note: Firewall rule for %s may not have existed", domain))
	default:
		return nil, false, err
	}

	// Per-address rules may predate the directory's current addresses.
	stale := make(map[string]bool, len(ips))
	for _, ip := range ips {
		stale[AddressRuleName(m.prefix, domain, ip)] = true
	}
	if listed, err := m.port.ListRules(ctx, name+"_"); err != nil {
		log.Printf("firewall: failed to list per-address rules for %s: %v", domain, err)
	} else {
		for _, n := range listed {
			if isAddressRule(name, n) {
				stale[n] = true
			}
		}
	}
	names := make([]string, 0, len(stale))
	for n := range stale {
		names = append(names, n)
	}
	sort.Strings(names)

	var errs []error
	for _, n := range names {
		err := m.port.DeleteRule(ctx, n)
		if err != nil && !errors.Is(err, ErrRuleNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		msgs = append(msgs, fmt.Sprintf("failed to remove %d per-address rules: %v", len(errs), errors.Join(errs...)))
		return msgs, true, nil
	}
	return msgs, false, nil
}

// Clear deletes every rule under the active and legacy prefixes.
func (m *Mirror) Clear(ctx context.Context) (Outcome, error) {
	prefixes := []string{m.prefix}
	for _, p := range LegacyPrefixes {
		if p != m.prefix {
			prefixes = append(prefixes, p)
		}
	}

	var out Outcome
	var listErr error
	deleted := make(map[string]bool)
	for i, p := range prefixes {
		names, err := m.port.ListRules(ctx, p)
		if err != nil {
			if i == 0 {
				listErr = err
			}
			log.Printf("firewall: failed to list rules with prefix %s: %v", p, err)
			continue
		}
		for _, name := range names {
			if deleted[name] {
				continue
			}
			if err := m.port.DeleteRule(ctx, name); err != nil && !errors.Is(err, ErrRuleNotFound) {
				out.Lines = append(out.Lines, fmt.Sprintf("Failed to delete %s: %v", name, err))
				out.Partial = true
				continue
			}
			deleted[name] = true
			out.Lines = append(out.Lines, fmt.Sprintf("Deleted %s", name))
		}
	}
	if listErr != nil && len(deleted) == 0 && !out.Partial {
		return Outcome{}, listErr
	}

	if len(deleted) == 0 {
		out.Summary = "No firewall rules found to delete"
	} else {
		out.Summary = fmt.Sprintf("Deleted %d firewall rules", len(deleted))
	}
	return out, nil
}

// Rules lists the rule names under the active prefix.
func (m *Mirror) Rules(ctx context.Context) ([]string, error) {
	names, err := m.port.ListRules(ctx, m.prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func nonEmpty(ips []string) []string {
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if ip = strings.TrimSpace(ip); ip != "" {
			out = append(out, ip)
		}
	}
	return out
}
