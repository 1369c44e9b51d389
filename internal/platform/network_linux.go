//go:build linux
// +build linux

package platform

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/coreos/go-iptables/iptables"

	"github.com/gajzzs/clusterbanned/internal/firewall"
)

const (
	filterTable = "filter"
	outputChain = "OUTPUT"
	blockChain  = "CLUSTERBANNED"
)

func newFirewallPort(backend, prefix string) (firewall.Port, error) {
	switch backend {
	case BackendAuto:
		port, err := newIPTablesPort()
		if err == nil {
			return port, nil
		}
		log.Printf("platform: iptables unavailable, using blackhole routes: %v", err)
		return newRoutePort(prefix), nil
	case BackendIPTables:
		return newIPTablesPort()
	case BackendRoute:
		return newRoutePort(prefix), nil
	default:
		return nil, firewall.ErrUnsupported
	}
}

// iptablesPort keeps one DROP rule per address in a dedicated chain,
// identified by its comment.
type iptablesPort struct {
	v4 *iptables.IPTables
	v6 *iptables.IPTables
}

func newIPTablesPort() (*iptablesPort, error) {
	v4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("iptables: %w", err)
	}
	v6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		log.Printf("platform: ip6tables unavailable: %v", err)
		v6 = nil
	}
	return &iptablesPort{v4: v4, v6: v6}, nil
}

func (p *iptablesPort) tables() []*iptables.IPTables {
	if p.v6 == nil {
		return []*iptables.IPTables{p.v4}
	}
	return []*iptables.IPTables{p.v4, p.v6}
}

func ensureChain(ipt *iptables.IPTables) error {
	exists, err := ipt.ChainExists(filterTable, blockChain)
	if err != nil {
		return err
	}
	if !exists {
		if err := ipt.NewChain(filterTable, blockChain); err != nil {
			return err
		}
	}
	hooked, err := ipt.Exists(filterTable, outputChain, "-j", blockChain)
	if err != nil {
		return err
	}
	if !hooked {
		return ipt.Insert(filterTable, outputChain, 1, "-j", blockChain)
	}
	return nil
}

func (p *iptablesPort) AddBlockRule(ctx context.Context, name string, ips []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v4, v6, err := splitFamilies(ips)
	if err != nil {
		return err
	}
	if len(v6) > 0 && p.v6 == nil {
		return fmt.Errorf("ip6tables unavailable for %d IPv6 addresses", len(v6))
	}

	add := func(ipt *iptables.IPTables, addrs []string) error {
		if len(addrs) == 0 {
			return nil
		}
		if err := ensureChain(ipt); err != nil {
			return fmt.Errorf("failed to prepare chain %s: %w", blockChain, err)
		}
		return ipt.Append(filterTable, blockChain,
			"-d", strings.Join(addrs, ","),
			"-m", "comment", "--comment", name,
			"-j", "DROP")
	}
	if err := add(p.v4, v4); err != nil {
		return err
	}
	return add(p.v6, v6)
}

func (p *iptablesPort) DeleteRule(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	found := false
	for _, ipt := range p.tables() {
		lines, err := listChain(ipt)
		if err != nil {
			return err
		}
		for _, line := range lines {
			spec, comment, ok := parseIPTablesRule(line, blockChain)
			if !ok || comment != name {
				continue
			}
			if err := ipt.Delete(filterTable, blockChain, spec...); err != nil {
				return fmt.Errorf("failed to delete %s: %w", name, err)
			}
			found = true
		}
	}
	if !found {
		return firewall.ErrRuleNotFound
	}
	return nil
}

func (p *iptablesPort) ListRules(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, ipt := range p.tables() {
		lines, err := listChain(ipt)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			_, comment, ok := parseIPTablesRule(line, blockChain)
			if ok && strings.HasPrefix(comment, prefix) && !seen[comment] {
				seen[comment] = true
				names = append(names, comment)
			}
		}
	}
	return names, nil
}

func listChain(ipt *iptables.IPTables) ([]string, error) {
	exists, err := ipt.ChainExists(filterTable, blockChain)
	if err != nil || !exists {
		return nil, err
	}
	return ipt.List(filterTable, blockChain)
}
