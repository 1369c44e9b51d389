package platform

import (
	"fmt"

	"github.com/gajzzs/clusterbanned/internal/firewall"
)

const (
	BackendAuto     = "auto"
	BackendIPTables = "iptables"
	BackendRoute    = "route"
	BackendNetsh    = "netsh"
	BackendPF       = "pf"
)

// NewFirewallPort creates the platform-specific firewall backend.
// prefix is the rule-name prefix the caller manages.
func NewFirewallPort(backend, prefix string) (firewall.Port, error) {
	if backend == "" {
		backend = BackendAuto
	}
	if prefix == "" {
		prefix = firewall.DefaultPrefix
	}
	port, err := newFirewallPort(backend, prefix)
	if err != nil {
		return nil, fmt.Errorf("firewall backend %q: %w", backend, err)
	}
	return port, nil
}
