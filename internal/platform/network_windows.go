//go:build windows
// +build windows

package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gajzzs/clusterbanned/internal/firewall"
)

func newFirewallPort(backend, prefix string) (firewall.Port, error) {
	switch backend {
	case BackendAuto, BackendNetsh:
		return &netshPort{run: runNetsh}, nil
	default:
		return nil, firewall.ErrUnsupported
	}
}

func runNetsh(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "netsh", args...).CombinedOutput()
}

// netshPort drives Windows Defender Firewall through netsh advfirewall.
type netshPort struct {
	run func(ctx context.Context, args ...string) ([]byte, error)
}

func (p *netshPort) AddBlockRule(ctx context.Context, name string, ips []string) error {
	out, err := p.run(ctx, "advfirewall", "firewall", "add", "rule",
		"name="+name,
		"dir=out",
		"action=block",
		"remoteip="+strings.Join(ips, ","),
		"protocol=any",
		"enable=yes",
		"profile=any")
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(string(out))
	if strings.Contains(strings.ToLower(msg), "remoteip") {
		return fmt.Errorf("%w: %s", firewall.ErrMultiAddressRejected, msg)
	}
	return fmt.Errorf("failed to create firewall rule: %s: %w", msg, err)
}

func (p *netshPort) DeleteRule(ctx context.Context, name string) error {
	out, err := p.run(ctx, "advfirewall", "firewall", "delete", "rule", "name="+name)
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(string(out))
	if strings.Contains(msg, "No rules match") {
		return firewall.ErrRuleNotFound
	}
	return fmt.Errorf("failed to delete firewall rule: %s: %w", msg, err)
}

func (p *netshPort) ListRules(ctx context.Context, prefix string) ([]string, error) {
	out, err := p.run(ctx, "advfirewall", "firewall", "show", "rule", "name=all", "dir=out")
	if err != nil {
		return nil, fmt.Errorf("failed to list firewall rules: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return parseNetshRuleNames(string(out), prefix), nil
}
