//go:build darwin
// +build darwin

package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gajzzs/clusterbanned/internal/firewall"
)

// pfAnchor must be referenced from pf.conf as `anchor "clusterbanned/*"`.
const pfAnchor = "clusterbanned"

func newFirewallPort(backend, prefix string) (firewall.Port, error) {
	switch backend {
	case BackendAuto, BackendPF:
		return &pfPort{}, nil
	default:
		return nil, firewall.ErrUnsupported
	}
}

// pfPort stores each rule in its own child anchor named after the rule.
type pfPort struct{}

func (p *pfPort) AddBlockRule(ctx context.Context, name string, ips []string) error {
	if _, _, err := splitFamilies(ips); err != nil {
		return err
	}
	rule := fmt.Sprintf("block drop out quick to { %s }\n", strings.Join(ips, " "))
	cmd := exec.CommandContext(ctx, "pfctl", "-a", pfAnchor+"/"+name, "-f", "-")
	cmd.Stdin = strings.NewReader(rule)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pfctl: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (p *pfPort) DeleteRule(ctx context.Context, name string) error {
	names, err := p.anchors(ctx, name)
	if err != nil {
		return err
	}
	exists := false
	for _, n := range names {
		if n == name {
			exists = true
		}
	}
	if !exists {
		return firewall.ErrRuleNotFound
	}
	out, err := exec.CommandContext(ctx, "pfctl", "-a", pfAnchor+"/"+name, "-F", "rules").CombinedOutput()
	if err != nil {
		return fmt.Errorf("pfctl: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (p *pfPort) ListRules(ctx context.Context, prefix string) ([]string, error) {
	return p.anchors(ctx, prefix)
}

func (p *pfPort) anchors(ctx context.Context, prefix string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "pfctl", "-a", pfAnchor, "-s", "Anchors").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pfctl: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return parsePFAnchors(string(out), pfAnchor, prefix), nil
}
