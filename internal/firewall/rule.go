package firewall

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	ErrInvalidRequest       = errors.New("invalid firewall request")
	ErrRuleNotFound         = errors.New("firewall rule not found")
	ErrMultiAddressRejected = errors.New("firewall rejected multi-address rule")
	ErrUnsupported          = errors.New("firewall backend not supported on this platform")
)

const DefaultPrefix = "ClusterBanned"

// LegacyPrefixes are cleaned up by Clear in addition to the active prefix.
var LegacyPrefixes = []string{"WoT_Blitz_Block", "WoT_Block"}

// Port is an OS firewall able to hold named outbound block rules.
type Port interface {
	AddBlockRule(ctx context.Context, name string, ips []string) error
	DeleteRule(ctx context.Context, name string) error
	ListRules(ctx context.Context, prefix string) ([]string, error)
}

type Rule struct {
	Domain string
	IPs    []string
	Name   string
}

var addressReplacer = strings.NewReplacer(".", "_", ":", "_")

// RuleName derives the stable rule name for a domain.
func RuleName(prefix, domain string) string {
	return prefix + "_" + strings.ReplaceAll(strings.ToLower(domain), ".", "_")
}

// AddressRuleName names the per-address fallback rule for ip.
func AddressRuleName(prefix, domain, ip string) string {
	return RuleName(prefix, domain) + "_" + addressReplacer.Replace(ip)
}

// isAddressRule reports whether name is a per-address rule derived from
// the domain rule base. The suffix must decode back to an IP so that
// rules of longer domains sharing the prefix are left alone.
func isAddressRule(base, name string) bool {
	suffix, ok := strings.CutPrefix(name, base+"_")
	if !ok || suffix == "" {
		return false
	}
	if ip := net.ParseIP(strings.ReplaceAll(suffix, "_", ".")); ip != nil && ip.To4() != nil {
		return true
	}
	return net.ParseIP(strings.ReplaceAll(suffix, "_", ":")) != nil
}

// UnsupportedPort fails every call with Err.
type UnsupportedPort struct {
	Err error
}

func (p UnsupportedPort) err() error {
	if p.Err != nil {
		return p.Err
	}
	return ErrUnsupported
}

func (p UnsupportedPort) AddBlockRule(context.Context, string, []string) error { return p.err() }
func (p UnsupportedPort) DeleteRule(context.Context, string) error             { return p.err() }
func (p UnsupportedPort) ListRules(context.Context, string) ([]string, error)  { return nil, p.err() }
