//go:build !linux && !windows && !darwin
// +build !linux,!windows,!darwin

package platform

import "github.com/gajzzs/clusterbanned/internal/firewall"

func newFirewallPort(backend, prefix string) (firewall.Port, error) {
	return nil, firewall.ErrUnsupported
}
