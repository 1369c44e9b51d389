//go:build linux
// +build linux

package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"syscall"

	"github.com/vishvananda/netlink"

	"github.com/gajzzs/clusterbanned/internal/firewall"
)

// routeProtocol tags our routes so they can be told apart from the
// rest of the routing table.
const routeProtocol = netlink.RouteProtocol(0xcb)

// routePort blocks addresses with blackhole routes. Rule names cannot be
// stored in a route, so each rule is identified by a metric derived from
// its name.
type routePort struct {
	prefix string
}

func newRoutePort(prefix string) *routePort {
	return &routePort{prefix: prefix}
}

func hostNet(s string) (*net.IPNet, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %s", s)
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

func (p *routePort) AddBlockRule(ctx context.Context, name string, ips []string) error {
	metric := ruleMetric(name)
	for _, s := range ips {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst, err := hostNet(s)
		if err != nil {
			return err
		}
		route := &netlink.Route{
			Dst:      dst,
			Type:     syscall.RTN_BLACKHOLE,
			Protocol: routeProtocol,
			Priority: metric,
		}
		if err := netlink.RouteReplace(route); err != nil {
			return fmt.Errorf("failed to add blackhole route for %s: %w", s, err)
		}
	}
	return nil
}

func (p *routePort) routes() ([]netlink.Route, error) {
	filter := &netlink.Route{Protocol: routeProtocol}
	var out []netlink.Route
	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		routes, err := netlink.RouteListFiltered(family, filter, netlink.RT_FILTER_PROTOCOL)
		if err != nil {
			return nil, fmt.Errorf("failed to list routes: %w", err)
		}
		out = append(out, routes...)
	}
	return out, nil
}

func (p *routePort) DeleteRule(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	routes, err := p.routes()
	if err != nil {
		return err
	}
	metric := ruleMetric(name)
	var errs []error
	found := false
	for i := range routes {
		if routes[i].Priority != metric {
			continue
		}
		found = true
		if err := netlink.RouteDel(&routes[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if !found {
		return firewall.ErrRuleNotFound
	}
	return errors.Join(errs...)
}

// ListRules reports one synthetic name per metric in use. Those names are
// accepted by DeleteRule.
func (p *routePort) ListRules(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if prefix != p.prefix {
		return nil, nil
	}
	routes, err := p.routes()
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var metrics []int
	for _, r := range routes {
		if !seen[r.Priority] {
			seen[r.Priority] = true
			metrics = append(metrics, r.Priority)
		}
	}
	sort.Ints(metrics)

	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = metricRuleName(prefix, m)
	}
	return names, nil
}
