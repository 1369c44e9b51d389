package dns

import (
	"context"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/gajzzs/clusterbanned/internal/directory"
)

const (
	fallbackServer = "1.1.1.1:53"
	resolvConf     = "/etc/resolv.conf"
)

// Resolver looks up cluster addresses to refresh the directory's IP lists.
type Resolver struct {
	client *dns.Client
	server string
	limit  int
}

// NewResolver queries server ("host:port"). An empty server means the
// first nameserver of /etc/resolv.conf, or a public resolver.
func NewResolver(server string) *Resolver {
	if server == "" {
		server = systemServer()
	}
	return &Resolver{
		client: &dns.Client{
			Net:     "udp",
			Timeout: 3 * time.Second,
		},
		server: server,
		limit:  8,
	}
}

func systemServer() string {
	cfg, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(cfg.Servers) == 0 {
		return fallbackServer
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

func (r *Resolver) Server() string {
	return r.server
}

// Lookup returns the sorted A and AAAA addresses of domain.
func (r *Resolver) Lookup(ctx context.Context, domain string) ([]string, error) {
	seen := make(map[string]bool)
	var ips []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(domain), qtype)
		m.RecursionDesired = true

		in, _, err := r.client.ExchangeContext(ctx, m, r.server)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", domain, err)
		}
		if in.Rcode != dns.RcodeSuccess {
			if in.Rcode == dns.RcodeNameError {
				return nil, fmt.Errorf("lookup %s: no such host", domain)
			}
			return nil, fmt.Errorf("lookup %s: %s", domain, dns.RcodeToString[in.Rcode])
		}
		for _, rr := range in.Answer {
			var ip string
			switch a := rr.(type) {
			case *dns.A:
				ip = a.A.String()
			case *dns.AAAA:
				ip = a.AAAA.String()
			default:
				continue
			}
			if !seen[ip] {
				seen[ip] = true
				ips = append(ips, ip)
			}
		}
	}
	sort.Strings(ips)
	return ips, nil
}

type Summary struct {
	Resolved int
	Failed   int
	Errors   []string
}

// Refresh resolves every cluster domain in d concurrently and replaces its
// IP list. Clusters whose lookup fails or returns nothing keep their old
// addresses.
func (r *Resolver) Refresh(ctx context.Context, d *directory.Directory) (Summary, error) {
	return r.refresh(ctx, d, func(string, *directory.Cluster) bool { return true })
}

// ResolveMissing fills in only the clusters of regionID that have no
// addresses yet.
func (r *Resolver) ResolveMissing(ctx context.Context, d *directory.Directory, regionID string) (Summary, error) {
	return r.refresh(ctx, d, func(region string, c *directory.Cluster) bool {
		return region == regionID && len(c.IPs) == 0
	})
}

func (r *Resolver) refresh(ctx context.Context, d *directory.Directory, want func(string, *directory.Cluster) bool) (Summary, error) {
	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	for ri := range d.Regions {
		for ci := range d.Regions[ri].Clusters {
			c := &d.Regions[ri].Clusters[ci]
			if c.Domain == "" || !want(d.Regions[ri].ID, c) {
				continue
			}
			g.Go(func() error {
				ips, err := r.Lookup(gctx, c.Domain)
				if err == nil && len(ips) == 0 {
					err = fmt.Errorf("lookup %s: no addresses", c.Domain)
				}

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					log.Printf("dns: %v", err)
					sum.Failed++
					sum.Errors = append(sum.Errors, err.Error())
					return nil
				}
				c.IPs = ips
				sum.Resolved++
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	sort.Strings(sum.Errors)
	return sum, ctx.Err()
}
