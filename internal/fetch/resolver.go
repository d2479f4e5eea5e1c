package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// Resolver returns every address a connection to host could land on, as raw strings.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// SystemResolver resolves through the operating system's resolver configuration.
type SystemResolver struct {
	Resolver *net.Resolver
}

func (r SystemResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	resolver := r.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return resolver.LookupHost(ctx, host)
}

// DNSResolver queries upstream DNS servers directly for A and AAAA records, bypassing /etc/hosts.
type DNSResolver struct {
	Servers []string
	Timeout time.Duration
	Client  *dns.Client
}

// NewDNSResolver builds a resolver for the given servers. Entries without a port default to 53.
func NewDNSResolver(servers []string, timeout time.Duration) (*DNSResolver, error) {
	if len(servers) == 0 {
		return nil, errors.New("dns resolver requires at least one server")
	}
	normalized := make([]string, 0, len(servers))
	for _, server := range servers {
		server = strings.TrimSpace(server)
		if server == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
		}
		normalized = append(normalized, server)
	}
	if len(normalized) == 0 {
		return nil, errors.New("dns resolver requires at least one server")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{
		Servers: normalized,
		Timeout: timeout,
		Client:  &dns.Client{Timeout: timeout},
	}, nil
}

// LookupHost asks for A and AAAA concurrently. A failure of either query fails the whole lookup.
func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if _, err := netip.ParseAddr(host); err == nil {
		return []string{host}, nil
	}

	var v4, v6 []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addrs, err := r.query(gctx, host, dns.TypeA)
		v4 = addrs
		return err
	})
	g.Go(func() error {
		addrs, err := r.query(gctx, host, dns.TypeAAAA)
		v6 = addrs
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	addrs := append(v4, v6...)
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]string, error) {
	client := r.Client
	if client == nil {
		client = &dns.Client{Timeout: r.Timeout}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.Servers {
		in, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = fmt.Errorf("query %s %s via %s: %w", dns.TypeToString[qtype], host, server, err)
			continue
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, &net.DNSError{Err: "no such host", Name: host, Server: server, IsNotFound: true}
		default:
			lastErr = fmt.Errorf("query %s %s via %s: rcode %s", dns.TypeToString[qtype], host, server, dns.RcodeToString[in.Rcode])
			continue
		}

		var addrs []string
		for _, rr := range in.Answer {
			switch record := rr.(type) {
			case *dns.A:
				addrs = append(addrs, record.A.String())
			case *dns.AAAA:
				addrs = append(addrs, record.AAAA.String())
			}
		}
		return addrs, nil
	}
	return nil, lastErr
}
