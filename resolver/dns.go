// File: resolver/dns.go
// License: Apache-2.0

package resolver

import (
	"context"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
)

// DNS resolves by querying one DNS server directly for A and AAAA records.
type DNS struct {
	// Server is the "host:port" of the DNS server.
	Server string

	// Net is "udp" (default) or "tcp".
	Net string

	Logger  api.Logger
	Metrics *control.Metrics
}

// Resolve behaves like System.Resolve but talks to d.Server.
func (d *DNS) Resolve(ctx context.Context, host, port string, timeout time.Duration) ([]api.Address, error) {
	return resolve(ctx, d.Logger, d.Metrics, d.lookup, host, port, timeout)
}

func (d *DNS) lookup(ctx context.Context, host string) ([]netip.Addr, string, error) {
	network := d.Net
	if network == "" {
		network = "udp"
	}
	client := &dns.Client{Net: network}
	if deadline, ok := ctx.Deadline(); ok {
		client.Timeout = time.Until(deadline)
	}

	var addrs []netip.Addr
	var cname string
	nxdomain := 0
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		query := new(dns.Msg)
		query.SetQuestion(dns.Fqdn(host), qtype)
		query.RecursionDesired = true
		reply, _, err := client.ExchangeContext(ctx, query, d.Server)
		if err != nil {
			return nil, "", err
		}
		switch reply.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			nxdomain++
			continue
		default:
			return nil, "", api.NewError(api.CodeOS, "dns: server failure").
				WithContext("rcode", dns.RcodeToString[reply.Rcode])
		}
		for _, rr := range reply.Answer {
			switch rr := rr.(type) {
			case *dns.A:
				if ip, ok := netip.AddrFromSlice(rr.A); ok {
					addrs = append(addrs, ip.Unmap())
				}
			case *dns.AAAA:
				if ip, ok := netip.AddrFromSlice(rr.AAAA); ok {
					addrs = append(addrs, ip)
				}
			case *dns.CNAME:
				cname = rr.Target
			}
		}
	}
	if len(addrs) == 0 && nxdomain > 0 {
		return nil, "", ErrNoSuchHost
	}
	return addrs, cname, nil
}
