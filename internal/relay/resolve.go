package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
)

const (
	// minCacheTTL is the minimum time resolved addresses are kept in the
	// cache.
	minCacheTTL = 10 * time.Second

	// cacheCleanupInterval is how often expired cache entries are purged.
	cacheCleanupInterval = 5 * time.Minute
)

// errNoAddresses is returned when the DNS response has no usable addresses.
const errNoAddresses errors.Error = "no addresses"

// Exchanger sends a DNS request and returns the response.  It is implemented
// by upstream.Upstream from dnsproxy.
type Exchanger interface {
	Exchange(req *dns.Msg) (resp *dns.Msg, err error)
}

// Resolver resolves hostnames of upstream targets through a configured DNS
// upstream instead of the system resolver.  IPv4 addresses are preferred,
// IPv6 ones are only used when the host has no IPv4 addresses.  Responses are
// cached for their TTL.
type Resolver struct {
	ups   Exchanger
	cache *cache.Cache
}

// type check
var _ io.Closer = (*Resolver)(nil)

// NewResolver creates a new *Resolver instance that sends queries to ups.
func NewResolver(ups Exchanger) (r *Resolver) {
	return &Resolver{
		ups:   ups,
		cache: cache.New(minCacheTTL, cacheCleanupInterval),
	}
}

// LookupHost looks up the addresses of host.  If host is an IP address, it is
// returned as is.  ctx bounds the time LookupHost waits for the upstream.
func (r *Resolver) LookupHost(ctx context.Context, host string) (ips []netip.Addr, err error) {
	if ip, pErr := netip.ParseAddr(host); pErr == nil {
		return []netip.Addr{ip}, nil
	}

	if v, ok := r.cache.Get(host); ok {
		return v.([]netip.Addr), nil
	}

	var ttl uint32
	for _, qt := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ips, ttl, err = r.lookup(ctx, host, qt)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", host, err)
		}

		if len(ips) > 0 {
			break
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("resolving %s: %w", host, errNoAddresses)
	}

	r.cache.Set(host, ips, max(time.Duration(ttl)*time.Second, minCacheTTL))

	log.Debug("relay: resolved %s to %v, ttl %d", host, ips, ttl)

	return ips, nil
}

// lookup sends a query of type qt for host and returns the addresses from
// the answer along with their minimum TTL.
func (r *Resolver) lookup(
	ctx context.Context,
	host string,
	qt uint16,
) (ips []netip.Addr, ttl uint32, err error) {
	req := &dns.Msg{}
	req.SetQuestion(dns.Fqdn(host), qt)
	req.RecursionDesired = true

	resp, err := r.exchange(ctx, req)
	if err != nil {
		return nil, 0, err
	}

	for _, rr := range resp.Answer {
		var ip net.IP
		switch rr := rr.(type) {
		case *dns.A:
			ip = rr.A.To4()
		case *dns.AAAA:
			ip = rr.AAAA
		default:
			continue
		}

		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}

		ips = append(ips, addr)
		if hdrTTL := rr.Header().Ttl; ttl == 0 || hdrTTL < ttl {
			ttl = hdrTTL
		}
	}

	return ips, ttl, nil
}

// exchange sends req to the upstream and waits for the response until ctx is
// done.  The exchange itself is bounded by the upstream's own timeout.
func (r *Resolver) exchange(ctx context.Context, req *dns.Msg) (resp *dns.Msg, err error) {
	type result struct {
		resp *dns.Msg
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		res := result{}
		res.resp, res.err = r.ups.Exchange(req)
		ch <- res
	}()

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveAddr replaces the host of addr with the first address it resolves
// to.
func (r *Resolver) resolveAddr(ctx context.Context, addr string) (resolved string, err error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}

	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}

	return net.JoinHostPort(ips[0].String(), port), nil
}

// Close implements the io.Closer interface for *Resolver.  It closes the
// upstream if it is closable.
func (r *Resolver) Close() (err error) {
	if c, ok := r.ups.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
