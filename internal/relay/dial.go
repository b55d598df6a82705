package relay

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// upstreamDialer opens plain TCP connections to authorized targets, either
// directly or through an upstream proxy.
type upstreamDialer struct {
	dialer   proxy.Dialer
	resolver *Resolver
	timeout  time.Duration
}

// newUpstreamDialer creates a new *upstreamDialer.  proxyURL and resolver are
// optional.
func newUpstreamDialer(
	proxyURL *url.URL,
	resolver *Resolver,
	timeout time.Duration,
) (d *upstreamDialer, err error) {
	d = &upstreamDialer{
		dialer:   proxy.Direct,
		resolver: resolver,
		timeout:  timeout,
	}

	if proxyURL != nil {
		d.dialer, err = proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy: %w", err)
		}
	}

	return d, nil
}

// dial connects to target.
func (d *upstreamDialer) dial(ctx context.Context, target string) (conn net.Conn, err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	addr := target
	if d.resolver != nil {
		addr, err = d.resolver.resolveAddr(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamConnect, err)
		}
	}

	if cd, ok := d.dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.dialer.Dial("tcp", addr)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamConnect, addr, err)
	}

	return conn, nil
}
