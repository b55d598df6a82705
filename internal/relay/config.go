package relay

import (
	"crypto/tls"
	"net/netip"
	"net/url"
	"time"
)

// Default timeouts of the connection pipeline.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 10 * time.Second
	DefaultDialTimeout      = 10 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
)

// Config represents the relay server configuration.
type Config struct {
	// ListenAddr is the address the relay server will listen to.
	ListenAddr netip.Addr

	// ListenPort is the port the relay server expects to receive TLS
	// connections to.  If 0, a random port is chosen.
	ListenPort uint16

	// TLSConfig is the configuration used to terminate client connections.
	// Must not be nil.
	TLSConfig *tls.Config

	// AllowList is the set of destination authorities clients may request a
	// tunnel to.  Every other target is forbidden.
	AllowList *AllowList

	// ProxyURL is the proxy server address for upstream connections
	// (optional).
	ProxyURL *url.URL

	// Resolver resolves hostnames of upstream targets (optional).  If nil,
	// the system resolver is used.
	Resolver *Resolver

	// MaxRequestSize is the maximum size of the client's request.  If 0,
	// [DefaultMaxRequestSize] is used.
	MaxRequestSize int

	// HandshakeTimeout limits the TLS handshake.  0 means no limit.
	HandshakeTimeout time.Duration

	// ReadTimeout limits reading the request.  0 means no limit.
	ReadTimeout time.Duration

	// DialTimeout limits connecting to the upstream.  0 means no limit.
	DialTimeout time.Duration

	// IdleTimeout closes the tunnel when no data is transferred in either
	// direction for that long.  0 means no limit.
	IdleTimeout time.Duration
}
