package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"slices"
	"time"

	"github.com/AdguardTeam/dnsproxy/upstream"
	"github.com/ameshkov/connectgate/internal/relay"
)

// Listen contains the listener settings given on the command line.
type Listen struct {
	// BindAddress is the IP address the relay listens to.
	BindAddress string

	// BindPort is the port the relay listens to.
	BindPort uint16

	// CertPath is the path to the PEM-encoded certificate chain.
	CertPath string

	// KeyPath is the path to the PEM-encoded private key.
	KeyPath string

	// AllowList contains the allow-list entries given on the command line,
	// they are added to the ones from the configuration file.
	AllowList []string
}

// ToRelayConfig transforms the configuration to the internal relay.Config.  f
// may be nil if no configuration file is used.
func (f *File) ToRelayConfig(l *Listen) (relayCfg *relay.Config, err error) {
	if f == nil {
		f = &File{}
	}

	relayCfg = &relay.Config{
		ListenPort:       l.BindPort,
		MaxRequestSize:   f.MaxRequestSize,
		HandshakeTimeout: relay.DefaultHandshakeTimeout,
		ReadTimeout:      relay.DefaultReadTimeout,
		DialTimeout:      relay.DefaultDialTimeout,
		IdleTimeout:      relay.DefaultIdleTimeout,
	}

	relayCfg.ListenAddr, err = netip.ParseAddr(l.BindAddress)
	if err != nil {
		return nil, fmt.Errorf("parse relay bind address: %w", err)
	}

	cert, err := LoadCertificate(l.CertPath, l.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	relayCfg.TLSConfig = relay.NewTLSConfig(cert)

	relayCfg.AllowList, err = f.allowList(l.AllowList)
	if err != nil {
		return nil, err
	}

	if t := f.Timeouts; t != nil {
		setDuration(&relayCfg.HandshakeTimeout, t.Handshake)
		setDuration(&relayCfg.ReadTimeout, t.Read)
		setDuration(&relayCfg.DialTimeout, t.Dial)
		setDuration(&relayCfg.IdleTimeout, t.Idle)
	}

	if f.ProxyURL != "" {
		relayCfg.ProxyURL, err = url.Parse(f.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse relay proxy url: %w", err)
		}
	}

	if f.UpstreamDNS != "" {
		ups, uErr := upstream.AddressToUpstream(f.UpstreamDNS, &upstream.Options{
			Timeout: relayCfg.DialTimeout,
		})
		if uErr != nil {
			return nil, fmt.Errorf("parse upstream dns: %w", uErr)
		}

		relayCfg.Resolver = relay.NewResolver(ups)
	}

	return relayCfg, nil
}

// allowList merges the allow-list of the file with extra and validates the
// result.
func (f *File) allowList(extra []string) (l *relay.AllowList, err error) {
	for i, entry := range extra {
		if err = ValidateAuthority(entry); err != nil {
			return nil, fmt.Errorf("allow flag at index %d: %w", i, err)
		}
	}

	entries := slices.Concat(f.AllowList, extra)
	if len(entries) == 0 {
		return nil, ErrEmptyAllowList
	}

	return relay.NewAllowList(entries...), nil
}

// setDuration sets *dst to d if d is set.
func setDuration(dst *time.Duration, d *Duration) {
	if d != nil {
		*dst = d.Duration
	}
}
