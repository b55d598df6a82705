// Package config is responsible for parsing configuration file.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"gopkg.in/yaml.v3"
)

// Configuration errors.
const (
	// ErrEmptyAllowList is returned when no allowed targets are configured.
	ErrEmptyAllowList errors.Error = "allow-list is empty"

	// ErrInvalidAllowListEntry is returned when an allow-list entry is not in
	// the "host:port" form.
	ErrInvalidAllowListEntry errors.Error = "invalid allow-list entry"
)

// File represents a configuration file.  All of its fields are optional.
type File struct {
	// AllowList is the list of destination authorities in the "host:port"
	// form clients are allowed to connect to.  The entries are matched
	// against the CONNECT target exactly.
	AllowList []string `yaml:"allowlist"`

	// Timeouts configures the timeouts of the connection pipeline.
	Timeouts *Timeouts `yaml:"timeouts"`

	// MaxRequestSize is the maximum size of the client's request in bytes.
	MaxRequestSize int `yaml:"max-request-size"`

	// ProxyURL is the optional proxy for upstream connections by the relay.
	// Format of the URL: [protocol://username:password@]host[:port], where
	// protocol is socks5 or http.
	ProxyURL string `yaml:"proxy-url"`

	// UpstreamDNS is the optional address of the DNS upstream used to resolve
	// upstream hostnames, e.g. "tls://dns.google".  If not set, the system
	// resolver is used.
	UpstreamDNS string `yaml:"upstream-dns"`

	// Prometheus
	Prometheus *Prometheus `yaml:"prometheus"`

	// SentryDSN is the DSN errors are reported to.  If not set, errors are not
	// reported.
	SentryDSN string `yaml:"sentry-dsn"`
}

// Timeouts represents the timeouts section of the configuration file.  A
// zero duration disables the corresponding timeout, an unset one keeps the
// default.
type Timeouts struct {
	Handshake *Duration `yaml:"handshake"`
	Read      *Duration `yaml:"read"`
	Dial      *Duration `yaml:"dial"`
	Idle      *Duration `yaml:"idle"`
}

// Prometheus represents the prometheus configuration.
type Prometheus struct {
	// Addr is the address where prometheus metrics are exposed.
	Addr string `yaml:"addr"`

	// Port is the port where prometheus metrics will be exposed.
	Port uint16 `yaml:"port"`
}

// Duration is a time.Duration that is encoded in YAML as a string, e.g.
// "10s".
type Duration struct {
	time.Duration
}

// type check
var _ yaml.Unmarshaler = (*Duration)(nil)

// UnmarshalYAML implements the yaml.Unmarshaler interface for *Duration.
func (d *Duration) UnmarshalYAML(n *yaml.Node) (err error) {
	var s string
	if err = n.Decode(&s); err != nil {
		return err
	}

	d.Duration, err = time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration: %w", err)
	}

	if d.Duration < 0 {
		return fmt.Errorf("negative duration %s", s)
	}

	return nil
}

// Load loads and validates configuration from the specified file.
func Load(path string) (cfg *File, err error) {
	// Ignore G304 here as it's trusted context.
	//nolint:gosec
	b, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg = &File{}
	err = yaml.Unmarshal(b, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	err = validate(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to validate config file: %w", err)
	}

	return cfg, nil
}

func validate(cfg *File) (err error) {
	if cfg.MaxRequestSize < 0 {
		return fmt.Errorf("max-request-size must not be negative: %d", cfg.MaxRequestSize)
	}

	if cfg.Prometheus != nil && cfg.Prometheus.Port == 0 {
		return fmt.Errorf("prometheus.port is required")
	}

	for i, entry := range cfg.AllowList {
		if err = ValidateAuthority(entry); err != nil {
			return fmt.Errorf("allowlist at index %d: %w", i, err)
		}
	}

	return nil
}

// ValidateAuthority returns an error if entry is not a "host:port"
// authority with a non-empty host and a numeric port.
func ValidateAuthority(entry string) (err error) {
	host, port, err := net.SplitHostPort(entry)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidAllowListEntry, entry, err)
	}

	if host == "" {
		return fmt.Errorf("%w %q: empty host", ErrInvalidAllowListEntry, entry)
	}

	if _, err = strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("%w %q: bad port: %w", ErrInvalidAllowListEntry, entry, err)
	}

	return nil
}
