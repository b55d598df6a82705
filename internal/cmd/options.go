package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	goFlags "github.com/jessevdk/go-flags"
)

// Options represents command-line arguments.
type Options struct {
	// BindAddress is the IP address the relay listens to.
	BindAddress string `yaml:"bind-address" long:"bind-address" description:"IP address to listen to." default:"127.0.0.1"`

	// BindPort is the port the relay listens to.
	BindPort uint16 `yaml:"bind-port" long:"bind-port" description:"Port to listen to." default:"8080"`

	// CertPath is the path to the PEM-encoded certificate chain.
	CertPath string `yaml:"cert-path" long:"cert-path" description:"Path to the PEM-encoded certificate chain." default:"MyCertificate.crt"`

	// KeyPath is the path to the PEM-encoded unencrypted private key.
	KeyPath string `yaml:"key-path" long:"key-path" description:"Path to the PEM-encoded RSA or PKCS8 private key." default:"MyKey.key"`

	// ConfigPath specifies path to the configuration file.
	ConfigPath string `yaml:"config-path" short:"c" long:"config-path" description:"Path to the config file (optional)."`

	// AllowList contains additional allowed targets in the host:port form.
	AllowList []string `yaml:"allow" long:"allow" description:"Allowed target in the host:port form, can be specified multiple times."`

	// Verbose defines whether we should write the DEBUG-level log or not.
	Verbose bool `yaml:"verbose" short:"v" long:"verbose" description:"Verbose output (optional)." optional:"yes" optional-value:"true"`
}

// type check
var _ fmt.Stringer = (*Options)(nil)

// String implements the fmt.Stringer interface for *Options.
func (o *Options) String() (str string) {
	b, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Sprintf("Failed to stringify options due to %s", err)
	}

	return string(b)
}

// parseOptions parses args and creates the Options struct.
func parseOptions(args []string) (o *Options, err error) {
	opts := &Options{}
	parser := goFlags.NewParser(opts, goFlags.Default|goFlags.IgnoreUnknown)
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	if len(remainingArgs) > 0 {
		return nil, fmt.Errorf("unknown arguments: %v", remainingArgs)
	}

	return opts, nil
}
