package cmd

import (
	"fmt"

	"github.com/caarlos0/env/v7"
)

// environments are the settings of connectgate that come from the
// environment rather than from the command line.
type environments struct {
	// SentryDSN enables error reporting.  It overrides sentry-dsn from the
	// configuration file.
	SentryDSN string `env:"SENTRY_DSN"`

	// LogFile is the path to the log file.  The file is reopened on SIGHUP.
	LogFile string `env:"LOGFILE"`

	LogVerbose strictBool `env:"VERBOSE" envDefault:"0"`
}

// readEnvs parses the environment variables into environments.
func readEnvs() (envs *environments, err error) {
	envs = &environments{}
	if err = env.Parse(envs); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	return envs, nil
}

// strictBool is a type for booleans that are parsed from the environment more
// strictly than the usual bool.  It only accepts "0" and "1" as valid values.
type strictBool bool

// UnmarshalText implements the encoding.TextUnmarshaler interface for
// *strictBool.
func (sb *strictBool) UnmarshalText(b []byte) (err error) {
	const (
		strictBoolFalse = '0'
		strictBoolTrue  = '1'
	)

	if len(b) == 1 {
		switch b[0] {
		case strictBoolFalse:
			*sb = false

			return nil
		case strictBoolTrue:
			*sb = true

			return nil
		default:
			// Go on and return an error.
		}
	}

	return fmt.Errorf("invalid value %q, supported: %q, %q", b, strictBoolFalse, strictBoolTrue)
}
