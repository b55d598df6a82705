// Package cmd is responsible for the program's command-line interface.
package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/ameshkov/connectgate/internal/config"
	"github.com/ameshkov/connectgate/internal/metrics"
	"github.com/ameshkov/connectgate/internal/relay"
	"github.com/ameshkov/connectgate/internal/version"
	"github.com/getsentry/sentry-go"
	goFlags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sentryFlushTimeout is the time to wait for the error reports to be sent
// before exiting.
const sentryFlushTimeout = 2 * time.Second

// Main is the entry point of the program.
func Main() {
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-V") {
		fmt.Printf("connectgate version: %s\n", version.Version())

		os.Exit(0)
	}

	o, err := parseOptions(os.Args[1:])
	var flagErr *goFlags.Error
	if errors.As(err, &flagErr) && flagErr.Type == goFlags.ErrHelp {
		// This is a special case when we exit process here as we received
		// --help.
		os.Exit(0)
	}

	check("parse args", err)

	envs, err := readEnvs()
	check("read environment", err)

	lf, err := setUpLogging(envs)
	check("set up logging", err)

	if o.Verbose {
		log.SetLevel(log.DEBUG)
	}

	log.Debug("cmd: options:\n%s", o)

	var cfg *config.File
	if o.ConfigPath != "" {
		cfg, err = config.Load(o.ConfigPath)
		check("load config file", err)
	}

	initSentry(envs, cfg)

	relayCfg, err := cfg.ToRelayConfig(&config.Listen{
		BindAddress: o.BindAddress,
		BindPort:    o.BindPort,
		CertPath:    o.CertPath,
		KeyPath:     o.KeyPath,
		AllowList:   o.AllowList,
	})
	check("parse relay config", err)

	log.Info("cmd: %d allowed targets", relayCfg.AllowList.Len())

	relaySrv, err := relay.NewServer(relayCfg)
	check("init relay server", err)

	err = relaySrv.Start()
	check("start relay server", err)

	metrics.SetUpGauge(version.Version(), "", "", runtime.Version())

	if cfg != nil && cfg.Prometheus != nil {
		go serveMetrics(cfg.Prometheus.Addr, cfg.Prometheus.Port)
	}

	sigHandler := newSignalHandler(lf, relaySrv)
	status := sigHandler.handle()

	sentry.Flush(sentryFlushTimeout)

	os.Exit(status)
}

// check exits the process with an error status if err is not nil.
func check(operationName string, err error) {
	if err != nil {
		log.Error("failed to %s: %v", operationName, err)

		reportError(err)
		sentry.Flush(sentryFlushTimeout)

		os.Exit(statusError)
	}
}

// initSentry initializes error reporting if the DSN is set in the environment
// or in the configuration file.  The environment takes precedence.
func initSentry(envs *environments, cfg *config.File) {
	dsn := envs.SentryDSN
	if dsn == "" && cfg != nil {
		dsn = cfg.SentryDSN
	}

	if dsn == "" {
		return
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: version.Version(),
	})
	if err != nil {
		// Error reporting is not essential, go on without it.
		log.Error("cmd: initializing sentry: %v", err)

		return
	}

	log.Info("cmd: error reporting enabled")
}

// reportError sends err to the error reporting service if it is configured.
func reportError(err error) {
	sentry.CaptureException(err)
}

// serveMetrics starts the HTTP server with the prometheus metrics and the
// health check.
func serveMetrics(listenAddr string, port uint16) {
	metricsAddr := netutil.JoinHostPort(listenAddr, port)
	log.Info("Starting metrics at %s", metricsAddr)

	mux := &http.ServeMux{}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health-check", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "OK")
	})

	srv := &http.Server{
		Addr:         metricsAddr,
		Handler:      mux,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}

	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Metrics failed to listen to %s: %v", metricsAddr, err)
	}
}
