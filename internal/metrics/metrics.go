// Package metrics contains definitions of most of the prometheus metrics
// that we use in connectgate.
//
// TODO(ameshkov): consider not using promauto.
package metrics

import (
	"net/netip"
	"sync"

	"github.com/axiomhq/hyperloglog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// constants with the namespace and the subsystem names that we use in our
// prometheus metrics.
const (
	namespace = "connectgate"

	subsystemApp   = "app"
	subsystemRelay = "relay"
)

// RequestsTotal is the total number of handled connections by their outcome.
var RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystemRelay,
	Name:      "requests_total",
	Help:      "The total number of handled connections by their outcome.",
}, []string{"outcome"})

// TunnelsActive is a gauge with the number of tunnels that are currently
// relaying data.
var TunnelsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: subsystemRelay,
	Name:      "tunnels_active",
	Help:      "The number of tunnels currently relaying data.",
})

// BytesReceivedTotal is a counter that measures the number of bytes received
// from a particular upstream.
var BytesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystemRelay,
	Name:      "bytes_received_total",
	Help:      "The total number of bytes received from the upstream.",
}, []string{"target"})

// BytesSentTotal is a counter that measures the number of bytes sent to a
// particular upstream.
var BytesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: subsystemRelay,
	Name:      "bytes_sent_total",
	Help:      "The total number of bytes sent to the upstream.",
}, []string{"target"})

// TunnelDuration is a histogram with the durations of finished tunnels.
var TunnelDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: subsystemRelay,
	Name:      "tunnel_duration_seconds",
	Help:      "The duration of finished tunnels.",
	Buckets:   []float64{0.1, 1, 10, 60, 300, 900, 3600},
})

// uniqueClients is a gauge with the estimated number of unique client
// addresses.
var uniqueClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: subsystemRelay,
	Name:      "unique_clients",
	Help:      "The estimated number of unique client addresses since start.",
})

var (
	// clientsSketch estimates the cardinality of client addresses.
	clientsSketch = hyperloglog.New()

	// clientsMu protects clientsSketch.
	clientsMu = &sync.Mutex{}
)

// ObserveClient records the client address in the unique clients estimate.
func ObserveClient(addr netip.Addr) {
	b, _ := addr.MarshalBinary()

	clientsMu.Lock()
	defer clientsMu.Unlock()

	if clientsSketch.Insert(b) {
		uniqueClients.Set(float64(clientsSketch.Estimate()))
	}
}

// SetUpGauge signals that the server has been started.  Use a function here to
// avoid circular dependencies.
func SetUpGauge(version, branch, revision, goVersion string) {
	upGauge := promauto.NewGauge(
		prometheus.GaugeOpts{
			Name:      "up",
			Namespace: namespace,
			Subsystem: subsystemApp,
			Help:      `A metric with a constant '1' value labeled by the build information.`,
			ConstLabels: prometheus.Labels{
				"version":   version,
				"branch":    branch,
				"revision":  revision,
				"goversion": goVersion,
			},
		},
	)

	upGauge.Set(1)
}
