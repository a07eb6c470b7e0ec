package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service holds the Prometheus collectors for the sync engine.
type Service struct {
	ConnectionsActive    prometheus.Gauge
	ConnectionsTotal     prometheus.Counter
	AuthRejections       prometheus.Counter
	BroadcastsTotal      *prometheus.CounterVec
	RelayPublishesTotal  prometheus.Counter
	RelayPublishFailures prometheus.Counter
	RelayRetriesTotal    prometheus.Counter
	DiffEmissionsTotal   prometheus.Counter
	FullEmissionsTotal   prometheus.Counter
}

// NewHandler returns an http.Handler serving the given gatherer, defaulting
// to the global one.
func NewHandler(gatherer ...prometheus.Gatherer) http.Handler {
	gath := prometheus.DefaultGatherer
	if len(gatherer) > 0 {
		gath = gatherer[0]
	}
	return promhttp.HandlerFor(gath, promhttp.HandlerOpts{})
}

// NewService creates and registers the collectors. If no registerer is
// provided, the default Prometheus registerer is used.
func NewService(registerer ...prometheus.Registerer) *Service {
	reg := prometheus.DefaultRegisterer
	if len(registerer) > 0 {
		reg = registerer[0]
	}

	s := &Service{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rankstream_connections_active",
			Help: "Number of currently connected clients.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankstream_connections_total",
			Help: "Total number of accepted client connections.",
		}),
		AuthRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankstream_auth_rejections_total",
			Help: "Total number of connections rejected by the auth gate.",
		}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankstream_broadcasts_total",
			Help: "Total number of room broadcasts by event type.",
		}, []string{"event_type"}),
		RelayPublishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankstream_relay_publishes_total",
			Help: "Total number of envelopes published to the message bus.",
		}),
		RelayPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankstream_relay_publish_failures_total",
			Help: "Total number of bus publishes that failed after all retries.",
		}),
		RelayRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankstream_relay_retries_total",
			Help: "Total number of bus publish retry attempts.",
		}),
		DiffEmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankstream_leaderboard_diff_emissions_total",
			Help: "Total number of diff leaderboard updates emitted.",
		}),
		FullEmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankstream_leaderboard_full_emissions_total",
			Help: "Total number of full leaderboard snapshots emitted.",
		}),
	}

	reg.MustRegister(
		s.ConnectionsActive,
		s.ConnectionsTotal,
		s.AuthRejections,
		s.BroadcastsTotal,
		s.RelayPublishesTotal,
		s.RelayPublishFailures,
		s.RelayRetriesTotal,
		s.DiffEmissionsTotal,
		s.FullEmissionsTotal,
	)

	return s
}
