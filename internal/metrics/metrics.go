package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics instruments the sync engine. Each process gets its own registry so
// parallel tests never fight over collector registration.
type Metrics struct {
	reg *prometheus.Registry

	EventsApplied   *prometheus.CounterVec
	DecodeErrors    prometheus.Counter
	Reconnects      prometheus.Counter
	SnapshotFetches prometheus.Counter
	ActiveHandles   prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_stream_events_applied_total",
			Help: "Stream events applied to a conversation store, by event type",
		}, []string{"event"}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_stream_decode_errors_total",
			Help: "Malformed stream payloads dropped",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_stream_reconnects_total",
			Help: "Successful stream re-dials after an outage",
		}),
		SnapshotFetches: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_snapshot_fetches_total",
			Help: "History snapshots fetched over REST",
		}),
		ActiveHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_conversations",
			Help: "Conversation handles currently open",
		}),
	}
}

// Handler exposes the registry for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
