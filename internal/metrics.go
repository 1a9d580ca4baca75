package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lanchat/internal/models"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry        *prometheus.Registry
	activeConns     prometheus.Gauge
	messages        *prometheus.CounterVec
	deleted         prometheus.Counter
	expired         prometheus.Counter
	blobsRemoved    prometheus.Counter
	persistFailures prometheus.Counter
	degraded        prometheus.Gauge
	uploads         *prometheus.CounterVec
	uploadedBytes   prometheus.Counter
	droppedClients  prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanchat_active_connections",
			Help: "Open websocket connections.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanchat_messages_total",
			Help: "Messages appended to history by type.",
		}, []string{"type"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanchat_messages_deleted_total",
			Help: "Messages removed on request.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanchat_messages_expired_total",
			Help: "Messages removed by the expiry sweep.",
		}),
		blobsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanchat_blobs_removed_total",
			Help: "Uploaded files deleted together with their messages.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanchat_persist_failures_total",
			Help: "Failed history saves.",
		}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanchat_degraded",
			Help: "1 while the in-memory history is ahead of the durable copy.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanchat_upload_sessions_total",
			Help: "Upload session transitions by state.",
		}, []string{"state"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanchat_uploaded_bytes_total",
			Help: "Bytes accepted by POST /upload.",
		}),
		droppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanchat_dropped_clients_total",
			Help: "Connections dropped because their send queue was full.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeConns,
		m.messages,
		m.deleted,
		m.expired,
		m.blobsRemoved,
		m.persistFailures,
		m.degraded,
		m.uploads,
		m.uploadedBytes,
		m.droppedClients,
	)
	return m
}

func (m *Metrics) IncConn() {
	m.activeConns.Inc()
}

func (m *Metrics) DecConn() {
	m.activeConns.Dec()
}

func (m *Metrics) IncMessage(t models.MessageType) {
	label := string(t)
	if t == models.TypeText {
		label = "text"
	}
	m.messages.WithLabelValues(label).Inc()
}

func (m *Metrics) IncDeleted() {
	m.deleted.Inc()
}

func (m *Metrics) AddExpired(n int) {
	m.expired.Add(float64(n))
}

func (m *Metrics) IncBlobRemoved() {
	m.blobsRemoved.Inc()
}

func (m *Metrics) IncPersistFailure() {
	m.persistFailures.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.degraded.Set(1)
		return
	}
	m.degraded.Set(0)
}

func (m *Metrics) IncUpload(state UploadState) {
	m.uploads.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) AddUploadedBytes(n int64) {
	m.uploadedBytes.Add(float64(n))
}

func (m *Metrics) IncDroppedClient() {
	m.droppedClients.Inc()
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
