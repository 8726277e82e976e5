package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TransportState    *prometheus.GaugeVec
	Reconnects        prometheus.Counter
	FramesReceived    *prometheus.CounterVec
	StoreMutations    *prometheus.CounterVec
	StoreSnapshots    prometheus.Counter
	ProxyRequests     *prometheus.CounterVec
	ProxyDuration     *prometheus.HistogramVec
	HostNotifications prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransportState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "notifclient_transport_state",
				Help: "1 for the current gateway transport state, 0 otherwise",
			},
			[]string{"state"},
		),
		Reconnects: f.NewCounter(
			prometheus.CounterOpts{
				Name: "notifclient_transport_reconnects_total",
				Help: "Total number of scheduled gateway reconnect attempts",
			},
		),
		FramesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifclient_transport_frames_received_total",
				Help: "Total number of inbound gateway frames by type",
			},
			[]string{"type"},
		),
		StoreMutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifclient_store_mutations_total",
				Help: "Total number of user mutations by kind and result",
			},
			[]string{"kind", "result"},
		),
		StoreSnapshots: f.NewCounter(
			prometheus.CounterOpts{
				Name: "notifclient_store_snapshots_total",
				Help: "Total number of snapshots published by the store",
			},
		),
		ProxyRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifclient_proxy_requests_total",
				Help: "Total number of request proxy calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		ProxyDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifclient_proxy_request_duration_seconds",
				Help:    "Duration of request proxy calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		HostNotifications: f.NewCounter(
			prometheus.CounterOpts{
				Name: "notifclient_host_notifications_total",
				Help: "Total number of notifications handed to the host facility",
			},
		),
	}
}

// SetTransportState marks state as the only active transport state.
func (m *Metrics) SetTransportState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.TransportState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) IncFrame(frameType string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(frameType).Inc()
}

func (m *Metrics) IncMutation(kind, result string) {
	if m == nil {
		return
	}
	m.StoreMutations.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncSnapshot() {
	if m == nil {
		return
	}
	m.StoreSnapshots.Inc()
}

// ObserveProxy records one request proxy call.
func (m *Metrics) ObserveProxy(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(op, outcome).Inc()
	m.ProxyDuration.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) IncHostNotification() {
	if m == nil {
		return
	}
	m.HostNotifications.Inc()
}
