package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the show-control node.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        *prometheus.CounterVec
	errorsTotal          *prometheus.CounterVec
	commandsTotal        *prometheus.CounterVec
	backupWritesTotal    *prometheus.CounterVec
	recoveredChannels    prometheus.Gauge
	definedChannels      prometheus.Gauge
	notificationsDropped prometheus.Counter
}

// New creates and registers Prometheus metrics for the node.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_http_requests_total",
		Help: "Total number of HTTP requests received, by route",
	}, []string{"route"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx), by route",
	}, []string{"route"})
	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_commands_total",
		Help: "Commands processed by the dispatcher, by command and result",
	}, []string{"command", "result"})
	backupWritesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_backup_writes_total",
		Help: "Backup store writes, by key kind and result",
	}, []string{"key", "result"})
	recoveredChannels := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apollo_recovered_channels",
		Help: "Number of playback entries replayed at the last startup",
	})
	definedChannels := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apollo_defined_channels",
		Help: "Number of channels currently defined",
	})
	notificationsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apollo_notifications_dropped_total",
		Help: "Display notifications dropped because a consumer queue was full",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		commandsTotal,
		backupWritesTotal,
		recoveredChannels,
		definedChannels,
		notificationsDropped,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
		commandsTotal:        commandsTotal,
		backupWritesTotal:    backupWritesTotal,
		recoveredChannels:    recoveredChannels,
		definedChannels:      definedChannels,
		notificationsDropped: notificationsDropped,
	}
}

// IncRequests increments the request counter of route.
func (m *Metrics) IncRequests(route string) {
	m.requestsTotal.WithLabelValues(route).Inc()
}

// IncErrors increments the error counter of route.
func (m *Metrics) IncErrors(route string) {
	m.errorsTotal.WithLabelValues(route).Inc()
}

// ObserveCommand counts one processed command. result is "ok" or "rejected".
func (m *Metrics) ObserveCommand(command, result string) {
	m.commandsTotal.WithLabelValues(command, result).Inc()
}

// ObserveBackupWrite counts one backup write. result is "ok" or "error".
func (m *Metrics) ObserveBackupWrite(key, result string) {
	m.backupWritesTotal.WithLabelValues(key, result).Inc()
}

// SetRecoveredChannels sets the recovered channels gauge.
func (m *Metrics) SetRecoveredChannels(n int) {
	m.recoveredChannels.Set(float64(n))
}

// SetDefinedChannels sets the defined channels gauge.
func (m *Metrics) SetDefinedChannels(n int) {
	m.definedChannels.Set(float64(n))
}

// IncNotificationsDropped increments the dropped notifications counter.
func (m *Metrics) IncNotificationsDropped() {
	m.notificationsDropped.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
