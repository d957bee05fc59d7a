package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	HabitAutoLogs       *prometheus.CounterVec
	DuplicateCommands   prometheus.Counter
	RoutineDuration     prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_routine_sessions",
			Help:      "Number of in-progress routine sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routine_session_events_total",
			Help:      "Routine session events by type.",
		}, []string{"event"}),
		PersistenceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Best-effort writes that failed, by operation.",
		}, []string{"op"}),
		HabitAutoLogs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "habit_auto_logs_total",
			Help:      "Linked habit processing outcomes on step completion.",
		}, []string{"result"}),
		DuplicateCommands: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_commands_total",
			Help:      "Session commands dropped as duplicate interactions.",
		}),
		RoutineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routine_duration_minutes",
			Help:      "Elapsed minutes of completed routine sessions.",
			Buckets:   []float64{5, 10, 15, 20, 30, 45, 60, 90, 120},
		}),
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObservePersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveHabitAutoLog(result string) {
	if m == nil {
		return
	}
	m.HabitAutoLogs.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDuplicateCommand() {
	if m == nil {
		return
	}
	m.DuplicateCommands.Inc()
}

func (m *Metrics) ObserveRoutineDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RoutineDuration.Observe(d.Minutes())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
