package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	Confirmations          *prometheus.CounterVec
	ConfirmationLatency    *prometheus.HistogramVec
	LedgerReplays          *prometheus.CounterVec
	LedgerFingerprintDrift prometheus.Counter
	LedgerSwept            prometheus.Counter
	Verifications          *prometheus.CounterVec
	VerificationLatency    *prometheus.HistogramVec
	RegistrationsIssued    prometheus.Counter
	RegistrationCollisions prometheus.Counter
	Notifications          *prometheus.CounterVec
	NotificationsDropped   prometheus.Counter
	DeferredResolutions    *prometheus.CounterVec
	ProviderCircuitState   prometheus.Gauge
}

// New creates and registers all metrics on reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration on the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confirmgate_confirmations_total",
			Help: "Action confirmations by action type and decision",
		}, []string{"action", "decision"}),
		ConfirmationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "confirmgate_confirmation_duration_seconds",
			Help:    "Time to produce a confirmation decision",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		LedgerReplays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confirmgate_ledger_replays_total",
			Help: "Confirmations answered from the idempotency ledger",
		}, []string{"action"}),
		LedgerFingerprintDrift: f.NewCounter(prometheus.CounterOpts{
			Name: "confirmgate_ledger_fingerprint_mismatch_total",
			Help: "Replays whose payload differs from the first delivery",
		}),
		LedgerSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "confirmgate_ledger_swept_total",
			Help: "Ledger records removed after the retention window",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confirmgate_verifications_total",
			Help: "Identity verification outcomes by role",
		}, []string{"role", "outcome"}),
		VerificationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "confirmgate_verification_duration_seconds",
			Help:    "Identity provider call latency by role",
			Buckets: prometheus.DefBuckets,
		}, []string{"role"}),
		RegistrationsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "confirmgate_registration_numbers_issued_total",
			Help: "Registration numbers newly issued",
		}),
		RegistrationCollisions: f.NewCounter(prometheus.CounterOpts{
			Name: "confirmgate_registration_number_collisions_total",
			Help: "Generated registration numbers already held by another event. Alert on any increase.",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confirmgate_notifications_total",
			Help: "Notification deliveries by result",
		}, []string{"result"}),
		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "confirmgate_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full",
		}),
		DeferredResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confirmgate_deferred_resolutions_total",
			Help: "Deferred confirmations resolved by outcome",
		}, []string{"outcome"}),
		ProviderCircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "confirmgate_provider_circuit_open",
			Help: "Identity provider circuit breaker state (0=closed, 1=open)",
		}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveConfirmation(action, decision string, d time.Duration) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(action, decision).Inc()
	m.ConfirmationLatency.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) IncLedgerReplay(action string) {
	if m == nil {
		return
	}
	m.LedgerReplays.WithLabelValues(action).Inc()
}

func (m *Metrics) IncFingerprintMismatch() {
	if m == nil {
		return
	}
	m.LedgerFingerprintDrift.Inc()
}

func (m *Metrics) AddLedgerSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LedgerSwept.Add(float64(n))
}

func (m *Metrics) ObserveVerification(role, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(role, outcome).Inc()
	m.VerificationLatency.WithLabelValues(role).Observe(d.Seconds())
}

func (m *Metrics) IncRegistrationIssued() {
	if m == nil {
		return
	}
	m.RegistrationsIssued.Inc()
}

func (m *Metrics) IncRegistrationCollision() {
	if m == nil {
		return
	}
	m.RegistrationCollisions.Inc()
}

func (m *Metrics) IncNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) IncNotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

func (m *Metrics) IncDeferredResolution(outcome string) {
	if m == nil {
		return
	}
	m.DeferredResolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetProviderCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.ProviderCircuitState.Set(1)
		return
	}
	m.ProviderCircuitState.Set(0)
}
