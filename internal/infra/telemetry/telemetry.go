package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the account lifecycle collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	tokensIssued   *prometheus.CounterVec
	tokenChecks    *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	activeSessions prometheus.Gauge
	tokensPurged   prometheus.Counter
	eventFailures  *prometheus.CounterVec
}

// NewMetrics registers lifecycle collectors with reg, reusing collectors that are already registered.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "thermostat_accounts"
	}

	m := &Metrics{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Account tokens issued partitioned by kind.",
		}, []string{"kind"}),
		tokenChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_checks_total",
			Help:      "Token validations partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications partitioned by kind and dispatch result.",
		}, []string{"kind", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts partitioned by outcome.",
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_established",
			Help:      "Sessions established minus sessions ended by this process.",
		}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_purged_total",
			Help:      "Inactive tokens removed by the purge job.",
		}),
		eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_delivery_failures_total",
			Help:      "Account events the brokers rejected, partitioned by topic.",
		}, []string{"topic"}),
	}

	var err error
	if m.tokensIssued, err = RegisterOrReuse(reg, m.tokensIssued); err != nil {
		return nil, err
	}
	if m.tokenChecks, err = RegisterOrReuse(reg, m.tokenChecks); err != nil {
		return nil, err
	}
	if m.notifications, err = RegisterOrReuse(reg, m.notifications); err != nil {
		return nil, err
	}
	if m.logins, err = RegisterOrReuse(reg, m.logins); err != nil {
		return nil, err
	}
	if m.activeSessions, err = RegisterOrReuse(reg, m.activeSessions); err != nil {
		return nil, err
	}
	if m.tokensPurged, err = RegisterOrReuse(reg, m.tokensPurged); err != nil {
		return nil, err
	}
	if m.eventFailures, err = RegisterOrReuse(reg, m.eventFailures); err != nil {
		return nil, err
	}

	return m, nil
}

// RegisterOrReuse registers c, returning the collector already registered under the same descriptor if any.
func RegisterOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) TokenChecked(kind, outcome string) {
	if m == nil {
		return
	}
	m.tokenChecks.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) NotificationDispatched(kind string, err error) {
	if m == nil {
		return
	}
	result := "queued"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionEstablished() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionsEnded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.activeSessions.Sub(float64(n))
}

func (m *Metrics) TokensPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensPurged.Add(float64(n))
}

func (m *Metrics) EventDeliveryFailed(topic string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(topic).Inc()
}
