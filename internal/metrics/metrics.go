package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. A nil *Metrics is safe to use so
// tests can pass nil without registering collectors.
type Metrics struct {
	OTPGenerated   *prometheus.CounterVec
	OTPRateLimited prometheus.Counter
	OTPFailures    prometheus.Counter
	Logins         *prometheus.CounterVec
	Lockouts       *prometheus.CounterVec
	Registrations  *prometheus.CounterVec
}

func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		OTPGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_otp_generated_total",
				Help: "OTP codes generated and dispatched",
			},
			[]string{"scope"},
		),
		OTPRateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_otp_rate_limited_total",
				Help: "OTP requests rejected by the per-phone rate limit",
			},
		),
		OTPFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_otp_verify_failures_total",
				Help: "OTP verification attempts that did not match",
			},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_logins_total",
				Help: "Successful logins",
			},
			[]string{"actor"},
		),
		Lockouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_lockouts_total",
				Help: "Accounts locked after repeated failures",
			},
			[]string{"actor"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_registrations_total",
				Help: "Completed registrations",
			},
			[]string{"actor"},
		),
	}
	registry.MustRegister(
		m.OTPGenerated,
		m.OTPRateLimited,
		m.OTPFailures,
		m.Logins,
		m.Lockouts,
		m.Registrations,
	)
	return m
}

func (m *Metrics) IncOTPGenerated(scope string) {
	if m == nil {
		return
	}
	m.OTPGenerated.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncOTPRateLimited() {
	if m == nil {
		return
	}
	m.OTPRateLimited.Inc()
}

func (m *Metrics) IncOTPFailure() {
	if m == nil {
		return
	}
	m.OTPFailures.Inc()
}

func (m *Metrics) IncLogin(actor string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(actor).Inc()
}

func (m *Metrics) IncLockout(actor string) {
	if m == nil {
		return
	}
	m.Lockouts.WithLabelValues(actor).Inc()
}

func (m *Metrics) IncRegistration(actor string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(actor).Inc()
}
