// Package metrics holds the Prometheus collectors for sign-in and session activity.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal_auth"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Metrics struct {
	LoginAttempts       *prometheus.CounterVec
	MFAVerifications    *prometheus.CounterVec
	BackupCodesConsumed prometheus.Counter
	IdleExpirations     prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Sign-in attempts partitioned by result.",
		}, []string{"result"}),
		MFAVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mfa_verifications_total",
			Help:      "Second factor checks partitioned by method and result.",
		}, []string{"method", "result"}),
		BackupCodesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_codes_consumed_total",
			Help:      "Backup codes redeemed.",
		}),
		IdleExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_expirations_total",
			Help:      "Sessions signed out after sitting idle.",
		}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{m.LoginAttempts, m.MFAVerifications, m.BackupCodesConsumed, m.IdleExpirations} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

func (m *Metrics) RecordLogin(ok bool) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) RecordMFAVerification(method string, ok bool) {
	if m == nil {
		return
	}
	m.MFAVerifications.WithLabelValues(method, result(ok)).Inc()
}

func (m *Metrics) RecordBackupCodeConsumed() {
	if m == nil {
		return
	}
	m.BackupCodesConsumed.Inc()
}

func (m *Metrics) RecordIdleExpiration() {
	if m == nil {
		return
	}
	m.IdleExpirations.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
