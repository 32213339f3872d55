// Package metrics records session lifecycle events as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeNone    = "none"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Recorder receives lifecycle events from the session controller, the
// refresh scheduler and the idle monitor.
type Recorder interface {
	LoginStarted(provider string)
	RestoreCompleted(provider, outcome string)
	RefreshCompleted(provider, outcome string)
	LogoutCompleted(provider string, expired bool)
	IdleExpired()
	SetAuthenticated(authenticated bool)
}

// Metrics is the Prometheus Recorder.
type Metrics struct {
	LoginsTotal     *prometheus.CounterVec
	RestoresTotal   *prometheus.CounterVec
	RefreshesTotal  *prometheus.CounterVec
	LogoutsTotal    *prometheus.CounterVec
	IdleExpirations prometheus.Counter
	Authenticated   prometheus.Gauge
}

var _ Recorder = (*Metrics)(nil)

// New registers the session metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsession_logins_total",
				Help: "Total number of login redirects started",
			},
			[]string{"provider"},
		),
		RestoresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsession_restores_total",
				Help: "Total number of session restore attempts",
			},
			[]string{"provider", "outcome"}, // "success", "none", "error", "skipped"
		),
		RefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsession_refreshes_total",
				Help: "Total number of scheduled token refreshes",
			},
			[]string{"provider", "outcome"},
		),
		LogoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsession_logouts_total",
				Help: "Total number of logouts",
			},
			[]string{"provider", "expired"},
		),
		IdleExpirations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "authsession_idle_expirations_total",
				Help: "Total number of idle timeouts",
			},
		),
		Authenticated: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "authsession_authenticated",
				Help: "1 while a session is authenticated",
			},
		),
	}
}

func (m *Metrics) LoginStarted(provider string) {
	m.LoginsTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) RestoreCompleted(provider, outcome string) {
	m.RestoresTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RefreshCompleted(provider, outcome string) {
	m.RefreshesTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) LogoutCompleted(provider string, expired bool) {
	m.LogoutsTotal.WithLabelValues(provider, strconv.FormatBool(expired)).Inc()
}

func (m *Metrics) IdleExpired() {
	m.IdleExpirations.Inc()
}

func (m *Metrics) SetAuthenticated(authenticated bool) {
	if authenticated {
		m.Authenticated.Set(1)
		return
	}
	m.Authenticated.Set(0)
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type nop struct{}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nop{} }

func (nop) LoginStarted(string)            {}
func (nop) RestoreCompleted(string, string) {}
func (nop) RefreshCompleted(string, string) {}
func (nop) LogoutCompleted(string, bool)    {}
func (nop) IdleExpired()                    {}
func (nop) SetAuthenticated(bool)           {}
