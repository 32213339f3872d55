package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollection(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.LoginStarted("iauth")
	m.RestoreCompleted("iauth", OutcomeSuccess)
	m.RestoreCompleted("iauth", OutcomeSuccess)
	m.RestoreCompleted("iauth", OutcomeError)
	m.RefreshCompleted("iauth", OutcomeSkipped)
	m.LogoutCompleted("iauth", true)
	m.IdleExpired()
	m.SetAuthenticated(true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginsTotal.WithLabelValues("iauth")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RestoresTotal.WithLabelValues("iauth", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RestoresTotal.WithLabelValues("iauth", OutcomeError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RefreshesTotal.WithLabelValues("iauth", OutcomeSkipped)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LogoutsTotal.WithLabelValues("iauth", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IdleExpirations))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Authenticated))

	m.SetAuthenticated(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Authenticated))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry)
	assert.Panics(t, func() { New(registry) })
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	m.IdleExpired()

	srv := httptest.NewServer(Handler(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "authsession_idle_expirations_total 1")
}

func TestNop(t *testing.T) {
	r := Nop()
	assert.NotPanics(t, func() {
		r.LoginStarted("identidadv1")
		r.RestoreCompleted("identidadv1", OutcomeNone)
		r.RefreshCompleted("identidadv1", OutcomeSuccess)
		r.LogoutCompleted("identidadv1", false)
		r.IdleExpired()
		r.SetAuthenticated(true)
	})
}
