package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestReadiness_NotReadyUntilSet(t *testing.T) {
	h := NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	require.True(t, h.IsReady())
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ready"`)
}

func TestReadiness_FailingProbeDegrades(t *testing.T) {
	h := NewHealthChecker()
	h.SetReady(true)
	h.AddProbe("postgres", func(context.Context) error { return nil })
	h.AddProbe("nats", func(context.Context) error { return errors.New("disconnected") })

	failures := h.Check(context.Background())
	require.Equal(t, map[string]string{"nats": "disconnected"}, failures)

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "disconnected")
}

func TestLiveness_AlwaysOK(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthChecker().LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, ParseLogLevel("DEBUG"))
	require.Equal(t, zerolog.WarnLevel, ParseLogLevel("warning"))
	require.Equal(t, zerolog.InfoLevel, ParseLogLevel(""))
	require.Equal(t, zerolog.InfoLevel, ParseLogLevel("verbose"))
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	m1 := NewMetrics(prometheus.NewRegistry())
	m2 := NewMetrics(prometheus.NewRegistry())

	m1.ProjectionDrops.Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(m1.ProjectionDrops))
	require.Equal(t, float64(0), testutil.ToFloat64(m2.ProjectionDrops))

	m1.SetChannelMetrics("persist", 5, 10)
	require.Equal(t, 0.5, testutil.ToFloat64(m1.ChannelUtilization.WithLabelValues("persist")))
}
