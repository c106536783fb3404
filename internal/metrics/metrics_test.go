package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRegistration("initial_registration")
		m.RecordSecretMismatch("register")
		m.RecordRotation("rotated")
		m.RecordDemotions("session", 2)
		m.SetActive(1, 1)
		m.ObserveRequest("GET", "/health", "200", 0.1)
	})
}

func TestRecordAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordRegistration("initial_registration")
	m.RecordRegistration("initial_registration")
	m.RecordSecretMismatch("heartbeat")
	m.SetActive(3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues("initial_registration")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSessions))

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(body), "silo_config_secret_mismatches_total")

	_, err = New(reg)
	assert.Error(t, err, "registering twice must fail")
}
