package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryIndependentFromGlobal(t *testing.T) {
	r1 := New()
	r2 := New()
	assert.NotPanics(t, func() {
		r1.HeartbeatsSentTotal.Inc()
		r2.HeartbeatsSentTotal.Inc()
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	r := New()
	r.WorkersByState.WithLabelValues("fft", "ACTIVE").Set(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "tmgr_workers_total")
}
