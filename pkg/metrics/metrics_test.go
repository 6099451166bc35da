package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(OrdersSubmitted.WithLabelValues("STOP"))
	OrdersSubmitted.WithLabelValues("STOP").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(OrdersSubmitted.WithLabelValues("STOP")), 1e-9)
}

func TestHandlerExposesOrbitMetrics(t *testing.T) {
	EmergencyFlattens.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "orbit_emergency_flatten_total"))
}
