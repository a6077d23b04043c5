package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.TradesSettled.Inc()
	a.Opportunities.WithLabelValues("accepted", "profitable").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.TradesSettled))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TradesSettled))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.Opportunities.WithLabelValues("accepted", "profitable")))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := NewMetrics()
	m.BookUpdates.WithLabelValues("binance").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `arbsim_feed_book_updates_total{exchange="binance"} 1`)
}
