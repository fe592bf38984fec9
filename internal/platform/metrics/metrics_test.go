package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordBookingOutcome("create", "ok")
	c.RecordCacheRequest(true)
	c.RecordSummaryRebuild("horizon", time.Second, 3)
	c.RecordBroadcast("NEW_BOOKING")
	c.RecordBroadcastDrop()
	c.RecordWorkerTask("summary", "ok")
}

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.RecordBookingOutcome("create", "ok")
	c.RecordBookingOutcome("create", "SLOT_TAKEN")
	c.RecordBookingOutcome("create", "SLOT_TAKEN")
	c.RecordCacheRequest(true)
	c.RecordCacheRequest(false)
	c.RecordCacheRequest(false)
	c.RecordSummaryRebuild("one", 10*time.Millisecond, 1)
	c.RecordSummaryRebuild("horizon", time.Second, 40)
	c.RecordBroadcastDrop()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.bookingResults.WithLabelValues("create", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.bookingResults.WithLabelValues("create", "SLOT_TAKEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues("miss")))
	assert.Equal(t, 41.0, testutil.ToFloat64(c.cellsUpdated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.broadcastDrops))
}

func TestCollector_MiddlewareAndHandler(t *testing.T) {
	c := New()
	e := echo.New()
	e.Use(c.Middleware())
	e.GET("/api/v1/doctors/:id/slots", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, []string{})
	})
	e.GET("/metrics", echo.WrapHandler(c.Handler()))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/doctors/"+id+"/slots", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(
		c.httpRequests.WithLabelValues(http.MethodGet, "/api/v1/doctors/:id/slots", "200")))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
