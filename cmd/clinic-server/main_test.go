package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niceverygood/maria-reservation-sub000/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                  "development",
		LogLevel:             "error",
		StoreBackend:         "memory",
		CacheBackend:         "memory",
		BroadcastBackend:     "hub",
		ClinicTimezone:       "UTC",
		LeadTimeMinutes:      60,
		AvailabilityCacheTTL: 30 * time.Second,
		RuleCacheTTL:         time.Minute,
		CacheSweepInterval:   time.Minute,
		SummaryHorizonDays:   7,
		WorkerCount:          2,
		WorkerQueueSize:      16,
		BroadcastBuffer:      16,
		InitialBookingStatus: "BOOKED",
		RateLimitRPS:         1000,
		RateLimitBurst:       1000,
		RequestTimeout:       5 * time.Second,
	}
}

type testServer struct {
	t *testing.T
	e *echo.Echo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	a.start(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = a.dispatcher.Stop(stopCtx)
		a.close()
	})
	return &testServer{t: t, e: a.router()}
}

func (s *testServer) do(method, path, body string, out interface{}) int {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil))
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/db", "", nil))
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/metrics", "", nil))
}

func TestServer_BookingFlow(t *testing.T) {
	s := newTestServer(t)
	date := time.Now().UTC().AddDate(0, 0, 7)
	day := date.Format("2006-01-02")

	var doctor struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/doctors", `{"name":"Dr. Kang"}`, &doctor))

	tpl := `{"dayOfWeek":` + strconv.Itoa(int(date.Weekday())) + `,"startTime":"09:00","endTime":"12:00","intervalMinutes":30}`
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/doctors/"+doctor.ID+"/templates", tpl, nil))

	var slots []struct {
		Time      string `json:"time"`
		Available bool   `json:"available"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/doctors/"+doctor.ID+"/slots?date="+day, "", &slots))
	require.Len(t, slots, 6)
	assert.True(t, slots[2].Available)

	booking := `{"doctorId":"` + doctor.ID + `","date":"` + day + `","time":"10:00","patientRef":"patient-1"}`
	var appt struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/bookings", booking, &appt))
	assert.Equal(t, "BOOKED", appt.Status)

	other := strings.Replace(booking, "patient-1", "patient-2", 1)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/v1/bookings", other, nil))

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/doctors/"+doctor.ID+"/slots?date="+day, "", &slots))
	assert.Equal(t, "10:00", slots[2].Time)
	assert.False(t, slots[2].Available, "the cached day is invalidated by the booking")

	var counts map[string]struct {
		Available int            `json:"available"`
		Total     int            `json:"total"`
		ByStatus  map[string]int `json:"byStatus"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/calendar?start="+day+"&end="+day, "", &counts))
	assert.Equal(t, 6, counts[day].Total)
	assert.Equal(t, 5, counts[day].Available)
	assert.Equal(t, 1, counts[day].ByStatus["BOOKED"])

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/bookings/"+appt.ID+"/cancel", "", &appt))
	assert.Equal(t, "CANCELLED", appt.Status)
	assert.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/bookings", other, nil))
}

func TestServer_RejectsUnauthenticatedOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = "secret"
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.close()

	rec := httptest.NewRecorder()
	a.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/doctors", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.LogLevel = "warn"
	assert.Equal(t, zerolog.WarnLevel, newLogger(cfg).GetLevel())

	cfg.LogLevel = "nonsense"
	assert.Equal(t, zerolog.InfoLevel, newLogger(cfg).GetLevel())
}
