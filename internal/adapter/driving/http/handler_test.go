package httphandler_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/gradewatch/internal/adapter/driving/http"
	"github.com/ericfisherdev/gradewatch/internal/application"
)

// --- Mock implementations ---

type mockStatusSource struct {
	checkErr  error
	report    *application.StatusReport
	statusErr error
	panicMsg  string
}

func (m *mockStatusSource) Check(_ context.Context) error {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.checkErr
}

func (m *mockStatusSource) Status(_ context.Context) (*application.StatusReport, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.report, nil
}

var (
	testTime    = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	testTimeStr = "2026-02-10T12:00:00Z"
)

func setupRouter(src *mockStatusSource) http.Handler {
	h := httphandler.NewHandler(src, slog.Default())
	return httphandler.NewRouter(h, slog.Default())
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		src        *mockStatusSource
		wantStatus int
		wantBody   string
	}{
		{
			name:       "store reachable",
			src:        &mockStatusSource{},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name:       "store down",
			src:        &mockStatusSource{checkErr: application.ErrStore},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(setupRouter(tt.src), http.MethodGet, "/healthz")

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp map[string]any
			decodeJSON(t, rec, &resp)
			assert.Equal(t, tt.wantBody, resp["status"])
			assert.NotEmpty(t, resp["time"])
		})
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name       string
		src        *mockStatusSource
		wantStatus int
		check      func(t *testing.T, resp map[string]any)
	}{
		{
			name: "before first cycle",
			src: &mockStatusSource{report: &application.StatusReport{
				Subjects:      2,
				StaleSubjects: 1,
				CheckedAt:     testTime,
			}},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, float64(2), resp["subjects"])
				assert.Equal(t, float64(1), resp["stale_subjects"])
				assert.Equal(t, testTimeStr, resp["checked_at"])
				assert.Nil(t, resp["last_cycle"])
			},
		},
		{
			name: "with last cycle",
			src: &mockStatusSource{report: &application.StatusReport{
				Subjects:  3,
				CheckedAt: testTime,
				LastCycle: &application.CycleStats{
					ID:        "cycle-1",
					StartedAt: testTime,
					Duration:  1500 * time.Millisecond,
					Subjects:  3,
					Notified:  1,
					Failed:    1,
				},
			}},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, resp map[string]any) {
				cycle, ok := resp["last_cycle"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "cycle-1", cycle["id"])
				assert.Equal(t, testTimeStr, cycle["started_at"])
				assert.Equal(t, float64(1500), cycle["duration_ms"])
				assert.Equal(t, float64(3), cycle["subjects"])
				assert.Equal(t, float64(1), cycle["notified"])
				assert.Equal(t, float64(1), cycle["failed"])
			},
		},
		{
			name:       "store error",
			src:        &mockStatusSource{statusErr: errors.New("db fail")},
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, "internal server error", resp["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(setupRouter(tt.src), http.MethodGet, "/status")

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp map[string]any
			decodeJSON(t, rec, &resp)
			tt.check(t, resp)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(&mockStatusSource{})
	serve(router, http.MethodGet, "/healthz")

	rec := serve(router, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gradewatch_http_requests_total")
}

func TestUnknownRoute(t *testing.T) {
	rec := serve(setupRouter(&mockStatusSource{}), http.MethodGet, "/api/v1/prs")

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "not found", resp["error"])
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(setupRouter(&mockStatusSource{}), http.MethodPost, "/status")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	rec := serve(setupRouter(&mockStatusSource{panicMsg: "boom"}), http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "internal server error", resp["error"])
}
