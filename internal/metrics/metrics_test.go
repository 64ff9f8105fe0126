package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(Middleware(m, "main"))
	r.Get("/save/{username}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, u := range []string{"/save/alice", "/save/bob"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("main", "GET", "/save/{username}", "418"))
	assert.Equal(t, 2.0, got)
}

func TestRecordProviderCall(t *testing.T) {
	m := New()
	m.RecordProviderCall("DeepInfra", time.Second, nil)
	m.RecordProviderCall("DeepInfra", time.Second, errors.New("boom"))
	m.RecordProviderCall("DeepInfra", time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("DeepInfra", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("DeepInfra", "failure")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("main", "GET", "/", "200", time.Millisecond)
	m.RecordProviderCall("x", time.Millisecond, nil)
	m.RecordSettingsSave(nil)
	m.SetProviderHealth("x", 1)
	m.SetFastAPIRunning(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.RecordSettingsSave(nil)
	m.SetFastAPIRunning(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Contains(t, string(body), `freegpt_settings_saves_total{result="ok"} 1`)
	assert.Contains(t, string(body), "freegpt_fast_api_running 1")
}
