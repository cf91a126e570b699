package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-service/internal/cfg"
	"churn-service/internal/dashboard"
	"churn-service/internal/features"
	"churn-service/internal/metrics"
	"churn-service/internal/ml"
	"churn-service/internal/storage"
)

func testSettings() cfg.Settings {
	return cfg.Settings{
		Port:           8000,
		AllowedOrigins: []string{"*"},
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		PredictTimeout: time.Second,
		MaxBodyBytes:   1 << 20,
	}
}

func fixturePredictor(t *testing.T) *ml.Predictor {
	t.Helper()
	set, err := ml.LoadArtifacts(filepath.Join("..", "ml", "testdata"), ml.ArtifactNames{
		Model:    "churn_model.json",
		Scaler:   "scaler.json",
		Features: "features.json",
	})
	require.NoError(t, err)
	p, err := ml.NewPredictor(set, nil)
	require.NoError(t, err)
	return p
}

type memoryAudit struct {
	mu   sync.Mutex
	recs []storage.PredictionRecord
	err  error
}

func (m *memoryAudit) StorePrediction(rec storage.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return m.err
}

func (m *memoryAudit) GetPredictions(start, end time.Time) ([]storage.PredictionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.PredictionRecord
	for _, rec := range m.recs {
		if !rec.Timestamp.Before(start) && !rec.Timestamp.After(end) {
			out = append(out, rec)
		}
	}
	return out, m.err
}

type stubPredictor struct {
	err   error
	panic bool
}

func (s stubPredictor) Predict(context.Context, features.CustomerInput) (ml.Prediction, error) {
	if s.panic {
		panic("boom")
	}
	return ml.Prediction{}, s.err
}

func (s stubPredictor) Info() ml.ModelInfo { return ml.ModelInfo{} }

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(testSettings(), fixturePredictor(t))

	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","message":"API is running"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestPredict(t *testing.T) {
	h := New(testSettings(), fixturePredictor(t)).Handler()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "all zero request",
			body:       `{"tenure":0,"MonthlyCharges":0,"TotalCharges":0,"Contract_One_year":0,"Contract_Two_year":0,"InternetService_Fiber_optic":0,"OnlineSecurity_Yes":0,"TechSupport_Yes":0}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"churn_probability":0.859,"risk_level":"High","churn_prediction":"Yes"}`,
		},
		{
			name:       "missing fields default to zero",
			body:       `{}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"churn_probability":0.859,"risk_level":"High","churn_prediction":"Yes"}`,
		},
		{
			name:       "unknown fields are ignored",
			body:       `{"tenure":72,"gender":"Female","PaymentMethod":"Mailed check"}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"churn_probability":0.244,"risk_level":"Low","churn_prediction":"No"}`,
		},
		{
			name:       "medium band",
			body:       `{"tenure":32,"MonthlyCharges":70.5,"TotalCharges":2256}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"churn_probability":0.622,"risk_level":"Medium","churn_prediction":"Yes"}`,
		},
		{
			name:       "malformed json",
			body:       `{"tenure":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			body:       ``,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "trailing data",
			body:       `{"tenure":1}{"tenure":2}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "string for int",
			body:       `{"tenure":"twelve"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "fraction for int",
			body:       `{"Contract_One_year":0.5}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "array body",
			body:       `[1]`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"detail":"request body must be a JSON object"}`,
		},
		{
			name:       "string body",
			body:       `"x"`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"detail":"request body must be a JSON object"}`,
		},
		{
			name:       "bool for int",
			body:       `{"TechSupport_Yes":true}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "object for float",
			body:       `{"MonthlyCharges":{"value":1}}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/predict", tt.body, "Content-Type", "application/json")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
				return
			}
			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
			assert.NotEmpty(t, errResp.Detail)
		})
	}
}

func TestPredict_TypeMismatchNamesField(t *testing.T) {
	h := New(testSettings(), fixturePredictor(t)).Handler()

	rec := do(t, h, http.MethodPost, "/predict", `{"tenure":"twelve"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenure")
}

func TestPredict_WholeFloatForInt(t *testing.T) {
	h := New(testSettings(), fixturePredictor(t)).Handler()

	asInt := do(t, h, http.MethodPost, "/predict", `{"tenure":72}`)
	require.Equal(t, http.StatusOK, asInt.Code)

	for _, body := range []string{`{"tenure":72.0}`, `{"tenure":7.2e1}`} {
		rec := do(t, h, http.MethodPost, "/predict", body)
		require.Equal(t, http.StatusOK, rec.Code, body)
		assert.JSONEq(t, asInt.Body.String(), rec.Body.String(), body)
	}
}

func TestPredict_BodyTooLarge(t *testing.T) {
	settings := testSettings()
	settings.MaxBodyBytes = 64
	h := New(settings, fixturePredictor(t)).Handler()

	body := `{"tenure":1,"padding":"` + strings.Repeat("x", 200) + `"}`
	rec := do(t, h, http.MethodPost, "/predict", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredict_WrongMethod(t *testing.T) {
	h := New(testSettings(), fixturePredictor(t)).Handler()

	rec := do(t, h, http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPredict_PredictorFailure(t *testing.T) {
	h := New(testSettings(), stubPredictor{err: errors.New("scaler exploded")}).Handler()

	rec := do(t, h, http.MethodPost, "/predict", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "scaler exploded")

	h = New(testSettings(), stubPredictor{err: context.DeadlineExceeded}).Handler()
	rec = do(t, h, http.MethodPost, "/predict", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecovery(t *testing.T) {
	h := New(testSettings(), stubPredictor{panic: true}).Handler()

	rec := do(t, h, http.MethodPost, "/predict", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"internal server error"}`, rec.Body.String())
}

func TestPredict_AuditTrail(t *testing.T) {
	audit := &memoryAudit{}
	h := New(testSettings(), fixturePredictor(t), WithAuditStore(audit)).Handler()

	rec := do(t, h, http.MethodPost, "/predict", `{"tenure":72}`, RequestIDHeader, "req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))

	require.Len(t, audit.recs, 1)
	assert.Equal(t, "req-1", audit.recs[0].ID)
	assert.Equal(t, 72, audit.recs[0].Input.Tenure)
	assert.Equal(t, "Low", audit.recs[0].RiskLevel)

	// A failing store does not fail the request.
	audit.err = errors.New("disk full")
	rec = do(t, h, http.MethodPost, "/predict", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPredictions_ReadsAuditTrail(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	h := New(testSettings(), fixturePredictor(t), WithAuditStore(store)).Handler()

	for _, id := range []string{"req-a", "req-b"} {
		rec := do(t, h, http.MethodPost, "/predict", `{"tenure":72}`, RequestIDHeader, id)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/predictions", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp PredictionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "req-a", resp.Predictions[0].ID)
	assert.Equal(t, "req-b", resp.Predictions[1].ID)
	assert.Equal(t, 72, resp.Predictions[0].Input.Tenure)
	assert.Equal(t, 0.244, resp.Predictions[0].Probability)
	assert.Equal(t, 24*time.Hour, resp.End.Sub(resp.Start))

	past := "/predictions?start=2020-01-01T00:00:00Z&end=2020-01-02T00:00:00Z"
	rec = do(t, h, http.MethodGet, past, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"predictions":[]`)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestPredictions_BadRange(t *testing.T) {
	h := New(testSettings(), fixturePredictor(t), WithAuditStore(&memoryAudit{})).Handler()

	for _, target := range []string{
		"/predictions?start=yesterday",
		"/predictions?end=2024-13-01",
		"/predictions?start=2024-02-01T00:00:00Z&end=2024-01-01T00:00:00Z",
	} {
		rec := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	failing := New(testSettings(), fixturePredictor(t), WithAuditStore(&memoryAudit{err: errors.New("disk gone")})).Handler()
	rec := do(t, failing, http.MethodGet, "/predictions", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk gone")
}

func TestPredictions_NotRoutedWithoutStore(t *testing.T) {
	h := New(testSettings(), fixturePredictor(t)).Handler()
	rec := do(t, h, http.MethodGet, "/predictions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	h := New(testSettings(), fixturePredictor(t), WithMetrics(m)).Handler()

	do(t, h, http.MethodPost, "/predict", `{}`)
	do(t, h, http.MethodPost, "/predict", `{"tenure":"x"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="POST",path="/predict",status="200"} 1`)
	assert.Contains(t, body, `http_requests_total{method="POST",path="/predict",status="422"} 1`)
}

func TestMetricsEndpoint_DisabledWithoutMetrics(t *testing.T) {
	h := New(testSettings(), fixturePredictor(t)).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModelInfo(t *testing.T) {
	h := New(testSettings(), fixturePredictor(t)).Handler()

	rec := do(t, h, http.MethodGet, "/model/info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Model ml.ModelInfo `json:"model"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.Model.NumFeatures)
	assert.Equal(t, ml.ModelTypeLogistic, resp.Model.ModelType)
}

func TestCORS(t *testing.T) {
	h := New(testSettings(), fixturePredictor(t)).Handler()

	rec := do(t, h, http.MethodGet, "/health", "", "Origin", "http://localhost:5173")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodOptions, "/predict", "",
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	settings := testSettings()
	settings.AllowedOrigins = []string{"http://localhost:3000"}
	h := New(settings, fixturePredictor(t)).Handler()

	rec := do(t, h, http.MethodGet, "/health", "", "Origin", "http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/health", "", "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStaticFrontend(t *testing.T) {
	dist := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "assets", "app.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "favicon.svg"), []byte("<svg/>"), 0o644))

	settings := testSettings()
	settings.FrontendDir = dist
	h := New(settings, fixturePredictor(t)).Handler()

	rec := do(t, h, http.MethodGet, "/assets/app.js", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/favicon.svg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg/>", rec.Body.String())

	for _, path := range []string{"/", "/dashboard", "/customers/42"} {
		rec = do(t, h, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "<html>app</html>", rec.Body.String(), path)
	}

	// API routes still win over the fallback.
	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestSPAHandler_StaysInsideDir(t *testing.T) {
	root := t.TempDir()
	dist := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(dist, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("index"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("secret"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/../secret.txt"
	rec := httptest.NewRecorder()
	spaHandler(dist).ServeHTTP(rec, req)

	assert.Equal(t, "index", rec.Body.String())
}

func TestStaticFrontend_Absent(t *testing.T) {
	settings := testSettings()
	settings.FrontendDir = filepath.Join(t.TempDir(), "missing")
	h := New(settings, fixturePredictor(t)).Handler()

	rec := do(t, h, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartShutdown(t *testing.T) {
	settings := testSettings()
	settings.Port = 0
	s := New(settings, fixturePredictor(t))

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}

func TestPredictionFeed_ThroughMiddleware(t *testing.T) {
	feed := dashboard.NewFeed([]string{"*"})
	require.NoError(t, feed.Start())
	defer feed.Stop()

	srv := httptest.NewServer(New(testSettings(), fixturePredictor(t), WithFeed(feed)).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/predictions", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return feed.Clients() == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(`{"tenure":72}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev dashboard.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, 72, ev.Input.Tenure)
	assert.Equal(t, 0.244, ev.Prediction.ChurnProbability)
	assert.Equal(t, resp.Header.Get(RequestIDHeader), ev.RequestID)
}

func TestPredictionFeed_NotRoutedByDefault(t *testing.T) {
	rec := httptest.NewRecorder()
	New(testSettings(), fixturePredictor(t)).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/predictions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
