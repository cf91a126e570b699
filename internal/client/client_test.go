package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-service/internal/cfg"
	"churn-service/internal/features"
	"churn-service/internal/ml"
	"churn-service/internal/server"
	"churn-service/internal/storage"
)

func newTestServer(t *testing.T, opts ...server.Option) *httptest.Server {
	t.Helper()
	set, err := ml.LoadArtifacts(filepath.Join("..", "ml", "testdata"), ml.ArtifactNames{
		Model:    "churn_model.json",
		Scaler:   "scaler.json",
		Features: "features.json",
	})
	require.NoError(t, err)
	p, err := ml.NewPredictor(set, nil)
	require.NoError(t, err)

	settings := cfg.Settings{
		AllowedOrigins: []string{"*"},
		PredictTimeout: time.Second,
		MaxBodyBytes:   1 << 20,
	}
	srv := httptest.NewServer(server.New(settings, p, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Health(t *testing.T) {
	c := New(newTestServer(t).URL+"/", time.Second)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "API is running", h.Message)
}

func TestClient_Predict(t *testing.T) {
	c := New(newTestServer(t).URL, time.Second)

	pred, err := c.Predict(context.Background(), features.CustomerInput{Tenure: 72})
	require.NoError(t, err)
	assert.Equal(t, &ml.Prediction{ChurnProbability: 0.244, RiskLevel: "Low", ChurnPrediction: "No"}, pred)
}

func TestClient_ModelInfo(t *testing.T) {
	c := New(newTestServer(t).URL, time.Second)

	info, err := c.ModelInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, info.NumFeatures)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"field \"tenure\" must be of type int"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Predict(context.Background(), features.CustomerInput{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Detail, "tenure")
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, 200*time.Millisecond).Health(context.Background())
	assert.ErrorContains(t, err, "request failed")
}

func TestClient_Predictions(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	c := New(newTestServer(t, server.WithAuditStore(store)).URL, time.Second)
	ctx := context.Background()

	_, err = c.Predict(ctx, features.CustomerInput{Tenure: 72})
	require.NoError(t, err)

	recs, err := c.Predictions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Low", recs[0].RiskLevel)
	assert.NotEmpty(t, recs[0].ID)

	old, err := c.Predictions(ctx, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, old)

	_, err = c.Predictions(ctx, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}
