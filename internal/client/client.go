// Package client is a small HTTP client for a running churn server.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"churn-service/internal/features"
	"churn-service/internal/ml"
	"churn-service/internal/storage"
)

type Client struct {
	base string
	rest *resty.Client
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("churn api: status %d: %s", e.Status, e.Detail)
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	out := &HealthStatus{}
	if err := c.do(ctx, "GET", "/health", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Predict calls POST /predict.
func (c *Client) Predict(ctx context.Context, in features.CustomerInput) (*ml.Prediction, error) {
	out := &ml.Prediction{}
	if err := c.do(ctx, "POST", "/predict", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ModelInfo calls GET /model/info.
func (c *Client) ModelInfo(ctx context.Context) (*ml.ModelInfo, error) {
	var out struct {
		Model ml.ModelInfo `json:"model"`
	}
	if err := c.do(ctx, "GET", "/model/info", nil, &out); err != nil {
		return nil, err
	}
	return &out.Model, nil
}

// Predictions calls GET /predictions for the audit trail in [start, end].
// A zero bound is left to the server's default.
func (c *Client) Predictions(ctx context.Context, start, end time.Time) ([]storage.PredictionRecord, error) {
	query := map[string]string{}
	if !start.IsZero() {
		query["start"] = start.UTC().Format(time.RFC3339)
	}
	if !end.IsZero() {
		query["end"] = end.UTC().Format(time.RFC3339)
	}

	var out struct {
		Predictions []storage.PredictionRecord `json:"predictions"`
	}
	if err := c.doQuery(ctx, "GET", "/predictions", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Predictions, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doQuery(ctx, method, path, nil, body, result)
}

func (c *Client) doQuery(ctx context.Context, method, path string, query map[string]string, body, result any) error {
	apiErr := &errorBody{}
	req := c.rest.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		detail := apiErr.Detail
		if detail == "" {
			detail = strings.TrimSpace(resp.String())
		}
		return &APIError{Status: resp.StatusCode(), Detail: detail}
	}
	return nil
}
