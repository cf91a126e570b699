package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"churn-service/internal/dashboard"
	"churn-service/internal/features"
	"churn-service/internal/ml"
	"churn-service/internal/storage"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// errRequest carries the status a body decoding failure maps to.
type errRequest struct {
	status int
	msg    string
}

func (e *errRequest) Error() string { return e.msg }

// decodeInput reads a CustomerInput. Unknown fields are ignored and absent
// ones stay zero. Syntax errors and non-object bodies are 400, wrong JSON
// types for a field are 422.
func decodeInput(r io.Reader) (features.CustomerInput, error) {
	var in features.CustomerInput
	dec := json.NewDecoder(r)

	if err := dec.Decode(&in); err != nil {
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &typeErr) && typeErr.Field == "":
			return in, &errRequest{http.StatusBadRequest, "request body must be a JSON object"}
		case errors.As(err, &typeErr):
			return in, &errRequest{http.StatusUnprocessableEntity,
				fmt.Sprintf("field %q must be of type %s", typeErr.Field, typeErr.Type)}
		case errors.As(err, &maxErr):
			return in, &errRequest{http.StatusRequestEntityTooLarge, "request body too large"}
		case errors.Is(err, io.EOF):
			return in, &errRequest{http.StatusBadRequest, "request body is empty"}
		default:
			return in, &errRequest{http.StatusBadRequest, "malformed JSON body"}
		}
	}
	if dec.More() {
		return in, &errRequest{http.StatusBadRequest, "request body must contain a single JSON object"}
	}
	return in, nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(r.Body)
	if err != nil {
		var reqErr *errRequest
		if errors.As(err, &reqErr) {
			writeError(w, reqErr.status, reqErr.msg)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.predictTimeout)
	defer cancel()

	pred, err := s.predictor.Predict(ctx, in)
	if err != nil {
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("prediction failed")
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "prediction failed")
		return
	}

	requestID := GetRequestID(r.Context())
	servedAt := time.Now().UTC()
	if s.audit != nil {
		rec := storage.PredictionRecord{
			ID:          requestID,
			Timestamp:   servedAt,
			Input:       in,
			Probability: pred.ChurnProbability,
			RiskLevel:   pred.RiskLevel,
			Prediction:  pred.ChurnPrediction,
		}
		if err := s.audit.StorePrediction(rec); err != nil {
			log.Warn().Err(err).Msg("failed to record prediction")
		}
	}
	if s.feed != nil {
		s.feed.Publish(dashboard.Event{RequestID: requestID, Timestamp: servedAt, Input: in, Prediction: pred})
	}

	writeJSON(w, http.StatusOK, pred)
}

// defaultAuditWindow is the range GET /predictions covers when start is omitted.
const defaultAuditWindow = 24 * time.Hour

// PredictionsResponse is the audit trail for a time range.
type PredictionsResponse struct {
	Start       time.Time                  `json:"start"`
	End         time.Time                  `json:"end"`
	Count       int                        `json:"count"`
	Predictions []storage.PredictionRecord `json:"predictions"`
}

// handlePredictions lists recorded predictions in [start, end]. Both bounds
// are RFC 3339; end defaults to now and start to 24 hours before end.
func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC()
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be an RFC 3339 timestamp")
			return
		}
		end = t
	}
	start := end.Add(-defaultAuditWindow)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be an RFC 3339 timestamp")
			return
		}
		start = t
	}
	if start.After(end) {
		writeError(w, http.StatusBadRequest, "start must not be after end")
		return
	}

	recs, err := s.audit.GetPredictions(start, end)
	if err != nil {
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("failed to read predictions")
		writeError(w, http.StatusInternalServerError, "failed to read predictions")
		return
	}
	if recs == nil {
		recs = []storage.PredictionRecord{}
	}
	writeJSON(w, http.StatusOK, PredictionsResponse{Start: start, End: end, Count: len(recs), Predictions: recs})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Message: "API is running"})
}

// modelInfoResponse adds live serving figures to the static model description.
type modelInfoResponse struct {
	Model       ml.ModelInfo `json:"model"`
	FailureRate float64      `json:"failure_rate"`
}

func (s *Server) handleModelInfo(w http.ResponseWriter, _ *http.Request) {
	resp := modelInfoResponse{Model: s.predictor.Info()}
	if s.metrics != nil {
		resp.FailureRate = s.metrics.GetFailureRate()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
