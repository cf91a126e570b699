package ml

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"churn-service/internal/common"
	"churn-service/internal/features"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLModelAgeSet(float64)
	MLPredictionScoresObserve(float64)
	MLRiskLevelInc(level string)
	MLFeatureDriftSet(feature string, shift float64)
}

// Prediction is the scored response for one customer.
type Prediction struct {
	ChurnProbability float64 `json:"churn_probability"`
	RiskLevel        string  `json:"risk_level"`
	ChurnPrediction  string  `json:"churn_prediction"`
}

// ModelInfo describes the loaded artifacts.
type ModelInfo struct {
	ModelType    string    `json:"model_type"`
	ClassWeight  string    `json:"class_weight,omitempty"`
	NumFeatures  int       `json:"num_features"`
	Features     []string  `json:"features"`
	Iterations   int       `json:"iterations"`
	Intercept    float64   `json:"intercept"`
	RequestMap   []string  `json:"request_fields"`
	ModelModTime time.Time `json:"model_mod_time,omitempty"`
	LoadedAt     time.Time `json:"loaded_at"`

	DriftSamples int64          `json:"drift_samples"`
	Drift        []FeatureDrift `json:"drift"`
}

// Predictor scores eight-field requests against a frozen model and scaler.
// It is safe for concurrent use: model, scaler and schema are read-only after
// construction, and the input drift statistics are guarded by the monitor's mutex.
type Predictor struct {
	model    *LogisticRegression
	scaler   *StandardScaler
	schema   []string
	metrics  MetricsInterface
	drift    *DriftMonitor
	modelAt  time.Time
	loadedAt time.Time
}

// NewPredictor wraps a validated artifact set. metrics may be nil.
func NewPredictor(set *ArtifactSet, metrics MetricsInterface) (*Predictor, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	p := &Predictor{
		model:    set.Model,
		scaler:   set.Scaler,
		schema:   set.Features,
		metrics:  metrics,
		drift:    NewDriftMonitor(set.Features, set.Scaler, DefaultDriftThreshold, DefaultDriftMinSamples),
		modelAt:  set.ModelModTime,
		loadedAt: time.Now(),
	}

	for _, b := range features.FieldMapping {
		found := false
		for _, col := range p.schema {
			if col == b.Column {
				found = true
				break
			}
		}
		if !found {
			log.Warn().Str("field", b.Field).Str("column", b.Column).Msg("request field has no column in feature schema, it will be ignored")
		}
	}
	p.updateModelAge()
	return p, nil
}

// Predict scores one request: map onto the schema, standardize, take the
// positive-class probability and band it after rounding.
func (p *Predictor) Predict(ctx context.Context, in features.CustomerInput) (Prediction, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		p.fail()
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}

	vec, unmapped := features.BuildVector(p.schema, in)
	if len(unmapped) > 0 {
		log.Debug().Strs("fields", unmapped).Msg("request fields dropped, not in schema")
	}

	for _, fd := range p.drift.Observe(vec) {
		log.Warn().
			Str("feature", fd.Name).
			Float64("baseline_mean", fd.BaselineMean).
			Float64("current_mean", fd.CurrentMean).
			Float64("shift", fd.Shift).
			Msg("input drift detected")
	}

	scaled, err := p.scaler.TransformVec(vec)
	if err != nil {
		p.fail()
		return Prediction{}, fmt.Errorf("scale input: %w", err)
	}
	raw, err := p.model.PredictProba(scaled)
	if err != nil {
		p.fail()
		return Prediction{}, fmt.Errorf("score input: %w", err)
	}

	prob := Round3(raw)
	pred := Prediction{
		ChurnProbability: prob,
		RiskLevel:        RiskLevel(prob),
		ChurnPrediction:  Label(prob),
	}

	if p.metrics != nil {
		p.metrics.MLPredictionsInc()
		p.metrics.MLLatencyObserve(time.Since(start).Seconds())
		p.metrics.MLPredictionScoresObserve(prob)
		p.metrics.MLRiskLevelInc(pred.RiskLevel)
		for _, fd := range p.drift.Status() {
			p.metrics.MLFeatureDriftSet(fd.Name, fd.Shift)
		}
		p.updateModelAge()
	}
	return pred, nil
}

func (p *Predictor) fail() {
	if p.metrics != nil {
		p.metrics.MLFailuresInc()
	}
}

func (p *Predictor) updateModelAge() {
	if p.metrics == nil || p.modelAt.IsZero() {
		return
	}
	p.metrics.MLModelAgeSet(time.Since(p.modelAt).Seconds())
}

// Info reports what the predictor was loaded with.
func (p *Predictor) Info() ModelInfo {
	fields := make([]string, 0, len(features.FieldMapping))
	for _, b := range features.FieldMapping {
		fields = append(fields, b.Field)
	}
	schema := make([]string, len(p.schema))
	copy(schema, p.schema)

	return ModelInfo{
		ModelType:    ModelTypeLogistic,
		ClassWeight:  p.model.ClassWeight,
		NumFeatures:  len(p.schema),
		Features:     schema,
		Iterations:   p.model.NIter,
		Intercept:    p.model.Intercept,
		RequestMap:   fields,
		ModelModTime: p.modelAt,
		LoadedAt:     p.loadedAt,
		DriftSamples: p.drift.Samples(),
		Drift:        p.drift.Status(),
	}
}

// Round3 rounds a probability to three decimals.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// RiskLevel bands a probability; boundaries belong to the upper band.
func RiskLevel(prob float64) string {
	switch {
	case prob < common.MediumRiskThreshold:
		return common.RiskLow
	case prob < common.HighRiskThreshold:
		return common.RiskMedium
	default:
		return common.RiskHigh
	}
}

// Label returns "Yes" iff prob >= 0.5.
func Label(prob float64) string {
	if prob >= common.ChurnThreshold {
		return common.PredictionYes
	}
	return common.PredictionNo
}
