package metrics

// MetricsWrapper adapts Metrics to the predictor's metrics interface.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) MLPredictionsInc() {
	w.m.Predictions.Inc()
}

func (w *MetricsWrapper) MLFailuresInc() {
	w.m.PredictionFailures.Inc()
}

func (w *MetricsWrapper) MLLatencyObserve(v float64) {
	w.m.PredictionLatency.Observe(v)
}

func (w *MetricsWrapper) MLModelAgeSet(v float64) {
	w.m.ModelAge.Set(v)
}

func (w *MetricsWrapper) MLPredictionScoresObserve(v float64) {
	w.m.PredictionScores.Observe(v)
}

func (w *MetricsWrapper) MLRiskLevelInc(level string) {
	w.m.RiskLevels.WithLabelValues(level).Inc()
}

func (w *MetricsWrapper) MLFeatureDriftSet(feature string, shift float64) {
	w.m.FeatureDrift.WithLabelValues(feature).Set(shift)
}
