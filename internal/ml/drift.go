package ml

import (
	"math"
	"sync"

	"churn-service/internal/features"
)

const (
	// DefaultDriftThreshold is the standardized mean shift that raises an alert.
	DefaultDriftThreshold = 1.0
	// DefaultDriftMinSamples is how many requests are seen before alerting.
	DefaultDriftMinSamples = 100
)

// FeatureDrift compares served values of one column with its training
// distribution. Shift is the difference of means in training standard
// deviations.
type FeatureDrift struct {
	Name         string  `json:"name"`
	BaselineMean float64 `json:"baseline_mean"`
	CurrentMean  float64 `json:"current_mean"`
	CurrentStd   float64 `json:"current_std"`
	Shift        float64 `json:"shift"`
	Drifting     bool    `json:"drifting"`
}

// DriftMonitor keeps running moments of the request-populated columns and
// compares them with the scaler's training mean and scale. Columns the
// request never sets are always zero and are not monitored.
type DriftMonitor struct {
	mu         sync.Mutex
	names      []string
	index      []int
	baseMean   []float64
	baseScale  []float64
	threshold  float64
	minSamples int64

	n       int64
	mean    []float64
	m2      []float64
	alerted []bool
}

// NewDriftMonitor watches the columns of schema that a request can populate.
func NewDriftMonitor(schema []string, scaler *StandardScaler, threshold float64, minSamples int64) *DriftMonitor {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	if minSamples <= 0 {
		minSamples = DefaultDriftMinSamples
	}
	d := &DriftMonitor{threshold: threshold, minSamples: minSamples}

	pos := make(map[string]int, len(schema))
	for i, name := range schema {
		pos[name] = i
	}
	for _, b := range features.FieldMapping {
		i, ok := pos[b.Column]
		if !ok || i >= len(scaler.Mean) {
			continue
		}
		d.names = append(d.names, b.Column)
		d.index = append(d.index, i)
		d.baseMean = append(d.baseMean, scaler.Mean[i])
		d.baseScale = append(d.baseScale, scaler.Scale[i])
	}
	d.mean = make([]float64, len(d.names))
	d.m2 = make([]float64, len(d.names))
	d.alerted = make([]bool, len(d.names))
	return d
}

// Observe adds one schema-ordered vector and returns the columns that
// crossed the threshold for the first time.
func (d *DriftMonitor) Observe(vec []float64) []FeatureDrift {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.n++
	for k, i := range d.index {
		// Welford update
		x := vec[i]
		delta := x - d.mean[k]
		d.mean[k] += delta / float64(d.n)
		d.m2[k] += delta * (x - d.mean[k])
	}
	if d.n < d.minSamples {
		return nil
	}

	var fresh []FeatureDrift
	for k := range d.index {
		fd := d.drift(k)
		if fd.Drifting && !d.alerted[k] {
			d.alerted[k] = true
			fresh = append(fresh, fd)
		}
	}
	return fresh
}

// Samples is the number of observed requests.
func (d *DriftMonitor) Samples() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// Status reports every monitored column.
func (d *DriftMonitor) Status() []FeatureDrift {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]FeatureDrift, len(d.index))
	for k := range d.index {
		out[k] = d.drift(k)
	}
	return out
}

func (d *DriftMonitor) drift(k int) FeatureDrift {
	fd := FeatureDrift{
		Name:         d.names[k],
		BaselineMean: d.baseMean[k],
		CurrentMean:  d.mean[k],
	}
	if d.n > 0 {
		fd.CurrentStd = math.Sqrt(d.m2[k] / float64(d.n))
		fd.Shift = (d.mean[k] - d.baseMean[k]) / d.baseScale[k]
		fd.Drifting = d.n >= d.minSamples && math.Abs(fd.Shift) > d.threshold
	}
	return fd
}
