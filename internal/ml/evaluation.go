package ml

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sjwhitworth/golearn/evaluation"
)

// ClassMetrics holds per-class scores of a classification report.
type ClassMetrics struct {
	Label     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report summarizes binary classification results on a held-out set.
type Report struct {
	Accuracy    float64
	Confusion   [2][2]int // [[TN FP] [FN TP]]
	Classes     [2]ClassMetrics
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Total       int
}

// Evaluate compares predicted labels against the truth. Both slices must hold
// only 0 and 1 and have the same length. Ratios that are undefined because a
// class was never predicted or never present are reported as 0.
func Evaluate(yTrue, yPred []float64) (*Report, error) {
	if len(yTrue) == 0 {
		return nil, fmt.Errorf("evaluate: %w", ErrEmptyInput)
	}
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("%w: %d labels, %d predictions", ErrShapeMismatch, len(yTrue), len(yPred))
	}

	r := &Report{Total: len(yTrue)}
	for i := range yTrue {
		t, p := int(yTrue[i]), int(yPred[i])
		if t < 0 || t > 1 || p < 0 || p > 1 {
			return nil, fmt.Errorf("evaluate: non-binary label at row %d", i)
		}
		r.Confusion[t][p]++
	}

	cm := r.confusionMatrix()
	r.Accuracy = evaluation.GetAccuracy(cm)

	for c := 0; c < 2; c++ {
		label := strconv.Itoa(c)
		r.Classes[c] = ClassMetrics{
			Label:     label,
			Precision: orZero(evaluation.GetPrecision(label, cm)),
			Recall:    orZero(evaluation.GetRecall(label, cm)),
			F1:        orZero(evaluation.GetF1Score(label, cm)),
			Support:   r.Confusion[c][0] + r.Confusion[c][1],
		}
	}

	r.MacroAvg = ClassMetrics{Label: "macro avg", Support: r.Total}
	r.WeightedAvg = ClassMetrics{Label: "weighted avg", Support: r.Total}
	for _, m := range r.Classes {
		w := float64(m.Support) / float64(r.Total)
		r.MacroAvg.Precision += m.Precision / 2
		r.MacroAvg.Recall += m.Recall / 2
		r.MacroAvg.F1 += m.F1 / 2
		r.WeightedAvg.Precision += m.Precision * w
		r.WeightedAvg.Recall += m.Recall * w
		r.WeightedAvg.F1 += m.F1 * w
	}
	// golearn averages the raw per-class ratios, so it only agrees with the
	// zero-filled figures when both classes are defined.
	if v := evaluation.GetMacroPrecision(cm); !math.IsNaN(v) {
		r.MacroAvg.Precision = v
	}
	if v := evaluation.GetMacroRecall(cm); !math.IsNaN(v) {
		r.MacroAvg.Recall = v
	}
	return r, nil
}

// confusionMatrix converts the counts to golearn's reference -> predicted map.
func (r *Report) confusionMatrix() evaluation.ConfusionMatrix {
	cm := make(evaluation.ConfusionMatrix, 2)
	for t := 0; t < 2; t++ {
		row := make(map[string]int, 2)
		for p := 0; p < 2; p++ {
			row[strconv.Itoa(p)] = r.Confusion[t][p]
		}
		cm[strconv.Itoa(t)] = row
	}
	return cm
}

// orZero maps an undefined ratio to 0.
func orZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ConfusionString renders the matrix the way numpy prints a 2x2 int array.
func (r *Report) ConfusionString() string {
	width := 1
	for _, row := range r.Confusion {
		for _, v := range row {
			if n := len(strconv.Itoa(v)); n > width {
				width = n
			}
		}
	}
	return fmt.Sprintf("[[%*d %*d]\n [%*d %*d]]",
		width, r.Confusion[0][0], width, r.Confusion[0][1],
		width, r.Confusion[1][0], width, r.Confusion[1][1])
}

// String renders a two-digit classification report.
func (r *Report) String() string {
	const width = 12
	var b strings.Builder

	fmt.Fprintf(&b, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, m := range r.Classes {
		writeReportRow(&b, width, m)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s  %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	writeReportRow(&b, width, r.MacroAvg)
	writeReportRow(&b, width, r.WeightedAvg)
	return b.String()
}

func writeReportRow(b *strings.Builder, width int, m ClassMetrics) {
	fmt.Fprintf(b, "%*s  %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
}
