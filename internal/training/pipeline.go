// Package training runs the offline churn pipeline: load and clean the CSV,
// one-hot encode, split, standardize, fit three classifiers for comparison,
// print their held-out metrics and persist the balanced logistic model.
package training

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"churn-service/internal/common"
	"churn-service/internal/dataset"
	"churn-service/internal/ml"
	"churn-service/internal/storage"
)

const importanceRepeats = 5

// Options configures one pipeline run.
type Options struct {
	DataPath    string
	ArtifactDir string
	Names       ml.ArtifactNames
	Seed        int64
	TestSize    float64
	Trees       int
	MaxIter     int
	C           float64
	Workers     int
	SkipForest  bool
	Importance  int       // report the top N permutation importances of the saved model; 0 skips it
	Report      io.Writer // receives the printed metrics; nil discards them
}

// DefaultOptions mirrors the reference pipeline: seed 42, 80/20 split,
// 200 trees, 1000 solver iterations.
func DefaultOptions() Options {
	return Options{
		DataPath:    common.DefaultDataFile,
		ArtifactDir: common.DefaultArtifactDir,
		Names: ml.ArtifactNames{
			Model:    common.DefaultModelFile,
			Scaler:   common.DefaultScalerFile,
			Features: common.DefaultFeaturesFile,
		},
		Seed:     common.DefaultSeed,
		TestSize: common.DefaultTestSize,
		Trees:    common.DefaultTrees,
		MaxIter:  common.DefaultMaxIter,
		C:        common.DefaultRegularize,
	}
}

// ModelResult is one fitted model's held-out evaluation.
type ModelResult struct {
	Name   string
	Report *ml.Report
}

// Result summarizes a finished run.
type Result struct {
	Rows        int
	DroppedRows int
	TrainRows   int
	TestRows    int
	Features    []string
	Models      []ModelResult
	Importance  []ml.FeatureScore
	Artifacts   *ml.ArtifactSet
	StartedAt   time.Time
	Duration    time.Duration
}

// Prepare applies the cleaning steps to a loaded frame and encodes it:
// coerce TotalCharges, drop incomplete rows, drop customerID, map the label.
func Prepare(frame *dataset.Frame) (*dataset.Encoded, int, error) {
	invalid, err := frame.CoerceNumeric(common.DefaultChargeColumn)
	if err != nil {
		return nil, 0, err
	}
	dropped := frame.DropMissing()
	if err := frame.DropColumn(common.DefaultIDColumn); err != nil {
		return nil, 0, err
	}
	if err := frame.BinarizeLabel(common.DefaultLabelColumn, common.PositiveLabel, common.NegativeLabel); err != nil {
		return nil, 0, err
	}

	enc, err := dataset.OneHot(frame, common.DefaultLabelColumn, true)
	if err != nil {
		return nil, 0, err
	}

	log.Info().
		Int("unparseable_charges", invalid).
		Int("dropped_rows", dropped).
		Int("rows", enc.Rows()).
		Int("features", len(enc.Features)).
		Msg("dataset prepared")
	return enc, dropped, nil
}

type classifier interface {
	Name() string
	Predict(X mat.Matrix) ([]float64, error)
}

// Run executes the whole pipeline and writes the artifacts.
func Run(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()
	out := opts.Report
	if out == nil {
		out = io.Discard
	}

	frame, err := dataset.Load(opts.DataPath)
	if err != nil {
		return nil, err
	}
	enc, dropped, err := Prepare(frame)
	if err != nil {
		return nil, fmt.Errorf("prepare dataset: %w", err)
	}

	split, err := dataset.TrainTestSplit(enc, opts.TestSize, opts.Seed)
	if err != nil {
		return nil, err
	}

	scaler := ml.NewStandardScaler()
	trainScaled, err := scaler.FitTransform(split.XTrain)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	testScaled, err := scaler.Transform(split.XTest)
	if err != nil {
		return nil, fmt.Errorf("scale test set: %w", err)
	}

	res := &Result{
		Rows:        enc.Rows(),
		DroppedRows: dropped,
		TrainRows:   len(split.YTrain),
		TestRows:    len(split.YTest),
		Features:    enc.Features,
		StartedAt:   started.UTC(),
	}

	lrOpts := ml.LogisticOptions{C: opts.C, MaxIter: opts.MaxIter}
	plain := ml.NewLogisticRegression(lrOpts)
	if err := plain.Fit(trainScaled, split.YTrain); err != nil {
		return nil, err
	}
	if err := evaluate(out, res, plain, testScaled, split.YTest); err != nil {
		return nil, err
	}

	lrOpts.ClassWeight = ml.ClassWeightBalanced
	balanced := ml.NewLogisticRegression(lrOpts)
	if err := balanced.Fit(trainScaled, split.YTrain); err != nil {
		return nil, err
	}
	if err := evaluate(out, res, balanced, testScaled, split.YTest); err != nil {
		return nil, err
	}

	if !opts.SkipForest {
		// Trees split on raw values; scaling would not change them.
		forest := ml.NewRandomForest(ml.ForestOptions{
			NEstimators: opts.Trees,
			Seed:        opts.Seed,
			ClassWeight: ml.ClassWeightBalanced,
			Workers:     opts.Workers,
		})
		if err := forest.Fit(ctx, split.XTrain, split.YTrain); err != nil {
			return nil, err
		}
		if err := evaluate(out, res, forest, split.XTest, split.YTest); err != nil {
			return nil, err
		}
	}

	if opts.Importance > 0 {
		scores, err := ml.PermutationImportance(ctx, balanced, testScaled, split.YTest, enc.Features, importanceRepeats, opts.Seed)
		if err != nil {
			return nil, fmt.Errorf("permutation importance: %w", err)
		}
		if len(scores) > opts.Importance {
			scores = scores[:opts.Importance]
		}
		res.Importance = scores
		printImportance(out, balanced.Name(), scores)
	}

	res.Artifacts = &ml.ArtifactSet{Model: balanced, Scaler: scaler, Features: enc.Features}
	if err := ml.SaveArtifacts(opts.ArtifactDir, opts.Names, res.Artifacts); err != nil {
		return nil, err
	}

	res.Duration = time.Since(started)
	log.Info().
		Dur("duration", res.Duration).
		Int("train_rows", res.TrainRows).
		Int("test_rows", res.TestRows).
		Msg("training finished")
	return res, nil
}

func evaluate(out io.Writer, res *Result, model classifier, X mat.Matrix, y []float64) error {
	pred, err := model.Predict(X)
	if err != nil {
		return fmt.Errorf("%s predict: %w", model.Name(), err)
	}
	report, err := ml.Evaluate(y, pred)
	if err != nil {
		return fmt.Errorf("%s evaluate: %w", model.Name(), err)
	}

	fmt.Fprintln(out, model.Name()+" Accuracy:", report.Accuracy)
	fmt.Fprintln(out, report.ConfusionString())
	fmt.Fprintln(out, report.String())

	res.Models = append(res.Models, ModelResult{Name: model.Name(), Report: report})
	return nil
}

func printImportance(out io.Writer, model string, scores []ml.FeatureScore) {
	fmt.Fprintf(out, "Top %d features by permutation importance (%s):\n", len(scores), model)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for i, s := range scores {
		fmt.Fprintf(tw, "%d.\t%s\t%.4f\t+/- %.4f\n", i+1, s.Name, s.Importance, s.Std)
	}
	tw.Flush()
}

// TrainingRun converts the result into the stored history record.
func (r *Result) TrainingRun(opts Options) storage.TrainingRun {
	run := storage.TrainingRun{
		StartedAt:   r.StartedAt,
		Duration:    r.Duration,
		DataPath:    opts.DataPath,
		ArtifactDir: opts.ArtifactDir,
		Seed:        opts.Seed,
		Rows:        r.Rows,
		DroppedRows: r.DroppedRows,
		TrainRows:   r.TrainRows,
		TestRows:    r.TestRows,
		Features:    len(r.Features),
	}
	for _, f := range r.Importance {
		run.TopFeatures = append(run.TopFeatures, storage.FeatureWeight{Name: f.Name, Importance: f.Importance})
	}
	for _, m := range r.Models {
		run.Models = append(run.Models, storage.ModelScore{
			Name:       m.Name,
			Accuracy:   m.Report.Accuracy,
			F1Positive: m.Report.Classes[1].F1,
		})
	}
	return run
}
