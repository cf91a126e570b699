package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"churn-service/internal/common"
	"churn-service/internal/metrics"
	"churn-service/internal/storage"
	"churn-service/internal/training"
)

func main() {
	def := training.DefaultOptions()
	var (
		dataPath = flag.String("data", def.DataPath, "Path to the customer CSV")
		outDir   = flag.String("out", def.ArtifactDir, "Directory for the model, scaler and feature artifacts")
		seed     = flag.Int64("seed", def.Seed, "Seed for the split and the random forest")
		testSize = flag.Float64("test-size", def.TestSize, "Held-out fraction")
		trees    = flag.Int("trees", def.Trees, "Number of random forest trees")
		maxIter  = flag.Int("max-iter", def.MaxIter, "Logistic regression iteration cap")
		skipRF   = flag.Bool("skip-forest", false, "Skip the random forest comparison")
		topN     = flag.Int("importance", 0, "Print the top N features by permutation importance (0 to skip)")
		dbPath   = flag.String("db", os.Getenv(common.EnvDataPath), "Data directory for the training history (optional)")
		history  = flag.Bool("history", false, "Print recorded training runs and exit")
		logLevel = flag.String("log-level", common.DefaultLogLevel, "Log level: debug, info, warn, error")
		promFile = flag.String("metrics-file", "", "Write training accuracy gauges in Prometheus textfile format")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var store *storage.Store
	if *dbPath != "" {
		store, err = storage.New(*dbPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *dbPath).Msg("failed to open training history")
		}
	}

	opts := def
	opts.DataPath = *dataPath
	opts.ArtifactDir = *outDir
	opts.Seed = *seed
	opts.TestSize = *testSize
	opts.Trees = *trees
	opts.MaxIter = *maxIter
	opts.SkipForest = *skipRF
	opts.Importance = *topN
	opts.Report = os.Stdout

	if *history {
		err = showHistory(store)
	} else {
		err = train(opts, store, *promFile)
	}

	// Closed before the fatal exit below; log.Fatal skips deferred calls.
	if store != nil {
		if cerr := store.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close training history")
		}
	}
	if err != nil {
		log.Fatal().Err(err).Msg("churn-train failed")
	}
}

func showHistory(store *storage.Store) error {
	if store == nil {
		return fmt.Errorf("-history needs -db or %s", common.EnvDataPath)
	}
	if err := printHistory(store); err != nil {
		return fmt.Errorf("read training history: %w", err)
	}
	return nil
}

// train runs the pipeline and records its outcome in the optional sinks.
func train(opts training.Options, store *storage.Store, promFile string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := training.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if promFile != "" {
		registry := prometheus.NewRegistry()
		m := metrics.NewWithRegistry(registry)
		for _, model := range res.Models {
			m.SetTrainingAccuracy(model.Name, model.Report.Accuracy)
		}
		if err := prometheus.WriteToTextfile(promFile, registry); err != nil {
			log.Warn().Err(err).Str("path", promFile).Msg("failed to write metrics file")
		}
	}

	if store != nil {
		id, err := store.StoreTrainingRun(res.TrainingRun(opts))
		if err != nil {
			log.Warn().Err(err).Msg("failed to record training run")
		} else {
			log.Info().Str("run_id", id).Msg("training run recorded")
		}
	}
	return nil
}

func printHistory(store *storage.Store) error {
	runs, err := store.ListTrainingRuns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tID\tROWS\tFEATURES\tMODEL\tACCURACY\tF1(1)")
	for _, run := range runs {
		for _, m := range run.Models {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%.4f\t%.4f\n",
				run.StartedAt.Format("2006-01-02 15:04:05"), run.ID, run.Rows, run.Features,
				m.Name, m.Accuracy, m.F1Positive)
		}
	}
	return w.Flush()
}
