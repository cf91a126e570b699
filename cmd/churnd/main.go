package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"churn-service/internal/cfg"
	"churn-service/internal/dashboard"
	"churn-service/internal/metrics"
	"churn-service/internal/ml"
	"churn-service/internal/server"
	"churn-service/internal/storage"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Missing or corrupt artifacts are fatal.
	set, err := ml.LoadArtifacts(c.ArtifactDir, ml.ArtifactNames{
		Model:    c.ModelFile,
		Scaler:   c.ScalerFile,
		Features: c.FeaturesFile,
	})
	if err != nil {
		log.Fatal().Err(err).Str("dir", c.ArtifactDir).Msg("failed to load model artifacts")
	}

	m := metrics.New()
	predictor, err := ml.NewPredictor(set, metrics.NewWrapper(m))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build predictor")
	}

	opts := []server.Option{server.WithMetrics(m)}
	if store := initializeStorage(c); store != nil {
		defer store.Close()
		opts = append(opts, server.WithAuditStore(store))
	}
	if c.LiveFeed {
		feed := dashboard.NewFeed(c.AllowedOrigins)
		if err := feed.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start prediction feed")
		}
		defer feed.Stop()
		opts = append(opts, server.WithFeed(feed))
	}

	srv := server.New(c, predictor, opts...)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	waitForShutdown(ctx, srv)
}

// initializeStorage initializes storage if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without audit trail")
			return nil
		}
		return store
	}
	return nil
}

func waitForShutdown(ctx context.Context, srv *server.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	log.Info().Msg("server stopped")
}
