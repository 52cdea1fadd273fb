package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"iris-explainer/internal/cfg"
	"iris-explainer/internal/common"
	"iris-explainer/internal/dashboard"
	"iris-explainer/internal/forceplot"
	"iris-explainer/internal/metrics"
	"iris-explainer/internal/ml"
	"iris-explainer/internal/storage"
	"iris-explainer/internal/workflow"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	log.Info().
		Str("listen", c.ListenAddr).
		Str("model", c.ModelPath).
		Str("artifact", c.ArtifactPath).
		Int("outputIndex", c.OutputIndex).
		Msg("Starting explainer")

	booster, err := ml.LoadBooster(c.ModelPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.ModelPath).Msg("model load failed")
	}

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)
	mw.ModelTreesSet(len(booster.Trees()))

	predictor, err := ml.NewPredictor(booster, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("predictor init failed")
	}

	stats := ml.NewFeatureImportance(ml.FeatureImportanceConfig{
		Enabled:      true,
		FeatureNames: common.FeatureNames(),
		SavePath:     c.StatsPath,
	})
	defer saveStats(stats, c.StatsPath)

	var history workflow.HistoryStore
	if store := initializeStorage(c); store != nil {
		defer store.Close()
		history = store
	}

	svc, err := workflow.New(workflow.Options{
		Predictor:   predictor,
		Artifact:    forceplot.NewArtifact(c.ArtifactPath),
		Stats:       stats,
		History:     history,
		Metrics:     mw,
		OutputIndex: c.OutputIndex,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("workflow init failed")
	}

	dash := dashboard.New(svc, dashboard.Options{
		ListenAddr:      c.ListenAddr,
		PlotHeight:      c.PlotHeight,
		EnableWebSocket: c.EnableWebSocket,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		Metrics:         m,
		Gatherer:        prometheus.DefaultGatherer,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(dash.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return dash.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		saveStats(stats, c.StatsPath)
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// initializeStorage opens the history store when DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if !c.HistoryEnabled() {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.DataPath).Msg("storage initialization failed")
	}
	return store
}

func saveStats(stats *ml.FeatureImportance, path string) {
	if path == "" {
		return
	}
	if err := stats.Save(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to save feature importance data")
	}
}
