package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"weathercast/config"
	"weathercast/db"
	whttp "weathercast/http"
	"weathercast/logging"
	"weathercast/ml"
	"weathercast/monitoring"
)

func main() {
	// 1. Load config
	cfg, err := config.Load("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, "weather-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewCollector("weather")

	// 2. Load the model once; the predictor is immutable afterwards
	predictor, err := loadPredictor(cfg.Model, logger)
	if err != nil {
		logger.Fatal("failed to load model", zap.String("path", cfg.Model.Path), zap.Error(err))
	}
	metrics.SetModelLoaded(predictor.Ready())

	// 3. Initialize database
	var store *db.Store
	if cfg.Database.Path != "" {
		store, err = db.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to initialize database", zap.Error(err))
		}
		defer store.Close()
		logger.Info("database initialized", zap.String("path", cfg.Database.Path))
	}

	hub := monitoring.NewWebSocketHub(logger, metrics)
	go hub.Start()
	defer hub.Stop()

	if cfg.Model.Watch {
		watcher, err := monitoring.NewArtifactWatcher(cfg.Model.Path, logger, metrics)
		if err != nil {
			logger.Warn("artifact watcher disabled", zap.Error(err))
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logger.Error("artifact watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	// 4. Start HTTP server
	server, err := whttp.NewServer(cfg.Server, whttp.Deps{
		Predictor: predictor,
		Store:     store,
		Hub:       hub,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
}

// loadPredictor reads the artifact. Without require_artifact a missing
// model degrades to a predictor that fails every request.
func loadPredictor(cfg config.ModelConfig, logger *zap.Logger) (*ml.Predictor, error) {
	artifact, err := ml.LoadModel(cfg.Path)
	if err != nil {
		if cfg.RequireArtifact || !errors.Is(err, ml.ErrArtifactNotFound) {
			return nil, err
		}
		logger.Warn("model artifact missing, predictions will fail until the model is trained",
			zap.String("path", cfg.Path))
		return ml.UnavailablePredictor(err), nil
	}

	predictor, err := ml.NewPredictor(artifact, ml.PredictorOptions{CacheSize: cfg.CacheSize})
	if err != nil {
		return nil, err
	}
	logger.Info("model loaded",
		zap.String("path", cfg.Path),
		zap.Int("trees", len(artifact.Forest.Trees)),
		zap.Float64("test_accuracy", artifact.Metadata.TestAccuracy))
	return predictor, nil
}
