package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"weathercast/config"
	"weathercast/db"
	"weathercast/logging"
	"weathercast/ml"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	modelPath := flag.String("model_path", "", "model output path (overrides model.path)")
	dbPath := flag.String("db", "", "sqlite database for the training log (overrides database.path)")
	samples := flag.Int("samples", 0, "number of synthetic samples")
	trees := flag.Int("trees", 0, "number of trees in the forest")
	maxDepth := flag.Int("max_depth", 0, "max tree depth")
	testRatio := flag.Float64("test_ratio", 0, "test ratio")
	seed := flag.Uint64("seed", 0, "random seed")
	noLog := flag.Bool("no_log", false, "do not record the run in the training log")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *modelPath, *dbPath, *samples, *trees, *maxDepth, *testRatio, *seed)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log, "weather-trainer")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := ml.NewTrainer(trainerConfig(cfg.Training), logger).Train(ctx)
	if err != nil {
		logger.Fatal("failed to train model", zap.Error(err))
	}

	fmt.Printf("Training accuracy: %.4f\n", result.TrainAccuracy)
	fmt.Printf("Testing accuracy: %.4f\n\n", result.TestAccuracy)
	fmt.Println("Classification Report:")
	fmt.Println(result.Report.String())

	if err := result.Artifact.Save(cfg.Model.Path); err != nil {
		logger.Fatal("failed to save model", zap.String("path", cfg.Model.Path), zap.Error(err))
	}
	logger.Info("model saved", zap.String("path", cfg.Model.Path), zap.Duration("duration", result.Duration))

	if *noLog || cfg.Database.Path == "" {
		return
	}
	if err := recordRun(ctx, cfg, result); err != nil {
		logger.Warn("failed to record training run", zap.Error(err))
	}
}

func applyFlags(cfg *config.Config, modelPath, dbPath string, samples, trees, maxDepth int, testRatio float64, seed uint64) {
	if modelPath != "" {
		cfg.Model.Path = modelPath
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if samples > 0 {
		cfg.Training.Samples = samples
	}
	if trees > 0 {
		cfg.Training.Trees = trees
	}
	if maxDepth > 0 {
		cfg.Training.MaxDepth = maxDepth
	}
	if testRatio > 0 {
		cfg.Training.TestRatio = testRatio
	}
	if seed > 0 {
		cfg.Training.Seed = seed
	}
}

func trainerConfig(tc config.TrainingConfig) ml.TrainerConfig {
	out := ml.DefaultTrainerConfig()
	out.Samples = tc.Samples
	out.Seed = tc.Seed
	out.TestRatio = tc.TestRatio
	out.Forest.Trees = tc.Trees
	out.Forest.Seed = tc.Seed
	out.Forest.Tree.MaxDepth = tc.MaxDepth
	out.Forest.Tree.MinSamplesSplit = tc.MinSamplesSplit
	out.Forest.Tree.MinSamplesLeaf = tc.MinSamplesLeaf
	return out
}

func recordRun(ctx context.Context, cfg *config.Config, result *ml.TrainingResult) error {
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.SaveTrainingLog(ctx, db.TrainingLog{
		ModelName:     "random_forest",
		TrainAccuracy: result.TrainAccuracy,
		TestAccuracy:  result.TestAccuracy,
		Precision:     result.Report.WeightedAvg.Precision,
		Recall:        result.Report.WeightedAvg.Recall,
		TrainedAt:     time.Now(),
		DataPoints:    result.Artifact.Metadata.Samples,
		ArtifactPath:  cfg.Model.Path,
	})
}
