package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TrainerConfig controls the offline training job.
type TrainerConfig struct {
	Samples   int
	Seed      uint64
	TestRatio float64
	Forest    ForestParams
}

// DefaultTrainerConfig returns the production training settings.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Samples:   DefaultSampleCount,
		Seed:      DefaultSeed,
		TestRatio: 0.2,
		Forest:    DefaultForestParams(),
	}
}

// TrainingResult is the outcome of one training run.
type TrainingResult struct {
	Artifact      *Artifact
	TrainAccuracy float64
	TestAccuracy  float64
	Report        *ClassificationReport
	Duration      time.Duration
}

// Trainer generates data, fits the scaler and forest, and evaluates them.
type Trainer struct {
	config TrainerConfig
	logger *zap.Logger
}

func NewTrainer(config TrainerConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{config: config, logger: logger}
}

// Train runs the whole pipeline once. The scaler is fit on the full
// generated feature set before the train/test split.
func (t *Trainer) Train(ctx context.Context) (*TrainingResult, error) {
	start := time.Now()

	t.logger.Info("generating training data",
		zap.Int("samples", t.config.Samples),
		zap.Uint64("seed", t.config.Seed))
	generator := &Generator{Samples: t.config.Samples, Seed: t.config.Seed}
	samples, err := generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate samples: %w", err)
	}
	readings, labels := SplitSamples(samples)

	preprocessor := NewDataPreprocessor(nil)
	features, err := preprocessor.Preprocess(readings, true)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	classIdx := make([]int, len(labels))
	for i, l := range labels {
		classIdx[i] = ClassIndex(l)
		if classIdx[i] < 0 {
			return nil, fmt.Errorf("unknown label %q at row %d", l, i)
		}
	}

	trainX, trainY, testX, testY := splitDataset(features, classIdx, t.config.TestRatio, t.config.Seed)
	if len(trainX) == 0 || len(testX) == 0 {
		return nil, errors.New("not enough samples to split into train and test sets")
	}

	t.logger.Info("training model",
		zap.Int("trees", t.config.Forest.Trees),
		zap.Int("max_depth", t.config.Forest.Tree.MaxDepth),
		zap.Int("train_rows", len(trainX)),
		zap.Int("test_rows", len(testX)))
	forest := NewRandomForest(t.config.Forest, len(Classes))
	if err := forest.Train(ctx, trainX, trainY); err != nil {
		return nil, fmt.Errorf("train forest: %w", err)
	}

	trainPred, err := forest.PredictBatch(trainX)
	if err != nil {
		return nil, err
	}
	testPred, err := forest.PredictBatch(testX)
	if err != nil {
		return nil, err
	}
	trainAcc, err := Accuracy(trainY, trainPred)
	if err != nil {
		return nil, err
	}
	testAcc, err := Accuracy(testY, testPred)
	if err != nil {
		return nil, err
	}
	report, err := NewClassificationReport(testY, testPred, Classes)
	if err != nil {
		return nil, err
	}

	meta := TrainingMeta{
		CreatedAt:     time.Now().UTC(),
		Samples:       len(samples),
		TrainSamples:  len(trainX),
		TestSamples:   len(testX),
		TrainAccuracy: trainAcc,
		TestAccuracy:  testAcc,
	}
	duration := time.Since(start)
	t.logger.Info("model trained",
		zap.Float64("train_accuracy", trainAcc),
		zap.Float64("test_accuracy", testAcc),
		zap.Duration("duration", duration))

	return &TrainingResult{
		Artifact:      NewArtifact(forest, preprocessor.Scaler(), meta),
		TrainAccuracy: trainAcc,
		TestAccuracy:  testAcc,
		Report:        report,
		Duration:      duration,
	}, nil
}
