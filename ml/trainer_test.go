package ml

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func smallTrainerConfig() TrainerConfig {
	cfg := DefaultTrainerConfig()
	cfg.Samples = 2000
	cfg.Forest.Trees = 20
	return cfg
}

func trainSmallArtifact(t *testing.T) *TrainingResult {
	t.Helper()
	result, err := NewTrainer(smallTrainerConfig(), zap.NewNop()).Train(context.Background())
	require.NoError(t, err)
	return result
}

func TestTrainerProducesUsableArtifact(t *testing.T) {
	result := trainSmallArtifact(t)

	assert.Greater(t, result.TestAccuracy, 0.5)
	assert.GreaterOrEqual(t, result.TrainAccuracy, result.TestAccuracy)
	assert.Equal(t, 1600, result.Artifact.Metadata.TrainSamples)
	assert.Equal(t, 400, result.Artifact.Metadata.TestSamples)
	require.NoError(t, result.Artifact.Validate())

	require.Len(t, result.Report.Classes, len(Classes))
	assert.Equal(t, 400, result.Report.Total)
	assert.InDelta(t, result.TestAccuracy, result.Report.Accuracy, 1e-12)
	text := result.Report.String()
	for _, l := range Classes {
		assert.Contains(t, text, string(l))
	}
	assert.True(t, strings.Contains(text, "weighted avg"))
}

func TestTrainerLearnsRuleRegions(t *testing.T) {
	result := trainSmallArtifact(t)
	predictor, err := NewPredictor(result.Artifact, PredictorOptions{})
	require.NoError(t, err)

	cases := []struct {
		reading Reading
		want    Label
	}{
		{Reading{Temperature: 20, Humidity: 90, Pressure: 1004}, Rainy},
		{Reading{Temperature: 22, Humidity: 50, Pressure: 1004}, Cloudy},
		{Reading{Temperature: 36, Humidity: 40, Pressure: 1016}, Sunny},
	}
	for _, c := range cases {
		got, err := predictor.Predict(context.Background(), c.reading)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "reading %+v", c.reading)
	}
}

func TestTrainerDeterministic(t *testing.T) {
	first := trainSmallArtifact(t)
	second := trainSmallArtifact(t)
	assert.Equal(t, first.Artifact.Scaler, second.Artifact.Scaler)
	assert.Equal(t, first.Artifact.Forest.Trees, second.Artifact.Forest.Trees)
	assert.Equal(t, first.TestAccuracy, second.TestAccuracy)
}

func TestArtifactSaveLoadRoundTrip(t *testing.T) {
	result := trainSmallArtifact(t)
	path := filepath.Join(t.TempDir(), "models", "weather_model.json.gz")
	require.NoError(t, result.Artifact.Save(path))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, result.Artifact.Scaler, loaded.Scaler)
	assert.Equal(t, result.Artifact.Classes, loaded.Classes)

	original, err := NewPredictor(result.Artifact, PredictorOptions{})
	require.NoError(t, err)
	restored, err := NewPredictor(loaded, PredictorOptions{})
	require.NoError(t, err)

	samples, err := (&Generator{Samples: 200, Seed: 99}).Generate()
	require.NoError(t, err)
	for _, s := range samples {
		r := s.Reading
		r.Humidity = HumidityRange.Clip(r.Humidity)
		r.Temperature = TemperatureRange.Clip(r.Temperature)
		r.Pressure = PressureRange.Clip(r.Pressure)
		want, err := original.Predict(context.Background(), r)
		require.NoError(t, err)
		got, err := restored.Predict(context.Background(), r)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestLoadModelMissing(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "missing.gz"))
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestLoadModelCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0o600))
	_, err := LoadModel(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrArtifactNotFound)
}

func TestArtifactValidateRejectsUnfittedScaler(t *testing.T) {
	result := trainSmallArtifact(t)
	broken := *result.Artifact
	broken.Scaler = &StandardScaler{}
	assert.ErrorIs(t, broken.Validate(), ErrScalerNotFitted)

	_, err := NewPredictor(&broken, PredictorOptions{})
	assert.ErrorIs(t, err, ErrScalerNotFitted)
}
