package ml

import "context"

// Classifier predicts a class index from a standardized feature vector.
type Classifier interface {
	Predict(features []float64) (int, float64, error)
	PredictProba(features []float64) ([]float64, error)
}

// ModelProvider is the serving contract used by the HTTP layer.
type ModelProvider interface {
	Predict(ctx context.Context, reading Reading) (Label, error)
	Ready() bool
	Metadata() (TrainingMeta, bool)
}

var (
	_ Classifier    = (*RandomForest)(nil)
	_ ModelProvider = (*Predictor)(nil)
)
