package ml

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrorKind classifies prediction failures.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindScalerNotFitted  ErrorKind = "scaler_not_fitted"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindInternal         ErrorKind = "internal"
)

// PredictionError is the single error type returned by Predictor.Predict.
type PredictionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PredictionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a prediction error, KindInternal for any other
// non-nil error and "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PredictionError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// validatedReading carries the inference-time domain checks.
type validatedReading struct {
	Temperature float64 `validate:"gte=-20,lte=50"`
	Humidity    float64 `validate:"gte=0,lte=100"`
	Pressure    float64 `validate:"gte=900,lte=1100"`
}

// rangeMessages are reported in this order when several fields fail.
var rangeMessages = []struct {
	field   string
	message string
}{
	{"Humidity", "Humidity must be between 0 and 100%"},
	{"Temperature", "Temperature must be between -20°C and 50°C"},
	{"Pressure", "Pressure must be between 900 and 1100 hPa"},
}

// PredictorOptions tunes the inference adapter.
type PredictorOptions struct {
	// CacheSize bounds the memoized predictions; 0 disables the cache.
	CacheSize int
}

// Predictor serves predictions from a loaded artifact. It is immutable after
// construction and safe for concurrent use.
type Predictor struct {
	artifact     *Artifact
	preprocessor *DataPreprocessor
	validate     *validator.Validate
	cache        *lru.Cache[Reading, Label]
	unavailable  error
}

// NewPredictor wraps a validated artifact.
func NewPredictor(artifact *Artifact, opts PredictorOptions) (*Predictor, error) {
	if artifact == nil {
		return nil, errors.New("artifact is nil")
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	p := &Predictor{
		artifact:     artifact,
		preprocessor: NewDataPreprocessor(artifact.Scaler),
		validate:     validator.New(),
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[Reading, Label](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// UnavailablePredictor answers every prediction with a model_unavailable
// error carrying cause.
func UnavailablePredictor(cause error) *Predictor {
	if cause == nil {
		cause = ErrArtifactNotFound
	}
	return &Predictor{validate: validator.New(), unavailable: cause}
}

// Ready reports whether a model is loaded.
func (p *Predictor) Ready() bool {
	return p != nil && p.unavailable == nil && p.artifact != nil
}

// Metadata returns the training metadata of the loaded artifact.
func (p *Predictor) Metadata() (TrainingMeta, bool) {
	if !p.Ready() {
		return TrainingMeta{}, false
	}
	return p.artifact.Metadata, true
}

// Validate rejects readings outside the domain ranges. Out-of-range input
// is never clipped at inference time.
func (p *Predictor) Validate(r Reading) error {
	err := p.validate.Struct(validatedReading(r))
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &PredictionError{Kind: KindInternal, Err: err}
	}
	failed := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		failed[fe.Field()] = true
	}
	for _, rm := range rangeMessages {
		if failed[rm.field] {
			return &PredictionError{Kind: KindValidation, Message: rm.message}
		}
	}
	return &PredictionError{Kind: KindValidation, Err: err}
}

// Predict validates the reading, standardizes it with the artifact's scaler
// and returns the forest's label.
func (p *Predictor) Predict(_ context.Context, r Reading) (Label, error) {
	if err := p.Validate(r); err != nil {
		return "", err
	}
	if !p.Ready() {
		cause := p.unavailable
		if cause == nil {
			cause = ErrArtifactNotFound
		}
		return "", &PredictionError{Kind: KindModelUnavailable, Err: cause}
	}
	if p.cache != nil {
		if label, ok := p.cache.Get(r); ok {
			return label, nil
		}
	}

	rows, err := p.preprocessor.Preprocess([]Reading{r}, false)
	if err != nil {
		if errors.Is(err, ErrScalerNotFitted) {
			return "", &PredictionError{Kind: KindScalerNotFitted, Err: err}
		}
		return "", &PredictionError{Kind: KindInternal, Err: err}
	}
	idx, _, err := p.artifact.Forest.Predict(rows[0])
	if err != nil {
		return "", &PredictionError{Kind: KindInternal, Err: err}
	}
	label, err := p.artifact.ClassLabel(idx)
	if err != nil {
		return "", &PredictionError{Kind: KindInternal, Err: err}
	}

	if p.cache != nil {
		p.cache.Add(r, label)
	}
	return label, nil
}

// CacheLen returns the number of cached predictions.
func (p *Predictor) CacheLen() int {
	if p == nil || p.cache == nil {
		return 0
	}
	return p.cache.Len()
}
