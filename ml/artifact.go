package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ArtifactVersion is bumped whenever the on-disk layout changes.
const ArtifactVersion = "1"

// Artifact bundles the fitted classifier with the scaler it was trained
// against. The two are only valid together.
type Artifact struct {
	Version  string          `json:"version"`
	Classes  []Label         `json:"classes"`
	Features []string        `json:"features"`
	Scaler   *StandardScaler `json:"scaler"`
	Forest   *RandomForest   `json:"forest"`
	Metadata TrainingMeta    `json:"metadata"`
}

// TrainingMeta records how an artifact was produced.
type TrainingMeta struct {
	CreatedAt     time.Time `json:"created_at"`
	Samples       int       `json:"samples"`
	TrainSamples  int       `json:"train_samples"`
	TestSamples   int       `json:"test_samples"`
	TrainAccuracy float64   `json:"train_accuracy"`
	TestAccuracy  float64   `json:"test_accuracy"`
}

// NewArtifact bundles a trained forest and fitted scaler.
func NewArtifact(forest *RandomForest, scaler *StandardScaler, meta TrainingMeta) *Artifact {
	return &Artifact{
		Version:  ArtifactVersion,
		Classes:  append([]Label(nil), Classes...),
		Features: FeatureNames(),
		Scaler:   scaler,
		Forest:   forest,
		Metadata: meta,
	}
}

// Validate checks that the bundle is usable for inference.
func (a *Artifact) Validate() error {
	if a.Version != ArtifactVersion {
		return fmt.Errorf("unsupported artifact version %q", a.Version)
	}
	if !a.Scaler.Fitted() {
		return ErrScalerNotFitted
	}
	if len(a.Features) != len(FeatureNames()) || len(a.Scaler.Mean) != len(a.Features) {
		return fmt.Errorf("artifact has %d features, scaler %d, want %d",
			len(a.Features), len(a.Scaler.Mean), len(FeatureNames()))
	}
	if a.Forest == nil || len(a.Forest.Trees) == 0 {
		return ErrModelNotTrained
	}
	if len(a.Classes) != a.Forest.NumClasses {
		return fmt.Errorf("artifact lists %d classes, forest has %d", len(a.Classes), a.Forest.NumClasses)
	}
	for _, c := range a.Classes {
		if _, err := ParseLabel(string(c)); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the artifact as gzip-compressed JSON. The file is written
// next to path and renamed into place.
func (a *Artifact) Save(path string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := a.encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (a *Artifact) encode(w io.Writer) error {
	zw := gzip.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(a); err != nil {
		zw.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	return zw.Close()
}

// ReadArtifact decodes and validates an artifact stream.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer zr.Close()

	var a Artifact
	if err := json.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact: %w", err)
	}
	return &a, nil
}

// ClassLabel maps a class index back to its label.
func (a *Artifact) ClassLabel(idx int) (Label, error) {
	if idx < 0 || idx >= len(a.Classes) {
		return "", errors.New("class index out of range")
	}
	return a.Classes[idx], nil
}
