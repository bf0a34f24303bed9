package ml

import (
	"errors"
	"fmt"
	"os"
)

// ErrArtifactNotFound means no trained model exists at the configured path.
var ErrArtifactNotFound = errors.New("model not found. Please train the model first")

// LoadModel reads the artifact at path.
func LoadModel(path string) (*Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, err
	}
	defer file.Close()
	return ReadArtifact(file)
}
