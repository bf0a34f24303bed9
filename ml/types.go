package ml

import "fmt"

// Label is a predicted weather category.
type Label string

const (
	Cloudy Label = "cloudy"
	Rainy  Label = "rainy"
	Sunny  Label = "sunny"
)

// Classes is the class index order used by the classifier and persisted in
// the artifact. Index i of a probability vector refers to Classes[i].
var Classes = []Label{Cloudy, Rainy, Sunny}

// ParseLabel maps a string to a known label.
func ParseLabel(s string) (Label, error) {
	for _, l := range Classes {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown label %q", s)
}

// ClassIndex returns the index of label in Classes, or -1.
func ClassIndex(label Label) int {
	for i, l := range Classes {
		if l == label {
			return i
		}
	}
	return -1
}

// Reading is one set of sensor values.
type Reading struct {
	Temperature float64 `json:"temperature" db:"temperature"`
	Humidity    float64 `json:"humidity" db:"humidity"`
	Pressure    float64 `json:"pressure" db:"pressure"`
}

// Sample is a labeled reading used for training.
type Sample struct {
	Reading
	Label Label `json:"weather"`
}

// Bounds is a closed value range.
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

func (b Bounds) Clip(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Domain ranges for the three sensor fields. Training clips to them,
// inference rejects anything outside them.
var (
	TemperatureRange = Bounds{Min: -20, Max: 50}
	HumidityRange    = Bounds{Min: 0, Max: 100}
	PressureRange    = Bounds{Min: 900, Max: 1100}
)

// FeatureNames lists the feature columns in vector order.
func FeatureNames() []string {
	return []string{"temperature", "humidity", "pressure"}
}

// FeatureVector returns the raw features of a reading in FeatureNames order.
func FeatureVector(r Reading) []float64 {
	return []float64{r.Temperature, r.Humidity, r.Pressure}
}

func featureBounds() []Bounds {
	return []Bounds{TemperatureRange, HumidityRange, PressureRange}
}
