package ml

import (
	"errors"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	DefaultSampleCount = 5000
	DefaultSeed        = 42
)

// humidity bounds for generated samples, tighter than the feature domain
var generatedHumidity = Bounds{Min: 30, Max: 95}

// Generator produces labeled synthetic readings. It stands in for real
// historical data; the labeling rule in LabelFor is fixed.
type Generator struct {
	Samples int
	Seed    uint64
}

// NewGenerator returns a generator with the default sample count and seed.
func NewGenerator() *Generator {
	return &Generator{Samples: DefaultSampleCount, Seed: DefaultSeed}
}

// Generate draws all temperatures, then all humidities, then all pressures,
// then one coin per sample that falls through to the random branch, from a
// single seeded source. The same seed always yields the same samples.
func (g *Generator) Generate() ([]Sample, error) {
	n := g.Samples
	if n <= 0 {
		return nil, errors.New("sample count must be positive")
	}

	src := rand.NewPCG(g.Seed, g.Seed)
	rnd := rand.New(src)

	temperature := distuv.Normal{Mu: 25, Sigma: 5, Src: src}
	humidity := distuv.Normal{Mu: 65, Sigma: 15, Src: src}
	pressure := distuv.Normal{Mu: 1013, Sigma: 5, Src: src}

	temps := make([]float64, n)
	for i := range temps {
		temps[i] = temperature.Rand()
	}
	hums := make([]float64, n)
	for i := range hums {
		base := humidity.Rand()
		// warmer air tends to be drier
		hums[i] = generatedHumidity.Clip(base - (temps[i]-25)*0.5)
	}
	presses := make([]float64, n)
	for i := range presses {
		presses[i] = pressure.Rand()
	}

	samples := make([]Sample, n)
	for i := 0; i < n; i++ {
		reading := Reading{Temperature: temps[i], Humidity: hums[i], Pressure: presses[i]}
		samples[i] = Sample{
			Reading: reading,
			Label:   LabelFor(reading, rnd.Float64),
		}
	}
	return samples, nil
}

// LabelFor applies the rule cascade that labels synthetic readings. coin is
// only called when no rule matches.
func LabelFor(r Reading, coin func() float64) Label {
	switch {
	case r.Pressure < 1008:
		if r.Humidity > 70 {
			return Rainy
		}
		return Cloudy
	case r.Temperature > 30 && r.Humidity < 60:
		return Sunny
	case r.Humidity > 80:
		return Rainy
	}
	if coin() > 0.5 {
		return Sunny
	}
	return Cloudy
}

// SplitSamples separates readings from labels.
func SplitSamples(samples []Sample) ([]Reading, []Label) {
	readings := make([]Reading, len(samples))
	labels := make([]Label, len(samples))
	for i, s := range samples {
		readings[i] = s.Reading
		labels[i] = s.Label
	}
	return readings, labels
}
