package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrScalerNotFitted is returned when a transform is requested before the
// scaler has been fit.
var ErrScalerNotFitted = errors.New("scaler not fitted")

// StandardScaler standardizes each feature to zero mean and unit variance.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fitted reports whether Fit has produced usable statistics.
func (s *StandardScaler) Fitted() bool {
	return s != nil && len(s.Mean) > 0 && len(s.Mean) == len(s.Scale)
}

// Fit computes per-column mean and population standard deviation. Columns
// with zero variance get a scale of 1.
func (s *StandardScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return errors.New("cannot fit scaler on empty data")
	}
	width := len(rows[0])
	mean := make([]float64, width)
	scale := make([]float64, width)
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			if len(row) != width {
				return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
			}
			col[i] = row[j]
		}
		m, variance := stat.PopMeanVariance(col, nil)
		mean[j] = m
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		scale[j] = std
	}
	s.Mean = mean
	s.Scale = scale
	return nil
}

// Transform standardizes rows with the fitted statistics. It never refits.
func (s *StandardScaler) Transform(rows [][]float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, ErrScalerNotFitted
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row %d has %d features, scaler expects %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// FitTransform fits on rows and returns them standardized.
func (s *StandardScaler) FitTransform(rows [][]float64) ([][]float64, error) {
	if err := s.Fit(rows); err != nil {
		return nil, err
	}
	return s.Transform(rows)
}

// DataPreprocessor turns readings into model features: fill missing values,
// clip to the domain ranges, then standardize.
type DataPreprocessor struct {
	scaler *StandardScaler
}

// NewDataPreprocessor wraps an existing scaler. A nil scaler starts unfitted.
func NewDataPreprocessor(scaler *StandardScaler) *DataPreprocessor {
	if scaler == nil {
		scaler = &StandardScaler{}
	}
	return &DataPreprocessor{scaler: scaler}
}

// Scaler returns the underlying scaler.
func (p *DataPreprocessor) Scaler() *StandardScaler {
	if p.scaler == nil {
		p.scaler = &StandardScaler{}
	}
	return p.scaler
}

// Preprocess clips every record to the domain ranges. With fit the scaler is
// fit on the clipped batch first; without it a previously fit scaler is
// required.
func (p *DataPreprocessor) Preprocess(records []Reading, fit bool) ([][]float64, error) {
	if len(records) == 0 {
		return nil, errors.New("records is empty")
	}
	rows := clipRows(fillMissing(records))
	scaler := p.Scaler()
	if fit {
		return scaler.FitTransform(rows)
	}
	return scaler.Transform(rows)
}

// fillMissing replaces NaN fields with the batch column mean.
func fillMissing(records []Reading) [][]float64 {
	rows := make([][]float64, len(records))
	for i, r := range records {
		rows[i] = FeatureVector(r)
	}
	width := len(FeatureNames())
	for j := 0; j < width; j++ {
		var sum float64
		var count int
		for _, row := range rows {
			if !math.IsNaN(row[j]) {
				sum += row[j]
				count++
			}
		}
		if count == len(rows) || count == 0 {
			continue
		}
		mean := sum / float64(count)
		for _, row := range rows {
			if math.IsNaN(row[j]) {
				row[j] = mean
			}
		}
	}
	return rows
}

func clipRows(rows [][]float64) [][]float64 {
	bounds := featureBounds()
	for _, row := range rows {
		for j := range row {
			row[j] = bounds[j].Clip(row[j])
		}
	}
	return rows
}
