package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassificationReport(t *testing.T) {
	actual := []int{0, 0, 1, 1, 2, 2, 2, 2}
	predicted := []int{0, 1, 1, 1, 2, 2, 2, 0}

	report, err := NewClassificationReport(actual, predicted, Classes)
	require.NoError(t, err)

	assert.Equal(t, [][]int{{1, 1, 0}, {0, 2, 0}, {1, 0, 3}}, report.Confusion)
	assert.InDelta(t, 0.75, report.Accuracy, 1e-12)

	cloudy := report.Classes[0]
	assert.InDelta(t, 0.5, cloudy.Precision, 1e-12)
	assert.InDelta(t, 0.5, cloudy.Recall, 1e-12)
	assert.Equal(t, 2, cloudy.Support)

	rainy := report.Classes[1]
	assert.InDelta(t, 2.0/3.0, rainy.Precision, 1e-12)
	assert.InDelta(t, 1.0, rainy.Recall, 1e-12)
	assert.InDelta(t, 0.8, rainy.F1, 1e-12)

	sunny := report.Classes[2]
	assert.InDelta(t, 1.0, sunny.Precision, 1e-12)
	assert.InDelta(t, 0.75, sunny.Recall, 1e-12)

	assert.Equal(t, 8, report.WeightedAvg.Support)
	assert.InDelta(t, (0.5*2+1.0*2+0.75*4)/8, report.WeightedAvg.Recall, 1e-12)
}

func TestAccuracyMismatch(t *testing.T) {
	_, err := Accuracy([]int{1}, []int{1, 2})
	assert.Error(t, err)
}

func TestConfusionMatrixOutOfRange(t *testing.T) {
	_, err := ConfusionMatrix([]int{0}, []int{3}, 3)
	assert.Error(t, err)
}

func TestParseLabel(t *testing.T) {
	l, err := ParseLabel("rainy")
	require.NoError(t, err)
	assert.Equal(t, Rainy, l)
	_, err = ParseLabel("snowy")
	assert.Error(t, err)
	assert.Equal(t, 2, ClassIndex(Sunny))
	assert.Equal(t, -1, ClassIndex("snowy"))
}
