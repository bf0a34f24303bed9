package ml

import (
	"errors"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ClassMetrics holds per-class precision, recall and F1.
type ClassMetrics struct {
	Label     Label   `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport summarises predictions against ground truth.
type ClassificationReport struct {
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
	Confusion   [][]int        `json:"confusion"`
	Total       int            `json:"total"`
}

// Accuracy returns the share of matching entries.
func Accuracy(actual, predicted []int) (float64, error) {
	if len(actual) != len(predicted) {
		return 0, errors.New("actual and predicted size mismatch")
	}
	if len(actual) == 0 {
		return 0, nil
	}
	var correct int
	for i := range actual {
		if actual[i] == predicted[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(actual)), nil
}

// ConfusionMatrix counts rows by actual class and columns by predicted class.
func ConfusionMatrix(actual, predicted []int, numClasses int) ([][]int, error) {
	if len(actual) != len(predicted) {
		return nil, errors.New("actual and predicted size mismatch")
	}
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	for i := range actual {
		a, p := actual[i], predicted[i]
		if a < 0 || a >= numClasses || p < 0 || p >= numClasses {
			return nil, errors.New("class index out of range")
		}
		matrix[a][p]++
	}
	return matrix, nil
}

// NewClassificationReport computes per-class and averaged metrics.
func NewClassificationReport(actual, predicted []int, classes []Label) (*ClassificationReport, error) {
	matrix, err := ConfusionMatrix(actual, predicted, len(classes))
	if err != nil {
		return nil, err
	}
	acc, err := Accuracy(actual, predicted)
	if err != nil {
		return nil, err
	}

	report := &ClassificationReport{
		Classes:   make([]ClassMetrics, len(classes)),
		Accuracy:  acc,
		Confusion: matrix,
		Total:     len(actual),
	}
	for c, label := range classes {
		tp := matrix[c][c]
		var predictedCount, support int
		for k := range classes {
			predictedCount += matrix[k][c]
			support += matrix[c][k]
		}
		m := ClassMetrics{Label: label, Support: support}
		if predictedCount > 0 {
			m.Precision = float64(tp) / float64(predictedCount)
		}
		if support > 0 {
			m.Recall = float64(tp) / float64(support)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.Classes[c] = m
	}

	report.MacroAvg = ClassMetrics{Label: "macro avg", Support: report.Total}
	report.WeightedAvg = ClassMetrics{Label: "weighted avg", Support: report.Total}
	n := float64(len(classes))
	for _, m := range report.Classes {
		report.MacroAvg.Precision += m.Precision / n
		report.MacroAvg.Recall += m.Recall / n
		report.MacroAvg.F1 += m.F1 / n
		if report.Total > 0 {
			w := float64(m.Support) / float64(report.Total)
			report.WeightedAvg.Precision += m.Precision * w
			report.WeightedAvg.Recall += m.Recall * w
			report.WeightedAvg.F1 += m.F1 * w
		}
	}
	return report, nil
}

// String renders the report as an aligned text table followed by the
// confusion matrix.
func (r *ClassificationReport) String() string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	p.Fprintf(&b, "%14s %10s %10s %10s %10s\n", "", "precision", "recall", "f1-score", "support")
	for _, m := range r.Classes {
		writeRow(p, &b, m)
	}
	b.WriteString("\n")
	p.Fprintf(&b, "%14s %10s %10s %10.2f %10d\n", "accuracy", "", "", r.Accuracy, r.Total)
	writeRow(p, &b, r.MacroAvg)
	writeRow(p, &b, r.WeightedAvg)

	b.WriteString("\nconfusion matrix (rows: actual, cols: predicted)\n")
	p.Fprintf(&b, "%14s", "")
	for _, m := range r.Classes {
		p.Fprintf(&b, " %8s", m.Label)
	}
	b.WriteString("\n")
	for i, row := range r.Confusion {
		p.Fprintf(&b, "%14s", r.Classes[i].Label)
		for _, v := range row {
			p.Fprintf(&b, " %8d", v)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeRow(p *message.Printer, b *strings.Builder, m ClassMetrics) {
	p.Fprintf(b, "%14s %10.2f %10.2f %10.2f %10d\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
}
