package evaluate

import (
	"database/sql"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics are regression accuracy figures over the rows that had an actual value.
type Metrics struct {
	MSE   float64
	R2    float64
	Count int
}

// Evaluate compares predictions with actual values row by row. Rows whose
// actual is absent, or where either side is not finite, are skipped. With no
// usable rows both metrics are 0; when the actuals have zero variance R2 is 0.
func Evaluate(predicted []float64, actual []sql.NullFloat64) Metrics {
	n := min(len(predicted), len(actual))

	var preds, acts []float64
	for i := 0; i < n; i++ {
		if !actual[i].Valid || !finite(actual[i].Float64) || !finite(predicted[i]) {
			continue
		}
		preds = append(preds, predicted[i])
		acts = append(acts, actual[i].Float64)
	}
	if len(acts) == 0 {
		return Metrics{}
	}

	mean := stat.Mean(acts, nil)
	var ssRes, ssTot float64
	for i, a := range acts {
		d := preds[i] - a
		ssRes += d * d
		ssTot += (a - mean) * (a - mean)
	}

	m := Metrics{
		MSE:   ssRes / float64(len(acts)),
		Count: len(acts),
	}
	if ssTot > 0 {
		m.R2 = 1 - ssRes/ssTot
	}
	return m
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
