package evaluate

import (
	"database/sql"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func actuals(vals ...float64) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(vals))
	for i, v := range vals {
		out[i] = sql.NullFloat64{Float64: v, Valid: true}
	}
	return out
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		predicted []float64
		actual    []sql.NullFloat64
		wantMSE   float64
		wantR2    float64
		wantCount int
	}{
		{
			name:      "perfect predictions",
			predicted: []float64{1, 2, 3},
			actual:    actuals(1, 2, 3),
			wantMSE:   0,
			wantR2:    1,
			wantCount: 3,
		},
		{
			name:      "constant offset",
			predicted: []float64{2, 3, 4},
			actual:    actuals(1, 2, 3),
			wantMSE:   1,
			wantR2:    -0.5,
			wantCount: 3,
		},
		{
			name:      "zero variance actuals",
			predicted: []float64{0, 5, 9},
			actual:    actuals(1, 1, 1),
			wantMSE:   (1 + 16 + 64) / 3.0,
			wantR2:    0,
			wantCount: 3,
		},
		{
			name:      "absent actuals excluded",
			predicted: []float64{1, 100, 3},
			actual:    []sql.NullFloat64{{Float64: 1, Valid: true}, {}, {Float64: 3, Valid: true}},
			wantMSE:   0,
			wantR2:    1,
			wantCount: 2,
		},
		{
			name:      "no actuals at all",
			predicted: []float64{4, 5},
			actual:    []sql.NullFloat64{{}, {}},
			wantMSE:   0,
			wantR2:    0,
			wantCount: 0,
		},
		{
			name:      "non-finite values excluded",
			predicted: []float64{1, math.NaN(), 3},
			actual:    actuals(1, 2, 3),
			wantMSE:   0,
			wantR2:    1,
			wantCount: 2,
		},
		{
			name:      "empty",
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.predicted, tt.actual)
			assert.InDelta(t, tt.wantMSE, got.MSE, 1e-9, "MSE")
			assert.InDelta(t, tt.wantR2, got.R2, 1e-9, "R2")
			assert.False(t, math.IsNaN(got.R2) || math.IsInf(got.R2, 0), "R2 = %v, must be finite", got.R2)
			assert.Equal(t, tt.wantCount, got.Count)
		})
	}
}
