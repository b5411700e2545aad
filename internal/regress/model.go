// Package regress fits gradient-boosted regression trees with squared loss.
//
// Trees are grown leaf-wise over histogram-binned features, which keeps
// training linear in rows per split and handles sparse one-hot columns
// without special casing.
package regress

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrEmptyDataset      = errors.New("regress: empty dataset")
	ErrDimensionMismatch = errors.New("regress: dimension mismatch")
	ErrNonFiniteTarget   = errors.New("regress: non-finite target")
)

type Params struct {
	Trees          int
	Leaves         int
	MinSamplesLeaf int
	LearningRate   float64
	MaxBins        int
	// Subsample is the fraction of rows drawn (without replacement) for each
	// tree. 1 uses every row.
	Subsample float64
	Seed      uint64
}

// DefaultParams mirrors the usual FastTree defaults.
func DefaultParams() Params {
	return Params{
		Trees:          100,
		Leaves:         20,
		MinSamplesLeaf: 10,
		LearningRate:   0.2,
		MaxBins:        255,
		Subsample:      1,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Trees <= 0 {
		p.Trees = d.Trees
	}
	if p.Leaves < 2 {
		p.Leaves = d.Leaves
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = d.MinSamplesLeaf
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.MaxBins < 2 || p.MaxBins > 256 {
		p.MaxBins = d.MaxBins
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		p.Subsample = 1
	}
	return p
}

// Model is an immutable tree ensemble. It is safe for concurrent use.
type Model struct {
	base  float64
	trees []*tree
	width int
}

// Fit trains an ensemble on the rows of x against targets y. Identical
// inputs and Params always produce an identical model.
func Fit(x mat.Matrix, y []float64, p Params) (*Model, error) {
	if x == nil || len(y) == 0 {
		return nil, ErrEmptyDataset
	}
	rows, cols := x.Dims()
	if rows == 0 {
		return nil, ErrEmptyDataset
	}
	if len(y) != rows {
		return nil, fmt.Errorf("%w: %d targets for %d rows", ErrDimensionMismatch, len(y), rows)
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w at row %d", ErrNonFiniteTarget, i)
		}
	}
	p = p.withDefaults()

	columns := make([][]float64, cols)
	for j := range columns {
		col := make([]float64, rows)
		for i := range col {
			col[i] = x.At(i, j)
		}
		columns[j] = col
	}
	binned := binFeatures(columns, p.MaxBins)

	m := &Model{base: stat.Mean(y, nil), width: cols}

	pred := make([]float64, rows)
	for i := range pred {
		pred[i] = m.base
	}
	resid := make([]float64, rows)

	all := make([]int, rows)
	for i := range all {
		all[i] = i
	}
	var rng *rand.Rand
	if p.Subsample < 1 {
		rng = rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	}

	for t := 0; t < p.Trees; t++ {
		for i := range resid {
			resid[i] = y[i] - pred[i]
		}
		sample := all
		if rng != nil {
			sample = subsample(rng, rows, p.Subsample)
		}

		tr := growTree(binned, resid, sample, p)
		for i := range pred {
			pred[i] += tr.evalColumn(columns, i)
		}
		m.trees = append(m.trees, tr)
	}
	return m, nil
}

func subsample(rng *rand.Rand, rows int, frac float64) []int {
	k := int(math.Ceil(frac * float64(rows)))
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(rows)[:k]
	sort.Ints(perm)
	return perm
}

// Width is the feature vector length the model was trained on.
func (m *Model) Width() int { return m.width }

func (m *Model) NumTrees() int { return len(m.trees) }

// NumLeaves returns the total leaf count across all trees.
func (m *Model) NumLeaves() int {
	n := 0
	for _, t := range m.trees {
		n += t.leaves()
	}
	return n
}

// Predict scores one feature vector; len(x) must equal Width.
func (m *Model) Predict(x []float64) float64 {
	out := m.base
	for _, t := range m.trees {
		out += t.eval(x)
	}
	return out
}

// PredictMatrix scores every row of x.
func (m *Model) PredictMatrix(x mat.Matrix) ([]float64, error) {
	if x == nil {
		return nil, nil
	}
	rows, cols := x.Dims()
	if cols != m.width {
		return nil, fmt.Errorf("%w: model expects %d features, got %d", ErrDimensionMismatch, m.width, cols)
	}

	out := make([]float64, rows)
	if d, ok := x.(mat.RawRowViewer); ok {
		for i := range out {
			out[i] = m.Predict(d.RawRowView(i))
		}
		return out, nil
	}

	row := make([]float64, cols)
	for i := range out {
		mat.Row(row, i, x)
		out[i] = m.Predict(row)
	}
	return out, nil
}
