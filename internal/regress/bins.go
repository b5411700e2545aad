package regress

import (
	"sort"
)

// binnedFeatures holds each feature column quantised into at most MaxBins
// ordered bins. A value x falls in bin b when cuts[b-1] < x <= cuts[b].
type binnedFeatures struct {
	cuts  [][]float64
	codes [][]uint8
	nbins []int
}

func binFeatures(columns [][]float64, maxBins int) *binnedFeatures {
	b := &binnedFeatures{
		cuts:  make([][]float64, len(columns)),
		codes: make([][]uint8, len(columns)),
		nbins: make([]int, len(columns)),
	}
	for f, col := range columns {
		cuts := cutPoints(col, maxBins)
		codes := make([]uint8, len(col))
		for i, v := range col {
			codes[i] = uint8(binOf(cuts, v))
		}
		b.cuts[f] = cuts
		b.codes[f] = codes
		b.nbins[f] = len(cuts) + 1
	}
	return b
}

func binOf(cuts []float64, v float64) int {
	return sort.Search(len(cuts), func(i int) bool { return v <= cuts[i] })
}

// cutPoints returns strictly increasing split points for a column. Columns
// with few distinct values get a cut between every pair of neighbours;
// wider columns are cut at quantiles.
func cutPoints(col []float64, maxBins int) []float64 {
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)

	distinct := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) < 2 {
		return nil
	}

	if len(distinct) <= maxBins {
		cuts := make([]float64, 0, len(distinct)-1)
		for i := 1; i < len(distinct); i++ {
			cuts = append(cuts, distinct[i-1]+(distinct[i]-distinct[i-1])/2)
		}
		return cuts
	}

	n := len(sorted)
	maxValue := sorted[n-1]
	cuts := make([]float64, 0, maxBins-1)
	for q := 1; q < maxBins; q++ {
		v := sorted[q*n/maxBins]
		if v >= maxValue {
			break
		}
		if len(cuts) > 0 && v <= cuts[len(cuts)-1] {
			continue
		}
		cuts = append(cuts, v)
	}
	return cuts
}
