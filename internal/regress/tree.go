package regress

const minSplitGain = 1e-12

type node struct {
	feature   int
	threshold float64
	left      int // -1 for leaves
	right     int
	value     float64
}

type tree struct {
	nodes []node
}

func (t *tree) eval(x []float64) float64 {
	i := 0
	for t.nodes[i].left >= 0 {
		n := &t.nodes[i]
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return t.nodes[i].value
}

func (t *tree) evalColumn(columns [][]float64, row int) float64 {
	i := 0
	for t.nodes[i].left >= 0 {
		n := &t.nodes[i]
		if columns[n.feature][row] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return t.nodes[i].value
}

func (t *tree) leaves() int {
	n := 0
	for _, nd := range t.nodes {
		if nd.left < 0 {
			n++
		}
	}
	return n
}

type binStat struct {
	sum   float64
	count int
}

type split struct {
	gain    float64
	feature int
	bin     int
}

type leaf struct {
	node int
	rows []int
	sum  float64
	hist [][]binStat
	best split
}

// growTree fits one regression tree to the residuals of the given rows,
// splitting the leaf with the largest gain until maxLeaves is reached.
func growTree(b *binnedFeatures, resid []float64, rows []int, p Params) *tree {
	t := &tree{nodes: []node{{left: -1, right: -1}}}

	root := &leaf{node: 0, rows: rows, hist: histogram(b, resid, rows)}
	for _, i := range rows {
		root.sum += resid[i]
	}
	root.best = bestSplit(root.hist, root.sum, len(rows), p.MinSamplesLeaf)
	open := []*leaf{root}

	for len(open) < p.Leaves {
		pick := -1
		for i, l := range open {
			if l.best.gain > minSplitGain && (pick < 0 || l.best.gain > open[pick].best.gain) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}

		parent := open[pick]
		left, right := splitLeaf(b, resid, parent, p.MinSamplesLeaf)

		f, bin := parent.best.feature, parent.best.bin
		left.node = len(t.nodes)
		right.node = left.node + 1
		t.nodes[parent.node] = node{
			feature:   f,
			threshold: b.cuts[f][bin],
			left:      left.node,
			right:     right.node,
		}
		t.nodes = append(t.nodes, node{left: -1, right: -1}, node{left: -1, right: -1})

		open[pick] = left
		open = append(open, right)
	}

	for _, l := range open {
		t.nodes[l.node].value = p.LearningRate * l.sum / float64(len(l.rows))
	}
	return t
}

func splitLeaf(b *binnedFeatures, resid []float64, parent *leaf, minLeaf int) (*leaf, *leaf) {
	f, bin := parent.best.feature, parent.best.bin
	codes := b.codes[f]

	left := &leaf{}
	right := &leaf{}
	for _, i := range parent.rows {
		if int(codes[i]) <= bin {
			left.rows = append(left.rows, i)
			left.sum += resid[i]
		} else {
			right.rows = append(right.rows, i)
			right.sum += resid[i]
		}
	}

	// Build the smaller child's histogram directly and derive the other.
	small, large := left, right
	if len(right.rows) < len(left.rows) {
		small, large = right, left
	}
	small.hist = histogram(b, resid, small.rows)
	large.hist = subtractHistogram(parent.hist, small.hist)
	parent.hist = nil

	left.best = bestSplit(left.hist, left.sum, len(left.rows), minLeaf)
	right.best = bestSplit(right.hist, right.sum, len(right.rows), minLeaf)
	return left, right
}

func histogram(b *binnedFeatures, resid []float64, rows []int) [][]binStat {
	hist := make([][]binStat, len(b.codes))
	for f, codes := range b.codes {
		if b.nbins[f] < 2 {
			continue
		}
		h := make([]binStat, b.nbins[f])
		for _, i := range rows {
			c := codes[i]
			h[c].sum += resid[i]
			h[c].count++
		}
		hist[f] = h
	}
	return hist
}

func subtractHistogram(parent, child [][]binStat) [][]binStat {
	out := make([][]binStat, len(parent))
	for f, ph := range parent {
		if ph == nil {
			continue
		}
		h := make([]binStat, len(ph))
		for k := range ph {
			h[k] = binStat{sum: ph[k].sum - child[f][k].sum, count: ph[k].count - child[f][k].count}
		}
		out[f] = h
	}
	return out
}

// bestSplit scans every bin boundary for the split maximising the reduction
// in squared error. Ties keep the lowest feature and bin.
func bestSplit(hist [][]binStat, sum float64, count, minLeaf int) split {
	best := split{feature: -1}
	if count < 2*minLeaf {
		return best
	}
	parentScore := sum * sum / float64(count)

	for f, h := range hist {
		if h == nil {
			continue
		}
		var leftSum float64
		leftCount := 0
		for bin := 0; bin < len(h)-1; bin++ {
			leftSum += h[bin].sum
			leftCount += h[bin].count
			rightCount := count - leftCount
			if leftCount < minLeaf {
				continue
			}
			if rightCount < minLeaf {
				break
			}
			rightSum := sum - leftSum
			gain := leftSum*leftSum/float64(leftCount) + rightSum*rightSum/float64(rightCount) - parentScore
			if gain > best.gain {
				best = split{gain: gain, feature: f, bin: bin}
			}
		}
	}
	return best
}
