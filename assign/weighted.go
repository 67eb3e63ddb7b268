package assign

import "github.com/grailbio/readclass/classification"

// Weighted is the LCA-weighted strategy: every id reachable from a
// filtered match accumulates that match's bit-score along its ancestor
// chain; the winner is the deepest id whose cumulative weight reaches
// Percent% of the total. Ties among equally deep candidates are resolved
// by taking their LCA.
type Weighted struct {
	// Percent is weightedLCAPercent, in (0,100].
	Percent float64
}

func (w Weighted) Compute(tree *classification.Tree, in Inputs) Result {
	sc := in.scratch()
	idx := sc.indices(in.Active)
	if len(idx) == 0 {
		return Result{}
	}
	weight := sc.weightMap()
	var total float64
	for _, i := range idx {
		id := in.Read.Matches[i].Id(in.ClassificationName)
		if id <= 0 {
			continue
		}
		score := in.Read.Matches[i].BitScore
		total += score
		for cur := id; ; cur = tree.Parent(cur) {
			weight[cur] += score
			if cur == classification.RootID {
				break
			}
		}
	}
	if total <= 0 {
		return Result{}
	}
	id := deepestAboveThreshold(tree, sc, weight, w.Percent/100*total)
	if id <= 0 {
		// Nothing cleared the threshold; treated as "no assignment"
		// rather than falling back to the root.
		return Result{}
	}
	return Result{Id: id}
}

// deepestAboveThreshold picks the deepest id in weight whose accumulated
// weight reaches threshold; equally deep candidates resolve to their
// LCA. Returns 0 when nothing qualifies. Borrows sc.ids for the
// candidate list.
func deepestAboveThreshold(tree *classification.Tree, sc *Scratch, weight map[int32]float64, threshold float64) int32 {
	candidates := sc.ids[:0]
	maxDepth := int32(-1)
	for id, wt := range weight {
		if wt < threshold {
			continue
		}
		d := tree.Depth(id)
		switch {
		case d > maxDepth:
			maxDepth = d
			candidates = append(candidates[:0], id)
		case d == maxDepth:
			candidates = append(candidates, id)
		}
	}
	sc.ids = candidates
	if len(candidates) == 0 {
		return 0
	}
	return tree.LCAAll(candidates)
}
