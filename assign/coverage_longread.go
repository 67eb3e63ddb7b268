package assign

import "github.com/grailbio/readclass/classification"

// CoverageLongRead is the LCA-coverage-long-read strategy: like Weighted,
// but each id's direct weight is the covered query length of its own
// matches (via the scratch interval set) rather than a bit-score sum.
type CoverageLongRead struct {
	// Percent is weightedLCAPercent, in (0,100].
	Percent float64
}

func (c CoverageLongRead) Compute(tree *classification.Tree, in Inputs) Result {
	sc := in.scratch()
	idx := sc.indices(in.Active)
	if len(idx) == 0 {
		return Result{}
	}
	// Collect the distinct ids carried by the active matches. A linear
	// containment scan beats a map here: a read rarely hits more than a
	// handful of distinct ids.
	ids := sc.ids[:0]
	for _, i := range idx {
		id := in.Read.Matches[i].Id(in.ClassificationName)
		if id <= 0 {
			continue
		}
		seen := false
		for _, prev := range ids {
			if prev == id {
				seen = true
				break
			}
		}
		if !seen {
			ids = append(ids, id)
		}
	}
	sc.ids = ids
	if len(ids) == 0 {
		return Result{}
	}
	direct := sc.directMap()
	var total float64
	for _, id := range ids {
		sc.ivs.Clear()
		for _, i := range idx {
			if in.Read.Matches[i].Id(in.ClassificationName) != id {
				continue
			}
			s, e := normalizeSpan(&in.Read.Matches[i])
			sc.ivs.Add(s, e+1)
		}
		w := float64(sc.ivs.CoveredLength())
		direct[id] = w
		total += w
	}
	if total <= 0 {
		return Result{}
	}
	weight := sc.weightMap()
	for id, w := range direct {
		for cur := id; ; cur = tree.Parent(cur) {
			weight[cur] += w
			if cur == classification.RootID {
				break
			}
		}
	}
	id := deepestAboveThreshold(tree, sc, weight, c.Percent/100*total)
	if id <= 0 {
		return Result{}
	}
	return Result{Id: id}
}
