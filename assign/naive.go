package assign

import "github.com/grailbio/readclass/classification"

// identityRankThresholds gives the minimum percent identity that makes a
// 16S hit trustworthy at rankOrder's corresponding rank:
// species, genus, family, order, class, phylum.
var identityRankThresholds = [6]float64{97, 95, 90, 85, 80, 75}

// allowedRankIndex returns the finest (smallest index) rank whose
// identity threshold maxIdentity clears, or len(identityRankThresholds)
// if it clears none of them (not even phylum) -- in which case the
// caller should clamp all the way to the root.
func allowedRankIndex(maxIdentity float64) int {
	for i, th := range identityRankThresholds {
		if maxIdentity >= th {
			return i
		}
	}
	return len(identityRankThresholds)
}

// Naive is the LCA-naive strategy: intersect the ids of all filtered
// matches by tree-LCA, optionally clamped to a coarser rank when the
// matches' percent identity doesn't support finer 16S resolution.
type Naive struct {
	// UseIdentityFilter enables the 16S rank clamp. Only meaningful for
	// Taxonomy; non-taxonomy classifications never set this (see LCA).
	UseIdentityFilter bool
}

func (n Naive) Compute(tree *classification.Tree, in Inputs) Result {
	sc := in.scratch()
	idx := sc.indices(in.Active)
	if len(idx) == 0 {
		return Result{}
	}
	sc.ids = idsOf(in.Read, in.ClassificationName, idx, sc.ids[:0])
	id := tree.LCAAll(sc.ids)
	if id <= 0 {
		return Result{}
	}
	if n.UseIdentityFilter {
		maxIdentity := -1.0
		for _, i := range idx {
			pid := in.Read.Matches[i].PercentIdentity
			if pid > maxIdentity {
				maxIdentity = pid
			}
		}
		if maxIdentity >= 0 {
			id = tree.ClampToRank(id, allowedRankIndex(maxIdentity))
		}
	}
	return Result{Id: id}
}

// LCA is the plain LCA strategy for non-taxonomy classifications:
// identical to Naive but never applies the 16S clamp.
type LCA struct{}

func (LCA) Compute(tree *classification.Tree, in Inputs) Result {
	return Naive{UseIdentityFilter: false}.Compute(tree, in)
}
