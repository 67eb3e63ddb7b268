package assign

import "github.com/grailbio/readclass/classification"

// BestHit is the best-hit strategy for non-taxonomy, short-read
// classifications: the id of the highest-scoring filtered match, ties
// broken by input order.
type BestHit struct{}

func (BestHit) Compute(_ *classification.Tree, in Inputs) Result {
	sc := in.scratch()
	idx := sc.indices(in.Active)
	return Result{Id: bestHitIn(in.Read, in.ClassificationName, idx)}
}

// BestHitMultiGene is the best-hit-multi-gene strategy for non-taxonomy,
// long-read classifications not using LCA: the matches are segmented
// exactly as in LongRead, and the primary id plus one id per additional
// segment is the best hit within that segment.
type BestHitMultiGene struct{}

func (BestHitMultiGene) Compute(_ *classification.Tree, in Inputs) Result {
	sc := in.scratch()
	segs := segmentMatches(in.Read, in.Active, sc)
	if len(segs) == 0 {
		return Result{}
	}
	ids := sc.segIds[:0]
	for _, seg := range segs {
		ids = append(ids, bestHitIn(in.Read, in.ClassificationName, seg.indices))
	}
	sc.segIds = ids
	return Result{Id: ids[0], Segments: ids}
}
