package assign

import "github.com/grailbio/readclass/classification"

// LongRead is the LCA-naive-long-read strategy, shared between Taxonomy
// and functional classifications. Filtered matches are
// partitioned into gene segments (segmentMatches); each segment's id is
// the tree-LCA of its matches' ids. For Taxonomy, Compute additionally
// folds the segment ids into a single read-level id via LCA; for
// functional classifications the caller (package pipeline) keeps the
// per-segment ids separate, one update-log entry per segment.
type LongRead struct {
	// Taxonomy selects whether Id is the LCA across segments (true) or
	// simply the first segment's id (false, functional classifications).
	Taxonomy bool
}

func (l LongRead) Compute(tree *classification.Tree, in Inputs) Result {
	sc := in.scratch()
	segs := segmentMatches(in.Read, in.Active, sc)
	if len(segs) == 0 {
		return Result{}
	}
	ids := sc.segIds[:0]
	for _, seg := range segs {
		sc.ids = idsOf(in.Read, in.ClassificationName, seg.indices, sc.ids[:0])
		ids = append(ids, tree.LCAAll(sc.ids))
	}
	sc.segIds = ids
	if l.Taxonomy {
		return Result{Id: tree.LCAAll(ids), Segments: ids}
	}
	return Result{Id: ids[0], Segments: ids}
}
