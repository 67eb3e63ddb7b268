// Package support implements the min-support / disabled-taxa corrector:
// a post-pass over one classification's weight map that redirects ids
// below a weighted-support threshold, and any user-disabled id, up the
// classification tree.
package support

import (
	"math"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/readclass/classification"
)

// bottomUpKey orders ids deepest-first (ties broken by id) for a
// deterministic bottom-up walk, regardless of the order a caller's weight
// map happened to be built in.
type bottomUpKey struct {
	negDepth int32
	id       int32
}

func (k bottomUpKey) Compare(c2 llrb.Comparable) int {
	o := c2.(bottomUpKey)
	switch {
	case k.negDepth != o.negDepth:
		if k.negDepth < o.negDepth {
			return -1
		}
		return 1
	case k.id < o.id:
		return -1
	case k.id > o.id:
		return 1
	default:
		return 0
	}
}

// EffectiveThreshold derives the absolute min-support threshold:
// ceil(minSupportPercent/100 * totalAssigned) whenever minSupportPercent
// > 0 (minSupport is then ignored), else minSupport.
// totalAssigned is readsWithHits + readsAssignedViaMate.
func EffectiveThreshold(minSupport int, minSupportPercent float64, totalAssigned int) float64 {
	if minSupportPercent > 0 {
		return math.Ceil(minSupportPercent / 100 * float64(totalAssigned))
	}
	return float64(minSupport)
}

// Correct computes the fromId->toId rewrite map for one classification:
// ids are visited bottom-up; an id redirects to its parent
// if its accumulated weight (own plus whatever already redirected into
// it from its children) is below threshold, or if the id is disabled --
// regardless of weight. The resulting map need not (and in the disabled
// case, generally does not) point straight to a surviving id: resolving
// a full chain to its final destination is updatelog.Commit's job, which
// lets a redirected-but-still-disabled parent keep redirecting without
// this function needing to look further than one hop at a time.
func Correct(tree *classification.Tree, snapshot *classification.Snapshot, weights map[int32]float64, threshold float64) map[int32]int32 {
	acc := make(map[int32]float64, len(weights))
	allIds := llrb.Tree{}
	seen := make(map[int32]bool, len(weights)*2)
	for id, w := range weights {
		// Sentinel assignments (unassigned, no-hits, low-complexity) are
		// not tree nodes and never migrate.
		if id <= 0 {
			continue
		}
		acc[id] = w
		for cur := id; ; cur = tree.Parent(cur) {
			if seen[cur] {
				break
			}
			seen[cur] = true
			allIds.Insert(bottomUpKey{negDepth: -tree.Depth(cur), id: cur})
			if cur == classification.RootID {
				break
			}
		}
	}
	rewrite := make(map[int32]int32)
	allIds.Do(func(item llrb.Comparable) bool {
		id := item.(bottomUpKey).id
		if id == classification.RootID {
			return false
		}
		disabled := snapshot.IsDisabled(id)
		under := acc[id] < threshold
		if !disabled && !under {
			return false
		}
		parent := tree.Parent(id)
		rewrite[id] = parent
		acc[parent] += acc[id]
		acc[id] = 0
		return false
	})
	return rewrite
}
