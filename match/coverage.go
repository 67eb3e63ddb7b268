package match

import (
	"github.com/grailbio/readclass/interval"
	"github.com/grailbio/readclass/model"
)

// EnsureCovered implements the coverage gate. minPercent is
// minPercentReadToCover; readLength is the read's nucleotide length.
// When ivs is nil, short-read mode is used: a single passing match must
// reach the required length on its own. When ivs is non-nil, it is
// cleared and filled incrementally with each passing match's query
// interval, short-circuiting as soon as the union reaches the
// requirement (long-read mode).
//
// Diverges from the archive's observed behavior on purpose: the
// short-read check here uses |end-start|+1 (the match's actual aligned
// length), not the degenerate always-zero comparison the archive
// computes. Long-read mode passes each inclusive [start,end] match
// interval to interval.Set.Add as (start, end+1); see its doc comment.
func EnsureCovered(minPercent float64, read *model.ReadBlock, active *Mask, ivs *interval.Set) bool {
	required := int(0.01 * minPercent * float64(read.Length))
	if required == 0 {
		return true
	}
	if ivs == nil {
		for i := range read.Matches {
			if !active.Test(i) {
				continue
			}
			if read.Matches[i].AlignedLength() >= required {
				return true
			}
		}
		return false
	}
	ivs.Clear()
	for i := range read.Matches {
		if !active.Test(i) {
			continue
		}
		mb := &read.Matches[i]
		start, end := mb.AlignedQueryStart, mb.AlignedQueryEnd
		if end < start {
			start, end = end, start
		}
		if ivs.Add(start, end+1) >= required {
			return true
		}
	}
	return false
}
