// Package assign implements the assignment strategies: computing a
// classification id (or, in long-read mode, several) from a read's
// filtered match set. Strategies are dispatched through a uniform
// Strategy interface, one concrete type per algorithm, rather than
// per-classification dynamic dispatch.
package assign

import (
	"sort"

	"github.com/grailbio/readclass/classification"
	"github.com/grailbio/readclass/interval"
	"github.com/grailbio/readclass/match"
	"github.com/grailbio/readclass/model"
)

// Inputs bundles the read-level state every strategy needs.
type Inputs struct {
	Read               *model.ReadBlock
	Active             *match.Mask
	ClassificationName string

	// Scratch, if non-nil, supplies the reusable buffers Compute works
	// in. The pipeline driver wires one Scratch per (worker,
	// classification) pair so the inner loop never reallocates them; a
	// nil Scratch makes Compute allocate a throwaway one.
	Scratch *Scratch
}

// Scratch holds the match-index, id and weight buffers a strategy reuses
// across reads. The zero value is ready to use. A Result's Segments
// slice aliases the Scratch it was computed with, so a Scratch must not
// be handed to another Compute call until the Result has been consumed,
// and must never be shared across concurrent Compute calls.
type Scratch struct {
	idx    []int
	ids    []int32
	segIds []int32
	segs   []geneSegment
	weight map[int32]float64
	direct map[int32]float64
	ivs    interval.Set
}

// indices refills and returns the scratch index list with Active's
// passing match indices, in input order.
func (s *Scratch) indices(active *match.Mask) []int {
	s.idx = active.Indices(s.idx[:0])
	return s.idx
}

// weightMap returns the cleared scratch weight accumulator.
func (s *Scratch) weightMap() map[int32]float64 {
	if s.weight == nil {
		s.weight = make(map[int32]float64)
	}
	for k := range s.weight {
		delete(s.weight, k)
	}
	return s.weight
}

// directMap returns the cleared scratch per-id direct-weight map.
func (s *Scratch) directMap() map[int32]float64 {
	if s.direct == nil {
		s.direct = make(map[int32]float64)
	}
	for k := range s.direct {
		delete(s.direct, k)
	}
	return s.direct
}

// scratch returns the caller-provided Scratch, or a throwaway one when
// the caller (tests, mostly) didn't wire any.
func (in Inputs) scratch() *Scratch {
	if in.Scratch != nil {
		return in.Scratch
	}
	return &Scratch{}
}

// Result is a strategy's output. Id is the primary (or sole) assignment,
// 0 if none. Segments is non-nil only for long-read strategies: one id
// per gene segment, in segment order, with Segments[0] == Id. The
// pipeline driver uses Segments to build the extra update-log entries
// that give each gene segment of a long read its own classification.
type Result struct {
	Id       int32
	Segments []int32
}

// Strategy computes a classification assignment from a read's filtered
// matches. Strategies never fail; missing inputs simply yield id 0.
type Strategy interface {
	Compute(tree *classification.Tree, in Inputs) Result
}

// geneSegment is one cluster of filtered matches occupying (approximately)
// the same region of the query, built by segmentMatches.
type geneSegment struct {
	repStart, repEnd int
	indices          []int
}

// normalizeSpan returns a match's query interval as (start, end) with
// start <= end, matching AlignedQueryStart/End's "may be reversed on the
// reverse strand" convention.
func normalizeSpan(mb *model.MatchBlock) (int, int) {
	s, e := mb.AlignedQueryStart, mb.AlignedQueryEnd
	if e < s {
		s, e = e, s
	}
	return s, e
}

// segmentMatches partitions a read's active matches into non-overlapping
// "gene segments" on the query: matches are visited greedily by
// descending bit-score; a match joins the first existing
// segment whose representative (highest-scoring) interval it overlaps by
// more than half the shorter interval's length, else it starts a new
// segment of its own. Segments are returned in the order their
// representative match was chosen (i.e. by descending representative
// score). The returned slice and its per-segment index lists are views
// into sc's storage, valid until its next use.
func segmentMatches(read *model.ReadBlock, active *match.Mask, sc *Scratch) []geneSegment {
	idx := sc.indices(active)
	sort.SliceStable(idx, func(i, j int) bool {
		return read.Matches[idx[i]].BitScore > read.Matches[idx[j]].BitScore
	})
	segs := sc.segs[:0]
	for _, i := range idx {
		s, e := normalizeSpan(&read.Matches[i])
		length := e - s + 1
		placed := false
		for si := range segs {
			rs, re := segs[si].repStart, segs[si].repEnd
			os, oe := s, rs
			if rs > os {
				os = rs
			}
			oe = e
			if re < oe {
				oe = re
			}
			if oe < os {
				continue
			}
			overlap := oe - os + 1
			repLen := re - rs + 1
			shorter := length
			if repLen < shorter {
				shorter = repLen
			}
			if overlap*2 > shorter {
				segs[si].indices = append(segs[si].indices, i)
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		if n := len(segs); n < cap(segs) {
			// Recycle the retired segment (and its index list) already
			// sitting in the backing array.
			segs = segs[:n+1]
			segs[n].repStart, segs[n].repEnd = s, e
			segs[n].indices = append(segs[n].indices[:0], i)
		} else {
			segs = append(segs, geneSegment{repStart: s, repEnd: e, indices: []int{i}})
		}
	}
	sc.segs = segs
	return segs
}

// idsOf returns the non-zero classification ids the matches in indices
// carry, in a scratch slice (callers must not retain it past the next
// call).
func idsOf(read *model.ReadBlock, classificationName string, indices []int, scratch []int32) []int32 {
	scratch = scratch[:0]
	for _, i := range indices {
		if id := read.Matches[i].Id(classificationName); id > 0 {
			scratch = append(scratch, id)
		}
	}
	return scratch
}

// bestHitIn returns the id (for classificationName) of the highest-scoring
// match among indices, ties broken by input order. Returns 0 if indices is
// empty or none of them carry an id.
func bestHitIn(read *model.ReadBlock, classificationName string, indices []int) int32 {
	best := -1
	var bestScore float64
	for _, i := range indices {
		id := read.Matches[i].Id(classificationName)
		if id <= 0 {
			continue
		}
		if best < 0 || read.Matches[i].BitScore > bestScore {
			best = i
			bestScore = read.Matches[i].BitScore
		}
	}
	if best < 0 {
		return 0
	}
	return read.Matches[best].Id(classificationName)
}
