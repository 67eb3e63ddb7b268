// Package model defines the in-memory data model for the
// read-classification pipeline: read/match blocks as delivered by the
// archive connector, run parameters, and the sentinel class ids that are
// part of the persisted archive contract.
//
// These are plain structs rather than protobuf-generated types: the wire
// format itself is an external contract (see package archive), and no
// .proto source exists in this tree to regenerate from.
package model

import "fmt"

const (
	// UnassignedID is the conceptual "no id" class. It is also the value
	// any computed id is clamped to when it falls outside a
	// classification's known-id set.
	UnassignedID = 0

	// NoHitsID marks a read that had zero matches at all (as opposed to
	// matches that were all filtered out).
	NoHitsID = -1

	// LowComplexityID marks a read whose complexity score fell below the
	// configured minimum; such reads are never run through filtering or
	// assignment.
	LowComplexityID = -4
)

// MatchBlock is one alignment of a read against a reference sequence.
//
// AlignedQueryStart/End are 1-based and inclusive, and may be reversed
// when the match is on the reverse strand; the aligned length is
// |End-Start|+1.
type MatchBlock struct {
	BitScore          float64
	Expected          float64
	PercentIdentity   float64 // < 0 means "unknown"; such matches pass the identity filter
	AlignedQueryStart int
	AlignedQueryEnd   int

	// ClassIds maps a classification name (e.g. "Taxonomy", "KEGG") to the
	// id this match carries in that classification. 0 means "none".
	ClassIds map[string]int32
}

// Id returns the match's id in the given classification, or 0 if the
// match has none.
func (m *MatchBlock) Id(classificationName string) int32 {
	if m.ClassIds == nil {
		return 0
	}
	return m.ClassIds[classificationName]
}

// AlignedLength returns |End-Start|+1.
func (m *MatchBlock) AlignedLength() int {
	d := m.AlignedQueryEnd - m.AlignedQueryStart
	if d < 0 {
		d = -d
	}
	return d + 1
}

// ReadBlock is one read and its precomputed matches, as delivered by an
// archive.ReadBlockIterator.
type ReadBlock struct {
	// Uid is an opaque handle into the archive; 0 is never a valid uid.
	Uid uint64

	Name   string
	Header string

	// Length is the nucleotide length of the read.
	Length int

	// Weight is the parsed magnitude from the header, or 0 if none was
	// present (in which case the effective weight defaults to 1).
	Weight int

	// Complexity is in [0,1]; 0 means "unknown" (never low-complexity).
	Complexity float64

	// MateUid is the archive offset of the mate's read block, or 0 if
	// this read has no mate.
	MateUid uint64

	Matches []MatchBlock
}

// EffectiveWeight returns max(1, parsedWeight) * (longReads ? length : 1),
// where parsedWeight is the read's header magnitude when
// useWeightedReadCounts is set, else 1 (every read counts once,
// regardless of its header magnitude).
func (r *ReadBlock) EffectiveWeight(longReads, useWeightedReadCounts bool) int {
	w := 1
	if useWeightedReadCounts && r.Weight > 0 {
		w = r.Weight
	}
	if longReads {
		w *= r.Length
	}
	return w
}

// LCAAlgorithm selects the taxonomy assignment strategy.
type LCAAlgorithm int

const (
	Naive LCAAlgorithm = iota
	Weighted
	NaiveLongRead
	CoverageLongRead
)

func (a LCAAlgorithm) String() string {
	switch a {
	case Naive:
		return "Naive"
	case Weighted:
		return "Weighted"
	case NaiveLongRead:
		return "NaiveLongRead"
	case CoverageLongRead:
		return "CoverageLongRead"
	default:
		return "Unknown"
	}
}

// Params holds the parameters decided at invocation; immutable during a
// run.
type Params struct {
	// Filtering.
	MinScore              float64
	TopPercent            float64
	MaxExpected           float64
	MinPercentIdentity    float64
	MinComplexity         float64
	MinPercentReadToCover float64

	// Mode.
	LCAAlgorithm          LCAAlgorithm
	UseIdentityFilter     bool
	LongReads             bool
	PairedReads           bool
	UseWeightedReadCounts bool
	MinSupport            int
	MinSupportPercent     float64
	WeightedLCAPercent    float64

	// Classifications lists every active classification name, and must
	// include "Taxonomy". Taxonomy is treated specially throughout the
	// pipeline; the rest are "other" (functional) classifications,
	// handled uniformly.
	Classifications []string

	// LCAClassifications marks which non-Taxonomy classifications use an
	// LCA assignment (and, in long-read mode, its multi-gene segmented
	// form) rather than best-hit. Absent or false means best-hit /
	// best-hit-multi-gene; see DESIGN.md's Open Question decisions for why
	// this is a per-classification toggle rather than a single global
	// mode.
	LCAClassifications map[string]bool

	// BlastMode labels the alignment tool the matches came from (e.g.
	// "BlastX", "BlastN"). The engine never inspects it; it is carried
	// through to the summary record (archive.Summary) for provenance.
	BlastMode string
}

// EffectiveTopPercent returns TopPercent, forced to 100 in NaiveLongRead
// mode: with the coverage gate doing the real filtering there, the
// top-percent-of-best-bitscore window would only throw away valid
// multi-gene hits.
func (p *Params) EffectiveTopPercent() float64 {
	if p.LCAAlgorithm == NaiveLongRead {
		return 100
	}
	return p.TopPercent
}

// String renders a deterministic, human-readable parameter string for the
// summary record, in a fixed field order so two runs with identical
// Params produce byte-identical strings.
func (p *Params) String() string {
	return fmt.Sprintf(
		"minScore=%g topPercent=%g maxExpected=%g minPercentIdentity=%g "+
			"minComplexity=%g minPercentReadToCover=%g lcaAlgorithm=%s "+
			"useIdentityFilter=%t longReads=%t pairedReads=%t "+
			"useWeightedReadCounts=%t minSupport=%d minSupportPercent=%g "+
			"weightedLCAPercent=%g",
		p.MinScore, p.TopPercent, p.MaxExpected, p.MinPercentIdentity,
		p.MinComplexity, p.MinPercentReadToCover, p.LCAAlgorithm,
		p.UseIdentityFilter, p.LongReads, p.PairedReads,
		p.UseWeightedReadCounts, p.MinSupport, p.MinSupportPercent,
		p.WeightedLCAPercent,
	)
}

// TaxonomyName is the well-known classification name that receives
// LCA/mate-pair treatment; every other active classification is "other".
const TaxonomyName = "Taxonomy"
