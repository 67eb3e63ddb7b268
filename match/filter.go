// Package match implements the per-read match filter and coverage gate:
// selecting which of a read's precomputed alignments participate in
// assignment, and deciding whether enough of the read is covered by the
// survivors.
package match

import "github.com/grailbio/readclass/model"

// Mask is a bitmask over a read's match list: bit i set means match i
// passed the filter. Masks are reused across reads by the caller
// (cleared via Reset), never reallocated in the inner loop.
type Mask struct {
	bits []uint64
	n    int
}

// Reset clears the mask and sizes it for n matches.
func (m *Mask) Reset(n int) {
	m.n = n
	words := (n + 63) / 64
	if cap(m.bits) < words {
		m.bits = make([]uint64, words)
	} else {
		m.bits = m.bits[:words]
		for i := range m.bits {
			m.bits[i] = 0
		}
	}
}

func (m *Mask) set(i int) {
	m.bits[i/64] |= 1 << uint(i%64)
}

// Test reports whether match i passed the filter.
func (m *Mask) Test(i int) bool {
	if i < 0 || i >= m.n {
		return false
	}
	return m.bits[i/64]&(1<<uint(i%64)) != 0
}

// Count returns the number of matches that passed.
func (m *Mask) Count() int {
	c := 0
	for i := 0; i < m.n; i++ {
		if m.Test(i) {
			c++
		}
	}
	return c
}

// Indices appends the passing indices, in input order, to out and
// returns the result.
func (m *Mask) Indices(out []int) []int {
	for i := 0; i < m.n; i++ {
		if m.Test(i) {
			out = append(out, i)
		}
	}
	return out
}

// Filter holds the (minScore, topPercent, maxExpected, minPercentIdentity)
// thresholds for one filtering pass. The zero value is strict, not
// permissive: MaxExpected 0 rejects every match with Expected > 0, and
// TopPercent 0 keeps only the matches that tie the best bit-score.
type Filter struct {
	MinScore           float64
	TopPercent         float64
	MaxExpected        float64
	MinPercentIdentity float64
}

// Compute fills out with the bitmask of matches in read passing the
// score, e-value, identity and classification-id thresholds plus the
// top-percent window, for the given classification name, and returns it.
// Filtering is stable: Indices() yields input order.
func (f *Filter) Compute(read *model.ReadBlock, classificationName string, out *Mask) *Mask {
	n := len(read.Matches)
	out.Reset(n)
	if n == 0 {
		return out
	}
	var passed1to4 []int
	best := 0.0
	first := true
	for i := range read.Matches {
		mb := &read.Matches[i]
		if mb.BitScore < f.MinScore {
			continue
		}
		if mb.Expected > f.MaxExpected {
			continue
		}
		if mb.PercentIdentity >= 0 && mb.PercentIdentity < f.MinPercentIdentity {
			continue
		}
		if mb.Id(classificationName) <= 0 {
			continue
		}
		passed1to4 = append(passed1to4, i)
		if first || mb.BitScore > best {
			best = mb.BitScore
			first = false
		}
	}
	if len(passed1to4) == 0 {
		return out
	}
	if f.TopPercent >= 100 {
		for _, i := range passed1to4 {
			out.set(i)
		}
		return out
	}
	threshold := best * (1 - f.TopPercent/100)
	for _, i := range passed1to4 {
		if read.Matches[i].BitScore >= threshold {
			out.set(i)
		}
	}
	return out
}
