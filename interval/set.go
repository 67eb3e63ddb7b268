package interval

import "sort"

// Set accumulates half-open [start, end) intervals and tracks the length
// of their union. The zero value is ready to use.
type Set struct {
	// bounds holds the merged, disjoint intervals as a flat sequence of
	// (start, end) pairs, sorted and non-overlapping.
	bounds []int
	// covered is the cached union length; kept in sync incrementally so
	// CoveredLength is O(1).
	covered int
}

// Clear empties the set without releasing its backing array.
func (s *Set) Clear() {
	s.bounds = s.bounds[:0]
	s.covered = 0
}

// CoveredLength returns the length of the union of intervals added so
// far.
func (s *Set) CoveredLength() int {
	return s.covered
}

// Add inserts [start, end) into the set and returns the updated covered
// length. end must be > start; callers with a 1-based inclusive
// [start,end] match interval should pass (start, end+1).
func (s *Set) Add(start, end int) int {
	if end <= start {
		return s.covered
	}
	// Find the first existing interval whose end is >= start: everything
	// before it is untouched, everything from it up to the first interval
	// starting after end is absorbed into the new interval.
	lo := sort.Search(len(s.bounds)/2, func(i int) bool {
		return s.bounds[2*i+1] >= start
	})
	hi := lo
	for hi < len(s.bounds)/2 && s.bounds[2*hi] <= end {
		hi++
	}
	if lo == hi {
		// No overlap or adjacency with any existing interval: insert fresh.
		s.bounds = append(s.bounds, 0, 0)
		copy(s.bounds[2*lo+2:], s.bounds[2*lo:len(s.bounds)-2])
		s.bounds[2*lo] = start
		s.bounds[2*lo+1] = end
		s.covered += end - start
		return s.covered
	}
	mergedStart := s.bounds[2*lo]
	if start < mergedStart {
		mergedStart = start
	}
	mergedEnd := s.bounds[2*hi-1]
	if end > mergedEnd {
		mergedEnd = end
	}
	oldLen := 0
	for i := lo; i < hi; i++ {
		oldLen += s.bounds[2*i+1] - s.bounds[2*i]
	}
	s.covered += (mergedEnd - mergedStart) - oldLen
	// Replace [lo, hi) with the single merged interval.
	s.bounds[2*lo] = mergedStart
	s.bounds[2*lo+1] = mergedEnd
	if hi > lo+1 {
		s.bounds = append(s.bounds[:2*lo+2], s.bounds[2*hi:]...)
	}
	return s.covered
}
