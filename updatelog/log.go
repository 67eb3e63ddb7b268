// Package updatelog implements the update log: an append-only record of
// per-read classification assignments, an on-demand per-classification
// weight aggregate, and a rewrite layer (AppendClass) that package
// support composes into the final commit.
package updatelog

import (
	"context"
	"sync"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/readclass/archive"
)

// Entry is one appended assignment: a read's weight and its id in every
// active classification, in the order the Log was constructed with.
type Entry struct {
	ReadUid  uint64
	Weight   float64
	ClassIds []int32
}

// Log accumulates Entry values across a streaming pass and the rewrite
// layer the min-support corrector (package support) produces, then
// commits both to an archive.Connector. The zero value is not usable;
// construct with New.
type Log struct {
	classifications []string

	mu       sync.Mutex
	entries  []Entry
	rewrites []map[int32]int32 // one map per classification index
}

// New creates an empty Log for the given classification names, in the
// order classIds slices passed to AddItem are indexed.
func New(classifications []string) *Log {
	return &Log{
		classifications: classifications,
		rewrites:        make([]map[int32]int32, len(classifications)),
	}
}

// AddItem appends one assignment. classIds is copied; callers may reuse
// their scratch slice after this returns. Append-only: once added, an
// entry is never mutated except through the rewrite layer applied at
// Commit.
func (l *Log) AddItem(readUid uint64, weight float64, classIds []int32) {
	cp := make([]int32, len(classIds))
	copy(cp, classIds)
	l.mu.Lock()
	l.entries = append(l.entries, Entry{ReadUid: readUid, Weight: weight, ClassIds: cp})
	l.mu.Unlock()
}

// Len returns the number of entries appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// classWeightKey is an llrb.Comparable keyed by class id, carrying a
// pointer to its running weight accumulator.
type classWeightKey struct {
	id  int32
	acc *float64
}

func (k classWeightKey) Compare(c2 llrb.Comparable) int {
	o := c2.(classWeightKey)
	switch {
	case k.id < o.id:
		return -1
	case k.id > o.id:
		return 1
	default:
		return 0
	}
}

// classificationIndex returns the slice index of name, or -1.
func (l *Log) classificationIndex(name string) int {
	for i, n := range l.classifications {
		if n == name {
			return i
		}
	}
	return -1
}

// ClassIdToWeightMap aggregates the sum of entry weights grouped by
// classIds[c] for classification name c, over the entries as currently
// appended (before any rewrite layer is applied). An llrb.Tree keyed by
// id groups the entries; each id's weights are summed in entry order, so
// when AddItem calls raced across goroutines the floating-point sums can
// differ in their last bits between runs.
func (l *Log) ClassIdToWeightMap(name string) map[int32]float64 {
	ci := l.classificationIndex(name)
	out := make(map[int32]float64)
	if ci < 0 {
		return out
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	tree := llrb.Tree{}
	for i := range l.entries {
		e := &l.entries[i]
		if ci >= len(e.ClassIds) {
			continue
		}
		id := e.ClassIds[ci]
		key := classWeightKey{id: id}
		if existing := tree.Get(key); existing != nil {
			acc := existing.(classWeightKey).acc
			*acc += e.Weight
			continue
		}
		w := e.Weight
		tree.Insert(classWeightKey{id: id, acc: &w})
	}
	tree.Do(func(item llrb.Comparable) bool {
		k := item.(classWeightKey)
		out[k.id] = *k.acc
		return false
	})
	return out
}

// AppendClass records that, at commit time, every entry currently
// assigned fromId in classification name should be reinterpreted as
// toId. Rewrites compose: if a later AppendClass(name, toId, grandparent)
// is recorded, an entry originally at fromId resolves to grandparent.
// This is a separate layer from the append-only entries themselves.
func (l *Log) AppendClass(name string, fromId, toId int32) {
	ci := l.classificationIndex(name)
	if ci < 0 || fromId == toId {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rewrites[ci] == nil {
		l.rewrites[ci] = make(map[int32]int32)
	}
	l.rewrites[ci][fromId] = toId
}

// resolve follows the rewrite chain for id in classification ci to its
// final destination. Cycle-safe: a chain can be at most len(rewrites)+1
// hops before it must either terminate or repeat, so visiting more hops
// than that means a cycle slipped in upstream -- return the id reached so
// far rather than loop forever.
func resolve(rewrites map[int32]int32, id int32) int32 {
	seen := 0
	for {
		next, ok := rewrites[id]
		if !ok || next == id {
			return id
		}
		id = next
		seen++
		if seen > len(rewrites)+1 {
			return id
		}
	}
}

// Commit applies the rewrite layer to every entry, then transfers the
// result to connector via UpdateClassifications. This is the only
// operation on Log that performs I/O, and the only one that may fail
// with the archive left possibly inconsistent.
func (l *Log) Commit(ctx context.Context, connector archive.Connector, progress archive.Progress) error {
	l.mu.Lock()
	batch := make([]archive.CommittedEntry, len(l.entries))
	for i, e := range l.entries {
		ids := make([]int32, len(e.ClassIds))
		for ci, id := range e.ClassIds {
			if l.rewrites[ci] != nil {
				id = resolve(l.rewrites[ci], id)
			}
			ids[ci] = id
		}
		batch[i] = archive.CommittedEntry{ReadUid: e.ReadUid, Weight: e.Weight, ClassIds: ids}
	}
	names := append([]string(nil), l.classifications...)
	l.mu.Unlock()
	return connector.UpdateClassifications(ctx, names, batch, progress)
}
