// Package classification provides the read-only, per-run view of a
// classification's tree (id -> parent, depth, LCA) and known/disabled id
// sets. The engine never mutates a Tree or Snapshot; both are built once,
// before streaming begins, from the external classification-tree library.
package classification

import "github.com/minio/highwayhash"

// RootID is the root of every classification tree.
const RootID int32 = 1

// Tree is a precomputed parent array plus depth array, giving O(depth)
// LCA queries.
type Tree struct {
	// parent[id] is the parent of id; parent[RootID] == RootID.
	parent map[int32]int32
	// depth[id] is the distance from id to the root (root has depth 0).
	depth map[int32]int32
	// rank[id] is this id's taxonomic rank index (see RankIndex), present
	// only for ids whose rank is known. Populated by NewTreeWithRanks;
	// nil for trees built via NewTree (ranks are only meaningful for
	// Taxonomy, and only the naive 16S clamp in package assign consults
	// them).
	rank map[int32]int
}

// NewTree builds a Tree from a parent map. parent must map every known id
// (including RootID) to its parent; RootID must map to itself.
func NewTree(parent map[int32]int32) *Tree {
	return NewTreeWithRanks(parent, nil)
}

// rankOrder lists the ranks the 16S identity clamp reasons about, from
// most specific to least. Index order matters: RankIndex compares by
// this ordering, not by name.
var rankOrder = []string{"species", "genus", "family", "order", "class", "phylum"}

// RankIndex returns rankOrder's position for name, or -1 if name isn't one
// of the ranks the clamp knows about.
func RankIndex(name string) int {
	for i, r := range rankOrder {
		if r == name {
			return i
		}
	}
	return -1
}

// NewTreeWithRanks builds a Tree like NewTree, additionally recording each
// id's taxonomic rank (by name, e.g. "species", "genus"; see rankOrder).
// ranks may be nil or sparse: ids with unlisted or unrecognized rank names
// are simply absent from the clamp's reasoning.
func NewTreeWithRanks(parent map[int32]int32, ranks map[int32]string) *Tree {
	t := &Tree{
		parent: parent,
		depth:  make(map[int32]int32, len(parent)),
	}
	for id := range parent {
		t.computeDepth(id)
	}
	if len(ranks) > 0 {
		t.rank = make(map[int32]int, len(ranks))
		for id, name := range ranks {
			if idx := RankIndex(name); idx >= 0 {
				t.rank[id] = idx
			}
		}
	}
	return t
}

// RankOf returns id's rank index (per rankOrder) and whether it is known.
func (t *Tree) RankOf(id int32) (int, bool) {
	idx, ok := t.rank[id]
	return idx, ok
}

// ClampToRank walks up from id until it finds an ancestor (or id itself)
// whose known rank is at least as shallow as minRankIndex (i.e. equal or
// later in rankOrder), and returns that ancestor. Ids with no known rank
// are skipped over while walking. If no such ancestor exists before the
// root, RootID is returned. minRankIndex < 0 is a no-op (returns id
// unchanged).
func (t *Tree) ClampToRank(id int32, minRankIndex int) int32 {
	if minRankIndex < 0 || id <= 0 {
		return id
	}
	cur := id
	for {
		if idx, ok := t.rank[cur]; ok && idx >= minRankIndex {
			return cur
		}
		if cur == RootID {
			return RootID
		}
		cur = t.Parent(cur)
	}
}

func (t *Tree) computeDepth(id int32) int32 {
	if d, ok := t.depth[id]; ok {
		return d
	}
	if id == RootID || t.parent[id] == id {
		t.depth[id] = 0
		return 0
	}
	d := t.computeDepth(t.parent[id]) + 1
	t.depth[id] = d
	return d
}

// Parent returns the parent of id, or RootID if id is unknown.
func (t *Tree) Parent(id int32) int32 {
	if p, ok := t.parent[id]; ok {
		return p
	}
	return RootID
}

// Depth returns the depth of id (root is 0).
func (t *Tree) Depth(id int32) int32 {
	return t.depth[id]
}

// LCA returns the last common ancestor of a and b. Either may be 0
// (meaning "absent"), in which case the other is returned unchanged;
// LCA(0,0) is 0.
func (t *Tree) LCA(a, b int32) int32 {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	for t.Depth(a) > t.Depth(b) {
		a = t.Parent(a)
	}
	for t.Depth(b) > t.Depth(a) {
		b = t.Parent(b)
	}
	for a != b {
		a = t.Parent(a)
		b = t.Parent(b)
	}
	return a
}

// LCAAll folds LCA over ids, skipping zeros. Returns 0 if ids is empty or
// every id is 0.
func (t *Tree) LCAAll(ids []int32) int32 {
	var result int32
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if result == 0 {
			result = id
		} else {
			result = t.LCA(result, id)
		}
	}
	return result
}

// Ancestors returns id and all of its ancestors up to and including
// RootID, deepest first.
func (t *Tree) Ancestors(id int32) []int32 {
	var out []int32
	for {
		out = append(out, id)
		if id == RootID {
			return out
		}
		id = t.Parent(id)
	}
}

// IsAncestor returns true iff a is an ancestor of (or equal to) b.
func (t *Tree) IsAncestor(a, b int32) bool {
	return t.LCA(a, b) == a
}

// Snapshot is the read-only, per-classification view taken before
// streaming: the valid id set and the user-suppressed subset of it.
type Snapshot struct {
	Name        string
	Tree        *Tree
	KnownIds    map[int32]bool
	DisabledIds map[int32]bool
}

// IsKnown reports whether id is a valid id in this classification.
func (s *Snapshot) IsKnown(id int32) bool {
	return s.KnownIds[id]
}

// IsDisabled reports whether id has been user-suppressed.
func (s *Snapshot) IsDisabled(id int32) bool {
	return s.DisabledIds[id]
}

// NearestEnabledAncestor walks up from id until it finds an id that is not
// disabled. RootID is always considered enabled.
func (s *Snapshot) NearestEnabledAncestor(id int32) int32 {
	for id != RootID && s.DisabledIds[id] {
		id = s.Tree.Parent(id)
	}
	return id
}

// fingerprintKey is a fixed all-zero HighwayHash key: Fingerprint is used
// for equality comparison between two snapshots, not as a MAC, so a
// constant key is fine.
var fingerprintKey [32]byte

// Fingerprint returns a HighwayHash digest of the snapshot's shape
// (known ids, disabled ids, and parent links), so two runs or two readers
// of (supposedly) the same archive can cheaply confirm they loaded the
// same classification before comparing or merging their results.
func (s *Snapshot) Fingerprint() [highwayhash.Size]byte {
	buf := make([]byte, 0, 12*(len(s.KnownIds)+len(s.DisabledIds)))
	appendSortedIDs(&buf, s.KnownIds)
	appendSortedIDs(&buf, s.DisabledIds)
	for _, id := range sortedKeys(s.KnownIds) {
		buf = appendInt32(buf, id)
		buf = appendInt32(buf, s.Tree.Parent(id))
	}
	return highwayhash.Sum(buf, fingerprintKey[:])
}

func appendSortedIDs(buf *[]byte, ids map[int32]bool) {
	for _, id := range sortedKeys(ids) {
		*buf = appendInt32(*buf, id)
	}
}

func sortedKeys(m map[int32]bool) []int32 {
	out := make([]int32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Simple insertion sort: classification id sets are small (thousands,
	// not millions), and this keeps the fingerprint free of a sort-package
	// dependency on the hot path (Fingerprint is called once per run, not
	// per read).
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func appendInt32(buf []byte, v int32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
