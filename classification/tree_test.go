package classification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestTree is a tiny taxonomy:
//
//	1 (root)
//	└── 1224 (Gammaproteobacteria)
//	    ├── 562 (E. coli)
//	    └── 622 (Shigella)
func buildTestTree() *Tree {
	return NewTree(map[int32]int32{
		RootID: RootID,
		1224:   RootID,
		562:    1224,
		622:    1224,
	})
}

func TestLCASelfIsIdentity(t *testing.T) {
	tr := buildTestTree()
	assert.EqualValues(t, 562, tr.LCA(562, 562))
}

func TestLCASiblings(t *testing.T) {
	tr := buildTestTree()
	assert.EqualValues(t, 1224, tr.LCA(562, 622))
}

func TestLCAWithZero(t *testing.T) {
	tr := buildTestTree()
	assert.EqualValues(t, 562, tr.LCA(0, 562))
	assert.EqualValues(t, 562, tr.LCA(562, 0))
	assert.EqualValues(t, 0, tr.LCA(0, 0))
}

func TestLCAAll(t *testing.T) {
	tr := buildTestTree()
	assert.EqualValues(t, 1224, tr.LCAAll([]int32{562, 622, 0}))
	assert.EqualValues(t, 0, tr.LCAAll(nil))
}

func TestIsAncestor(t *testing.T) {
	tr := buildTestTree()
	require.True(t, tr.IsAncestor(RootID, 562), "expected root to be ancestor of 562")
	assert.False(t, tr.IsAncestor(562, 622), "562 should not be an ancestor of 622")
}

func TestNearestEnabledAncestor(t *testing.T) {
	tr := buildTestTree()
	s := &Snapshot{
		Name: "Taxonomy",
		Tree: tr,
		KnownIds: map[int32]bool{
			RootID: true, 1224: true, 562: true, 622: true,
		},
		DisabledIds: map[int32]bool{562: true},
	}
	assert.EqualValues(t, 1224, s.NearestEnabledAncestor(562))
	assert.EqualValues(t, 622, s.NearestEnabledAncestor(622), "622 is not disabled")
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	mkSnapshot := func(disabled bool) *Snapshot {
		d := map[int32]bool{}
		if disabled {
			d[562] = true
		}
		return &Snapshot{
			Name: "Taxonomy",
			Tree: buildTestTree(),
			KnownIds: map[int32]bool{
				RootID: true, 1224: true, 562: true, 622: true,
			},
			DisabledIds: d,
		}
	}
	a := mkSnapshot(false)
	b := mkSnapshot(false)
	require.Equal(t, a.Fingerprint(), b.Fingerprint(), "identical snapshots should fingerprint identically")
	c := mkSnapshot(true)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint(), "differing disabled-id sets should fingerprint differently")
}
