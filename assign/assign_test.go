package assign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/readclass/classification"
	"github.com/grailbio/readclass/match"
	"github.com/grailbio/readclass/model"
)

// buildTestTree is a tiny taxonomy: 562 (E. coli) and 622 (Shigella)
// under 1224, under the root.
func buildTestTree() *classification.Tree {
	return classification.NewTree(map[int32]int32{
		classification.RootID: classification.RootID,
		1224:                  classification.RootID,
		562:                   1224,
		622:                   1224,
	})
}

func activeAll(read *model.ReadBlock) *match.Mask {
	var m match.Mask
	m.Reset(len(read.Matches))
	f := match.Filter{TopPercent: 100}
	return f.Compute(read, model.TaxonomyName, &m)
}

// Two matches carrying the same taxon id assign that id directly.
func TestNaiveSameIdYieldsThatId(t *testing.T) {
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		{BitScore: 100, PercentIdentity: -1, ClassIds: map[string]int32{model.TaxonomyName: 562}},
		{BitScore: 95, PercentIdentity: -1, ClassIds: map[string]int32{model.TaxonomyName: 562}},
	}}
	active := activeAll(read)
	got := Naive{}.Compute(buildTestTree(), Inputs{Read: read, Active: active, ClassificationName: model.TaxonomyName})
	assert.EqualValues(t, 562, got.Id)
}

// Ids 562 and 622, scores 100 and 99, topPercent=10 -> both kept, and
// the assignment is their common ancestor.
func TestNaiveSiblingsFoldToParent(t *testing.T) {
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		{BitScore: 100, PercentIdentity: -1, ClassIds: map[string]int32{model.TaxonomyName: 562}},
		{BitScore: 99, PercentIdentity: -1, ClassIds: map[string]int32{model.TaxonomyName: 622}},
	}}
	var m match.Mask
	m.Reset(len(read.Matches))
	f := match.Filter{TopPercent: 10}
	active := f.Compute(read, model.TaxonomyName, &m)
	require.Equal(t, 2, active.Count(), "expected both matches kept")
	got := Naive{}.Compute(buildTestTree(), Inputs{Read: read, Active: active, ClassificationName: model.TaxonomyName})
	assert.EqualValues(t, 1224, got.Id)
}

func TestNaiveEmptyYieldsZero(t *testing.T) {
	read := &model.ReadBlock{}
	var m match.Mask
	m.Reset(0)
	got := Naive{}.Compute(buildTestTree(), Inputs{Read: read, Active: &m, ClassificationName: model.TaxonomyName})
	assert.EqualValues(t, 0, got.Id)
}

func TestLCAIdenticalToNaiveWithoutClamp(t *testing.T) {
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		{BitScore: 100, PercentIdentity: 50, ClassIds: map[string]int32{"KEGG": 562}},
		{BitScore: 99, PercentIdentity: 50, ClassIds: map[string]int32{"KEGG": 622}},
	}}
	var m match.Mask
	m.Reset(len(read.Matches))
	f := match.Filter{TopPercent: 100}
	active := f.Compute(read, "KEGG", &m)
	got := LCA{}.Compute(buildTestTree(), Inputs{Read: read, Active: active, ClassificationName: "KEGG"})
	assert.EqualValues(t, 1224, got.Id, "no 16S clamp applied")
}

func TestNaive16SClampToGenusLevel(t *testing.T) {
	tr := classification.NewTreeWithRanks(map[int32]int32{
		classification.RootID: classification.RootID,
		1224:                  classification.RootID,
		562:                   1224,
	}, map[int32]string{
		1224: "genus",
		562:  "species",
	})
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		// 96% identity: clears genus(95) but not species(97), so the
		// species-level id must be clamped up to the genus ancestor.
		{BitScore: 100, PercentIdentity: 96, ClassIds: map[string]int32{model.TaxonomyName: 562}},
	}}
	active := activeAll(read)
	got := Naive{UseIdentityFilter: true}.Compute(tr, Inputs{Read: read, Active: active, ClassificationName: model.TaxonomyName})
	assert.EqualValues(t, 1224, got.Id, "clamped to genus")
}

func TestNaive16SNoClampAtHighIdentity(t *testing.T) {
	tr := classification.NewTreeWithRanks(map[int32]int32{
		classification.RootID: classification.RootID,
		1224:                  classification.RootID,
		562:                   1224,
	}, map[int32]string{
		1224: "genus",
		562:  "species",
	})
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		{BitScore: 100, PercentIdentity: 99, ClassIds: map[string]int32{model.TaxonomyName: 562}},
	}}
	active := activeAll(read)
	got := Naive{UseIdentityFilter: true}.Compute(tr, Inputs{Read: read, Active: active, ClassificationName: model.TaxonomyName})
	assert.EqualValues(t, 562, got.Id, "species identity supports species rank")
}

func TestWeightedLCAThreshold(t *testing.T) {
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		{BitScore: 10, PercentIdentity: -1, ClassIds: map[string]int32{model.TaxonomyName: 562}},
		{BitScore: 90, PercentIdentity: -1, ClassIds: map[string]int32{model.TaxonomyName: 622}},
	}}
	active := activeAll(read)
	// 622 alone carries 90% of weight; with a 60% threshold it wins outright.
	got := Weighted{Percent: 60}.Compute(buildTestTree(), Inputs{Read: read, Active: active, ClassificationName: model.TaxonomyName})
	assert.EqualValues(t, 622, got.Id)
}

func TestWeightedLCANoWinner(t *testing.T) {
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		{BitScore: 10, PercentIdentity: -1, ClassIds: map[string]int32{model.TaxonomyName: 562}},
	}}
	active := activeAll(read)
	// 101% can never be reached: no id should be returned ("no
	// assignment" rather than falling back to the root).
	got := Weighted{Percent: 101}.Compute(buildTestTree(), Inputs{Read: read, Active: active, ClassificationName: model.TaxonomyName})
	assert.EqualValues(t, 0, got.Id)
}

func TestLongReadSegmentsTaxonomyFoldsToLCA(t *testing.T) {
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		// Gene 1 region: two matches to the same id, same locus.
		{BitScore: 100, AlignedQueryStart: 1, AlignedQueryEnd: 100, ClassIds: map[string]int32{model.TaxonomyName: 562}},
		{BitScore: 90, AlignedQueryStart: 5, AlignedQueryEnd: 95, ClassIds: map[string]int32{model.TaxonomyName: 562}},
		// Gene 2 region: disjoint locus, different id.
		{BitScore: 80, AlignedQueryStart: 500, AlignedQueryEnd: 600, ClassIds: map[string]int32{model.TaxonomyName: 622}},
	}}
	active := activeAll(read)
	got := LongRead{Taxonomy: true}.Compute(buildTestTree(), Inputs{Read: read, Active: active, ClassificationName: model.TaxonomyName})
	require.Len(t, got.Segments, 2)
	assert.EqualValues(t, 562, got.Segments[0])
	assert.EqualValues(t, 622, got.Segments[1])
	assert.EqualValues(t, 1224, got.Id, "LCA across segments")
}

func TestBestHitMultiGenePicksPerSegmentWinner(t *testing.T) {
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		{BitScore: 50, AlignedQueryStart: 1, AlignedQueryEnd: 50, ClassIds: map[string]int32{"KEGG": 10}},
		{BitScore: 70, AlignedQueryStart: 3, AlignedQueryEnd: 48, ClassIds: map[string]int32{"KEGG": 20}},
		{BitScore: 60, AlignedQueryStart: 200, AlignedQueryEnd: 260, ClassIds: map[string]int32{"KEGG": 30}},
	}}
	var m match.Mask
	m.Reset(len(read.Matches))
	f := match.Filter{TopPercent: 100}
	active := f.Compute(read, "KEGG", &m)
	got := BestHitMultiGene{}.Compute(nil, Inputs{Read: read, Active: active, ClassificationName: "KEGG"})
	// Segment 1's representative is the 70-scoring match (id 20); segment
	// 2 is the disjoint 60-scoring match (id 30).
	require.Len(t, got.Segments, 2)
	assert.EqualValues(t, 20, got.Segments[0])
	assert.EqualValues(t, 30, got.Segments[1])
	assert.EqualValues(t, 20, got.Id)
}

func TestCoverageLongReadWeightsByCoveredLength(t *testing.T) {
	read := &model.ReadBlock{Matches: []model.MatchBlock{
		// id 562 covers a long span; id 622 a short one.
		{BitScore: 1, AlignedQueryStart: 1, AlignedQueryEnd: 900, ClassIds: map[string]int32{model.TaxonomyName: 562}},
		{BitScore: 1000, AlignedQueryStart: 1, AlignedQueryEnd: 10, ClassIds: map[string]int32{model.TaxonomyName: 622}},
	}}
	active := activeAll(read)
	got := CoverageLongRead{Percent: 60}.Compute(buildTestTree(), Inputs{Read: read, Active: active, ClassificationName: model.TaxonomyName})
	assert.EqualValues(t, 562, got.Id, "covered length dominates despite lower score")
}
