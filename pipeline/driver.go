// Package pipeline implements the single-pass classification driver:
// streaming reads from an archive.Connector, orchestrating the match
// filter, coverage gate, assignment strategies, mate-pair reconciliation
// and update log, then running the min-support post-pass and committing.
package pipeline

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/readclass/archive"
	"github.com/grailbio/readclass/assign"
	"github.com/grailbio/readclass/classification"
	"github.com/grailbio/readclass/interval"
	"github.com/grailbio/readclass/match"
	"github.com/grailbio/readclass/model"
	"github.com/grailbio/readclass/support"
	"github.com/grailbio/readclass/updatelog"
)

// cancelledError is the sentinel returned by Classify when the caller's
// Cancel channel closes before the commit phase starts.
type cancelledError struct{}

func (cancelledError) Error() string { return "readclass: classification cancelled" }

// ErrCancelled is returned by Classify on cooperative cancellation; the
// archive is guaranteed untouched when this is returned.
var ErrCancelled error = cancelledError{}

// ClassStats accumulates per-classification outcome counts.
type ClassStats struct {
	Assigned   int
	Unassigned int
}

// Stats is the diagnostic summary produced by one Classify run.
type Stats struct {
	ReadsFound        int
	TotalWeight       float64
	TotalMatches      int
	WithHits          int
	WithoutHits       int
	LowComplexity     int
	CoverageRejected  int
	AssignedViaMate   int
	PerClassification map[string]*ClassStats
}

func newStats(names []string) *Stats {
	s := &Stats{PerClassification: make(map[string]*ClassStats, len(names))}
	for _, n := range names {
		s.PerClassification[n] = &ClassStats{}
	}
	return s
}

// Opts configures one Classify run. All fields are required except
// Cancel and OnProgress.
type Opts struct {
	Params     *model.Params
	Connector  archive.Connector
	Snapshots  map[string]*classification.Snapshot // keyed by classification name, including Taxonomy
	Strategies map[string]assign.Strategy          // keyed by classification name; see BuildStrategies

	// Cancel, if non-nil, is polled once per read. Closing it aborts the
	// loop before any archive mutation happens.
	Cancel <-chan struct{}
	// OnProgress is called after every read with (done, max) from the
	// archive iterator, and again during commit with the commit's
	// (done, total) entry counts.
	OnProgress func(done, max int64)
}

// BuildStrategies dispatches the tagged-variant Strategy per classification,
// from Params and the per-classification LCA toggle.
func BuildStrategies(p *model.Params) map[string]assign.Strategy {
	out := make(map[string]assign.Strategy, len(p.Classifications))
	for _, name := range p.Classifications {
		if name == model.TaxonomyName {
			switch p.LCAAlgorithm {
			case model.Weighted:
				out[name] = assign.Weighted{Percent: p.WeightedLCAPercent}
			case model.NaiveLongRead:
				out[name] = assign.LongRead{Taxonomy: true}
			case model.CoverageLongRead:
				out[name] = assign.CoverageLongRead{Percent: p.WeightedLCAPercent}
			default:
				out[name] = assign.Naive{UseIdentityFilter: p.UseIdentityFilter}
			}
			continue
		}
		useLCA := p.LCAClassifications[name]
		switch {
		case useLCA && p.LongReads:
			out[name] = assign.LongRead{Taxonomy: false}
		case useLCA:
			out[name] = assign.LCA{}
		case p.LongReads:
			out[name] = assign.BestHitMultiGene{}
		default:
			out[name] = assign.BestHit{}
		}
	}
	return out
}

func filterFor(p *model.Params) match.Filter {
	return match.Filter{
		MinScore:           p.MinScore,
		TopPercent:         p.EffectiveTopPercent(),
		MaxExpected:        p.MaxExpected,
		MinPercentIdentity: p.MinPercentIdentity,
	}
}

// worker holds the per-read scratch state reused across iterations, so
// the inner loop never allocates its masks, interval buffers or id
// scratch fresh. scratch carries one assign.Scratch per classification
// (indexed like Params.Classifications) rather than a single shared one:
// a Result's Segments alias its Scratch, and the taxonomy result must
// survive the other classifications' Compute calls within the same read.
// The mate lookup gets its own entry for the same reason.
type worker struct {
	mask        match.Mask
	mateMask    match.Mask
	filter      match.Filter
	ivs         *interval.Set
	classIds    []int32
	scratch     []assign.Scratch
	mateScratch assign.Scratch
}

// classifyRead runs the per-read assignment logic, appending to log and
// updating stats. It is the inner body of Classify's loop, factored out
// so the sequential and parallel drivers (pipeline/parallel.go) share it.
func classifyRead(
	p *model.Params,
	snapshots map[string]*classification.Snapshot,
	strategies map[string]assign.Strategy,
	w *worker,
	mate *mateContext,
	read *model.ReadBlock,
	log *updatelog.Log,
	stats *Stats,
) {
	stats.ReadsFound++
	effWeight := float64(read.EffectiveWeight(p.LongReads, p.UseWeightedReadCounts))
	stats.TotalWeight += effWeight
	stats.TotalMatches += len(read.Matches)

	if cap(w.classIds) < len(p.Classifications) {
		w.classIds = make([]int32, len(p.Classifications))
	}
	classIds := w.classIds[:len(p.Classifications)]
	for i := range classIds {
		classIds[i] = 0
	}
	if len(w.scratch) < len(p.Classifications) {
		w.scratch = make([]assign.Scratch, len(p.Classifications))
	}
	taxIdx := classificationIndex(p.Classifications, model.TaxonomyName)

	if read.Complexity > 0 && read.Complexity+0.01 < p.MinComplexity {
		for i := range classIds {
			classIds[i] = model.LowComplexityID
		}
		stats.LowComplexity++
		log.AddItem(read.Uid, effWeight, classIds)
		return
	}

	taxSnap := snapshots[model.TaxonomyName]
	var taxResult assign.Result
	switch {
	case len(read.Matches) == 0:
		stats.WithoutHits++
		taxResult.Id = model.NoHitsID
	default:
		w.filter = filterFor(p)
		w.filter.Compute(read, model.TaxonomyName, &w.mask)
		covered := true
		if p.MinPercentReadToCover > 0 {
			var ivs *interval.Set
			if p.LongReads {
				ivs = w.ivs
			}
			covered = match.EnsureCovered(p.MinPercentReadToCover, read, &w.mask, ivs)
		}
		if !covered {
			stats.CoverageRejected++
			taxResult.Id = model.UnassignedID
		} else {
			stats.WithHits++
			taxResult = strategies[model.TaxonomyName].Compute(taxSnap.Tree, assign.Inputs{
				Read: read, Active: &w.mask, ClassificationName: model.TaxonomyName,
				Scratch: &w.scratch[taxIdx],
			})
		}
	}
	taxId := taxResult.Id

	if p.PairedReads && mate != nil && read.MateUid > 0 {
		mateTaxId := mate.resolve(p, taxSnap, strategies[model.TaxonomyName], read.MateUid, w)
		switch {
		case taxId <= 0 && mateTaxId > 0:
			taxId = mateTaxId
			stats.AssignedViaMate++
		case taxId > 0 && mateTaxId > 0:
			b := taxSnap.Tree.LCA(taxId, mateTaxId)
			switch {
			case b == taxId:
				// taxId is already an ancestor of mateTaxId, so the more
				// specific mate id is the better call here rather than the
				// LCA of the two (which would just be taxId again).
				taxId = mateTaxId
			case b != mateTaxId:
				taxId = b
			}
		}
	}

	if taxId > 0 && !taxSnap.IsKnown(taxId) {
		taxId = model.UnassignedID
	}

	classIds[taxIdx] = taxId
	if taxId > 0 {
		stats.PerClassification[model.TaxonomyName].Assigned++
	} else {
		stats.PerClassification[model.TaxonomyName].Unassigned++
	}

	// segments holds Taxonomy's per-gene-segment ids when it was computed
	// by a segmenting strategy (NaiveLongRead); segmentCount below folds
	// in whatever functional classifications contributed too, so a read
	// gets one update-log entry per gene segment regardless of which
	// classification(s) actually segmented it.
	var segments []int32
	if len(taxResult.Segments) > 1 {
		segments = taxResult.Segments
	}
	otherSegments := make(map[string][]int32, len(p.Classifications))

	for _, name := range p.Classifications {
		if name == model.TaxonomyName {
			continue
		}
		idx := classificationIndex(p.Classifications, name)
		w.filter = filterFor(p)
		w.filter.Compute(read, name, &w.mask)
		res := strategies[name].Compute(snapshots[name].Tree, assign.Inputs{
			Read: read, Active: &w.mask, ClassificationName: name,
			Scratch: &w.scratch[idx],
		})
		id := res.Id
		if id > 0 && !snapshots[name].IsKnown(id) {
			id = model.UnassignedID
		}
		classIds[idx] = id
		if id > 0 {
			stats.PerClassification[name].Assigned++
		} else {
			stats.PerClassification[name].Unassigned++
		}
		if len(res.Segments) > 1 {
			otherSegments[name] = res.Segments
		}
	}

	log.AddItem(read.Uid, effWeight, classIds)

	segmentCount := len(segments)
	for _, segs := range otherSegments {
		if len(segs) > segmentCount {
			segmentCount = len(segs)
		}
	}
	for s := 1; s < segmentCount; s++ {
		extra := make([]int32, len(classIds))
		copy(extra, classIds)
		if s < len(segments) {
			extra[taxIdx] = clampKnown(taxSnap, segments[s])
		} else {
			extra[taxIdx] = model.UnassignedID
		}
		for _, name := range p.Classifications {
			if name == model.TaxonomyName {
				continue
			}
			idx := classificationIndex(p.Classifications, name)
			if segs, ok := otherSegments[name]; ok && s < len(segs) {
				extra[idx] = clampKnown(snapshots[name], segs[s])
			} else {
				extra[idx] = model.UnassignedID
			}
		}
		log.AddItem(read.Uid, effWeight/float64(segmentCount), extra)
	}
}

func clampKnown(snap *classification.Snapshot, id int32) int32 {
	if id > 0 && !snap.IsKnown(id) {
		return model.UnassignedID
	}
	return id
}

func classificationIndex(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// mateContext owns the second, independent handle on the archive used for
// mate-pair reconciliation. It is opened once per run and closed on
// completion. The reader's position is stateful, and one mateContext is
// shared by every worker goroutine in the parallel driver, so mu keeps
// each lookup's seek+read pair atomic.
type mateContext struct {
	mu     sync.Mutex
	reader archive.MateReader
}

// openMate opens the second archive handle for mate-pair reconciliation.
// Returns nil (and no error) when reconciliation should proceed disabled:
// the caller didn't ask for paired reads, the archive format can't
// support the lookup, or the mate reader's header section doesn't carry
// the taxonomy this run assigns against. Misconfigurations warn rather
// than abort the run.
func openMate(ctx context.Context, opts Opts) (*mateContext, error) {
	if !opts.Params.PairedReads {
		return nil, nil
	}
	reader, ok, err := opts.Connector.OpenMateReader(ctx)
	if err != nil {
		return nil, errors.E(err, "opening mate reader")
	}
	if !ok {
		log.Printf("pairedReads requested but archive does not support mate-pair lookup; proceeding without it")
		return nil, nil
	}
	if names := reader.ClassificationNames(); len(names) > 0 {
		found := false
		for _, n := range names {
			if n == model.TaxonomyName {
				found = true
				break
			}
		}
		if !found {
			log.Printf("mate reader's header lists no %s classification; proceeding without mate-pair reconciliation", model.TaxonomyName)
			if cerr := reader.Close(); cerr != nil {
				log.Debug.Printf("closing rejected mate reader: %v", cerr)
			}
			return nil, nil
		}
	}
	return &mateContext{reader: reader}, nil
}

// fetch is the locked seek+read pair; callers hold no lock themselves.
func (m *mateContext) fetch(ctx context.Context, p *model.Params, mateUid uint64) (*model.ReadBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reader.Seek(ctx, mateUid); err != nil {
		return nil, err
	}
	return m.reader.ReadBlock(ctx, p.MinScore, p.MaxExpected, true, false)
}

func (m *mateContext) resolve(p *model.Params, taxSnap *classification.Snapshot, strat assign.Strategy, mateUid uint64, w *worker) int32 {
	ctx := context.Background()
	mateRead, err := m.fetch(ctx, p, mateUid)
	if err != nil {
		log.Debug.Printf("mate lookup(%d) failed: %v", mateUid, err)
		return 0
	}
	f := filterFor(p)
	f.Compute(mateRead, model.TaxonomyName, &w.mateMask)
	res := strat.Compute(taxSnap.Tree, assign.Inputs{
		Read: mateRead, Active: &w.mateMask, ClassificationName: model.TaxonomyName,
		Scratch: &w.mateScratch,
	})
	return res.Id
}

// Classify runs one full streaming pass: per-read assignment,
// min-support correction per LCA-enabled classification, and commit.
// It returns the diagnostic Stats and the committed update log.
func Classify(ctx context.Context, opts Opts) (*Stats, *updatelog.Log, error) {
	p := opts.Params
	stats := newStats(p.Classifications)
	ulog := updatelog.New(p.Classifications)

	iter, err := opts.Connector.AllReadsIterator(ctx, p.MinScore, p.MaxExpected, true, true)
	if err != nil {
		return nil, nil, errors.E(err, "opening read iterator")
	}
	defer func() {
		if cerr := iter.Close(); cerr != nil {
			log.Debug.Printf("closing read iterator: %v", cerr)
		}
	}()

	mate, err := openMate(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	if mate != nil {
		defer func() {
			if cerr := mate.reader.Close(); cerr != nil {
				log.Debug.Printf("closing mate reader: %v", cerr)
			}
		}()
	}

	w := &worker{}
	if p.LongReads && p.MinPercentReadToCover > 0 {
		w.ivs = &interval.Set{}
	}

	for iter.HasNext() {
		select {
		case <-opts.Cancel:
			return nil, nil, ErrCancelled
		default:
		}
		read, rerr := iter.Next(ctx)
		if rerr != nil {
			return nil, nil, errors.E(rerr, "reading next read block")
		}
		classifyRead(p, opts.Snapshots, opts.Strategies, w, mate, read, ulog, stats)
		if opts.OnProgress != nil {
			opts.OnProgress(iter.Progress(), iter.MaxProgress())
		}
	}

	if err := finishRun(ctx, opts, stats, ulog); err != nil {
		return nil, nil, err
	}
	return stats, ulog, nil
}

// finishRun is the post-stream phase shared by Classify and
// ClassifyParallel: min-support correction per LCA-enabled
// classification, commit, then read count and summary. Cancellation is
// no longer honored here; aborting mid-commit could leave the archive
// inconsistent.
func finishRun(ctx context.Context, opts Opts, stats *Stats, ulog *updatelog.Log) error {
	p := opts.Params
	totalAssigned := stats.WithHits + stats.AssignedViaMate
	for _, name := range p.Classifications {
		usesLCA := name == model.TaxonomyName || p.LCAClassifications[name]
		if !usesLCA {
			continue
		}
		weights := ulog.ClassIdToWeightMap(name)
		threshold := support.EffectiveThreshold(p.MinSupport, p.MinSupportPercent, totalAssigned)
		rewrite := support.Correct(opts.Snapshots[name].Tree, opts.Snapshots[name], weights, threshold)
		for from, to := range rewrite {
			ulog.AppendClass(name, from, to)
		}
	}

	if err := ulog.Commit(ctx, opts.Connector, func(done, total int) {
		if opts.OnProgress != nil {
			opts.OnProgress(int64(done), int64(total))
		}
	}); err != nil {
		return errors.E(err, "committing update log: archive possibly inconsistent")
	}
	if err := opts.Connector.SetNumberOfReads(ctx, stats.ReadsFound); err != nil {
		return errors.E(err, "setting number of reads")
	}

	summary := archive.Summary{
		Assigned:        make(map[string]int, len(p.Classifications)),
		ParameterString: p.String(),
		BlastMode:       p.BlastMode,
		NumberReads:     stats.ReadsFound,
	}
	for _, name := range p.Classifications {
		summary.Assigned[name] = stats.PerClassification[name].Assigned
	}
	if err := opts.Connector.SyncSummary(ctx, summary); err != nil {
		return errors.E(err, "synchronizing summary")
	}
	return nil
}
