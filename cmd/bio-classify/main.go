/*
bio-classify assigns taxonomic and functional classifications to the
reads in an alignment archive, using the match filter, LCA/best-hit
assignment strategies, mate-pair reconciliation and min-support
correction implemented by this module's packages, then writes the
result back to the archive.
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/grailbio/readclass/archive"
	"github.com/grailbio/readclass/classification"
	"github.com/grailbio/readclass/model"
	"github.com/grailbio/readclass/pipeline"
)

var (
	minScore              = flag.Float64("min-score", 50, "Minimum bit score for a match to be considered")
	topPercent            = flag.Float64("top-percent", 10, "Keep matches within this percent of the best bit score")
	maxExpected           = flag.Float64("max-expected", 0.01, "Maximum e-value for a match to be considered")
	minPercentIdentity    = flag.Float64("min-percent-identity", 0, "Minimum percent identity for a match to be considered; 0 disables the filter")
	minComplexity         = flag.Float64("min-complexity", 0, "Reads below this complexity score are classified LowComplexity without further processing")
	minPercentReadToCover = flag.Float64("min-percent-read-to-cover", 0, "Minimum percent of the read length the surviving matches must cover")
	lcaAlgorithm          = flag.String("lca-algorithm", "naive", "Taxonomy LCA algorithm: naive, weighted, naive-long-read, coverage-long-read")
	useIdentityFilter     = flag.Bool("use-identity-filter", false, "Clamp naive LCA assignments to a coarser rank when percent identity is low (16S mode)")
	longReads             = flag.Bool("long-reads", false, "Enable long-read (multi-gene-segment) semantics")
	pairedReads           = flag.Bool("paired-reads", false, "Reconcile taxon assignments between mates")
	useWeightedReadCounts = flag.Bool("use-weighted-read-counts", false, "Weight each read by its parsed header magnitude rather than 1")
	minSupport            = flag.Int("min-support", 0, "Absolute min-support threshold; 0 disables")
	minSupportPercent     = flag.Float64("min-support-percent", 0, "Min-support threshold as a percent of assigned reads; 0 disables")
	weightedLCAPercent    = flag.Float64("weighted-lca-percent", 80, "Percent-of-total-weight threshold for the weighted/coverage LCA strategies")
	lcaClassifications    = flag.String("lca-classifications", "", "Comma-separated list of non-Taxonomy classifications that use LCA instead of best-hit")
	classificationsFlag   = flag.String("classifications", "Taxonomy", "Comma-separated list of active classification names; must include Taxonomy")
	parallelism           = flag.Int("parallelism", 1, "Number of reads classified concurrently; 1 runs the sequential driver")
	blastMode             = flag.String("blast-mode", "BlastX", "Label recorded in the summary for the alignment tool the matches came from")
)

func bioClassifyUsage() {
	fmt.Printf("Usage: %s [OPTIONS] archivepath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func parseAlgorithm(s string) model.LCAAlgorithm {
	switch strings.ToLower(s) {
	case "weighted":
		return model.Weighted
	case "naive-long-read":
		return model.NaiveLongRead
	case "coverage-long-read":
		return model.CoverageLongRead
	default:
		return model.Naive
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	flag.Usage = bioClassifyUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("exactly one positional argument (archivepath) required; got %v", flag.Args())
	}
	archivePath := flag.Arg(0)

	classNames := splitNonEmpty(*classificationsFlag)
	hasTaxonomy := false
	for _, n := range classNames {
		if n == model.TaxonomyName {
			hasTaxonomy = true
		}
	}
	if !hasTaxonomy {
		log.Fatalf("-classifications must include %q", model.TaxonomyName)
	}
	lcaSet := make(map[string]bool)
	for _, n := range splitNonEmpty(*lcaClassifications) {
		lcaSet[n] = true
	}

	params := &model.Params{
		MinScore:              *minScore,
		TopPercent:            *topPercent,
		MaxExpected:           *maxExpected,
		MinPercentIdentity:    *minPercentIdentity,
		MinComplexity:         *minComplexity,
		MinPercentReadToCover: *minPercentReadToCover,
		LCAAlgorithm:          parseAlgorithm(*lcaAlgorithm),
		UseIdentityFilter:     *useIdentityFilter,
		LongReads:             *longReads,
		PairedReads:           *pairedReads,
		UseWeightedReadCounts: *useWeightedReadCounts,
		MinSupport:            *minSupport,
		MinSupportPercent:     *minSupportPercent,
		WeightedLCAPercent:    *weightedLCAPercent,
		Classifications:       classNames,
		LCAClassifications:    lcaSet,
		BlastMode:             *blastMode,
	}

	ctx := vcontext.Background()
	conn, err := archive.Open(ctx, archivePath)
	if err != nil {
		log.Panicf("opening archive %s: %v", archivePath, err)
	}

	snapshots := make(map[string]*classification.Snapshot, len(classNames))
	for _, name := range classNames {
		snap, err := archive.LoadSnapshot(ctx, archivePath, name)
		if err != nil {
			log.Panicf("loading classification tree %s: %v", name, err)
		}
		snapshots[name] = snap
	}

	opts := pipeline.Opts{
		Params:     params,
		Connector:  conn,
		Snapshots:  snapshots,
		Strategies: pipeline.BuildStrategies(params),
		OnProgress: func(done, total int64) {
			if total > 0 && done%10000 == 0 {
				log.Debug.Printf("progress: %d/%d", done, total)
			}
		},
	}

	var stats *pipeline.Stats
	if *parallelism > 1 {
		stats, _, err = pipeline.ClassifyParallel(ctx, opts, *parallelism)
	} else {
		stats, _, err = pipeline.Classify(ctx, opts)
	}
	if err != nil {
		log.Panicf("%v", err)
	}

	fmt.Printf("reads found:        %d\n", stats.ReadsFound)
	fmt.Printf("with hits:          %d\n", stats.WithHits)
	fmt.Printf("without hits:       %d\n", stats.WithoutHits)
	fmt.Printf("low complexity:     %d\n", stats.LowComplexity)
	fmt.Printf("coverage rejected:  %d\n", stats.CoverageRejected)
	fmt.Printf("assigned via mate:  %d\n", stats.AssignedViaMate)
	for _, name := range classNames {
		cs := stats.PerClassification[name]
		fmt.Printf("%-20s assigned=%d unassigned=%d\n", name+":", cs.Assigned, cs.Unassigned)
	}
	log.Debug.Printf("exiting")
}
