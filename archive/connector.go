// Package archive defines the external collaborators the pipeline
// consumes (the archive connector, the mate-pair reader) and ships a
// concrete, file-backed reference implementation of them, so the pipeline
// is runnable end to end and testable without a double standing in for a
// real archive.
package archive

import (
	"context"

	"github.com/grailbio/readclass/model"
)

// ReadBlockIterator streams a sample's reads in archive order. Next
// returns (nil, io.EOF)-style completion via HasNext; callers must check
// HasNext before calling Next.
type ReadBlockIterator interface {
	HasNext() bool
	Next(ctx context.Context) (*model.ReadBlock, error)
	Progress() int64
	MaxProgress() int64
	Close() error
}

// MateReader is a second, independent handle on the same archive file
// (rma6-only), used to fetch a read's mate without disturbing the primary
// iterator's sequential position.
type MateReader interface {
	// Seek positions the reader at uid, an archive offset (the read
	// block's MateUid field).
	Seek(ctx context.Context, uid uint64) error
	// ReadBlock parses the read block at the current position.
	ReadBlock(ctx context.Context, minScore, maxExpected float64, wantMatches, wantSequences bool) (*model.ReadBlock, error)
	// ClassificationNames returns the classification names recorded in
	// the archive's header section (parsed once).
	ClassificationNames() []string
	Close() error
}

// CommittedEntry is one row of the batch passed to
// Connector.UpdateClassifications: a read's final (possibly rewritten by
// the min-support corrector) per-classification assignment.
type CommittedEntry struct {
	ReadUid  uint64
	Weight   float64
	ClassIds []int32 // parallel to the classificationNames argument
}

// Progress reports batch-commit progress as (done, total) pairs; total
// may be 0 if unknown.
type Progress func(done, total int)

// Summary is the post-stream record of counts by classification,
// parameter string, and blast mode -- the archive-level record a caller
// inspects without re-reading the whole committed table.
type Summary struct {
	// Assigned maps classification name to the number of reads assigned a
	// non-sentinel id in that classification, after min-support
	// correction.
	Assigned map[string]int
	// ParameterString is a deterministic rendering of the run's
	// model.Params, for provenance (model.Params.String).
	ParameterString string
	// BlastMode labels the alignment tool the matches originated from
	// (e.g. "BlastX", "BlastN"). This is an external, caller-supplied
	// label; the engine never derives or inspects it.
	BlastMode string
	// NumberReads is the total reads streamed (equal to readsFound).
	NumberReads int
}

// Connector is the archive connector consumed by the pipeline driver.
type Connector interface {
	// AllReadsIterator opens a streaming iterator over every read,
	// applying a server-side pre-filter (minScore, maxExpected) that is
	// independent of -- and coarser than -- the in-process match filter
	// (package match); wantMatches/wantSequences control which fields
	// are hydrated per read block.
	AllReadsIterator(ctx context.Context, minScore, maxExpected float64, wantMatches, wantSequences bool) (ReadBlockIterator, error)

	// OpenMateReader opens the second handle used for mate-pair
	// reconciliation. ok is false if the archive's format doesn't support
	// it (paired reads requested on a non-rma6 archive), in which case
	// the driver must warn and proceed with mate-pair disabled rather
	// than fail.
	OpenMateReader(ctx context.Context) (reader MateReader, ok bool, err error)

	// UpdateClassifications commits a batch of per-read assignments; the
	// only operation in the pipeline that performs archive-mutating I/O.
	UpdateClassifications(ctx context.Context, classificationNames []string, batch []CommittedEntry, progress Progress) error

	SetNumberOfReads(ctx context.Context, n int) error
	ClassificationSize(ctx context.Context, name string) (int, error)

	// SyncSummary persists the post-stream summary record, called once
	// after UpdateClassifications and SetNumberOfReads both succeed.
	SyncSummary(ctx context.Context, summary Summary) error
}
