package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/golang/snappy"
	"github.com/grailbio/base/file"
	"github.com/grailbio/readclass/model"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// FileConnector is the reference archive.Connector: reads live in a
// flat, length-prefixed gob stream ("<base>.reads") that is
// also mmap-addressable by byte offset (package archive's mate reader
// uses a read's file offset directly as its MateUid, per model.ReadBlock's
// doc comment), a small zstd-compressed gob header ("<base>.header")
// records the classification names and counts, and a commit writes a
// snappy-framed gob table ("<base>.committed").
//
// Building the ".reads" file from raw alignments is outside this
// package's scope -- FileConnector is a reader and committer of an
// already-materialized archive, the same division of labor as an rma6
// reader versus the meganizer that built it.
type FileConnector struct {
	basePath string
	hdr      fileHeader
}

type fileHeader struct {
	Classifications     []string
	NumReads            int
	ClassificationSizes map[string]int
	Summary             Summary
}

// OpenFileConnector opens the archive rooted at basePath (i.e.
// "<basePath>.header", "<basePath>.reads", "<basePath>.committed"). A
// missing header is treated as a fresh, empty archive rather than an
// error, so a connector can be pointed at a reads file written by
// something else entirely.
func OpenFileConnector(ctx context.Context, basePath string) (*FileConnector, error) {
	c := &FileConnector{basePath: basePath, hdr: fileHeader{ClassificationSizes: map[string]int{}}}
	f, err := file.Open(ctx, basePath+".header")
	if err != nil {
		return c, nil
	}
	defer f.Close(ctx) // nolint: errcheck
	zr, err := zstd.NewReader(f.Reader(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "opening header zstd stream %s", basePath)
	}
	defer zr.Close()
	if err := gob.NewDecoder(zr).Decode(&c.hdr); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "decoding header %s", basePath)
	}
	if c.hdr.ClassificationSizes == nil {
		c.hdr.ClassificationSizes = map[string]int{}
	}
	return c, nil
}

func (c *FileConnector) writeHeader(ctx context.Context) error {
	out, err := file.Create(ctx, c.basePath+".header")
	if err != nil {
		return errors.Wrapf(err, "creating header %s", c.basePath)
	}
	zw, err := zstd.NewWriter(out.Writer(ctx))
	if err != nil {
		return errors.Wrap(err, "creating zstd header writer")
	}
	if err := gob.NewEncoder(zw).Encode(c.hdr); err != nil {
		return errors.Wrap(err, "encoding header")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "closing zstd header writer")
	}
	return out.Close(ctx)
}

// fileIterator decodes the length-prefixed gob frames of a ".reads" file
// sequentially, prefetching one record ahead so HasNext can answer
// without blocking Next on I/O it hasn't done yet.
type fileIterator struct {
	f       file.File
	br      *bufio.Reader
	count   int64
	total   int64
	pending *model.ReadBlock
	pendErr error
}

// decodeFrame reads one [4-byte little-endian length][gob bytes] record.
func decodeFrame(br *bufio.Reader) (*model.ReadBlock, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, errors.Wrap(err, "truncated read-block frame")
	}
	var rb model.ReadBlock
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&rb); err != nil {
		return nil, errors.Wrap(err, "decoding read block")
	}
	return &rb, nil
}

func (it *fileIterator) advance() {
	it.pending, it.pendErr = decodeFrame(it.br)
}

func (it *fileIterator) HasNext() bool {
	if it.pending == nil && it.pendErr == nil {
		it.advance()
	}
	return it.pending != nil
}

func (it *fileIterator) Next(ctx context.Context) (*model.ReadBlock, error) {
	if it.pending == nil {
		if it.pendErr != nil && it.pendErr != io.EOF {
			return nil, it.pendErr
		}
		return nil, io.EOF
	}
	rb := it.pending
	it.pending, it.pendErr = nil, nil
	it.count++
	return rb, nil
}

func (it *fileIterator) Progress() int64    { return it.count }
func (it *fileIterator) MaxProgress() int64 { return it.total }
func (it *fileIterator) Close() error       { return it.f.Close(context.Background()) }

// AllReadsIterator opens the archive's ".reads" file for sequential
// decode. minScore/maxExpected/wantMatches/wantSequences are accepted per
// the Connector interface but not applied as a server-side pre-filter:
// this reference backing store has no index to prune on, so every read
// is decoded and handed to the caller, which applies the real filter
// (package match) itself.
func (c *FileConnector) AllReadsIterator(ctx context.Context, _, _ float64, _, _ bool) (ReadBlockIterator, error) {
	f, err := file.Open(ctx, c.basePath+".reads")
	if err != nil {
		return nil, errors.Wrapf(err, "opening reads file %s", c.basePath)
	}
	return &fileIterator{f: f, br: bufio.NewReader(f.Reader(ctx)), total: int64(c.hdr.NumReads)}, nil
}

// OpenMateReader opens a second, mmap-backed handle on the same ".reads"
// file (see mate.go). ok is always true for this backing store: every
// FileConnector archive supports mate-pair lookup by construction.
func (c *FileConnector) OpenMateReader(ctx context.Context) (MateReader, bool, error) {
	r, err := newFileMateReader(c.basePath+".reads", c.hdr.Classifications)
	if err != nil {
		return nil, false, errors.Wrapf(err, "opening mate reader %s", c.basePath)
	}
	return r, true, nil
}

// committedTable is the leading gob value of the ".committed" file: it
// carries the classification names, with Entries left empty. Each
// CommittedEntry (the final, post-min-support-correction assignment of a
// read) follows as its own gob value, in the order passed to
// UpdateClassifications.
type committedTable struct {
	Names   []string
	Entries []CommittedEntry
}

// UpdateClassifications writes batch to "<base>.committed" as a single
// snappy-compressed gob stream: open once, stream through a buffered
// snappy.Writer, close.
func (c *FileConnector) UpdateClassifications(ctx context.Context, names []string, batch []CommittedEntry, progress Progress) error {
	out, err := file.Create(ctx, c.basePath+".committed")
	if err != nil {
		return errors.Wrapf(err, "creating committed table %s", c.basePath)
	}
	sw := snappy.NewBufferedWriter(out.Writer(ctx))
	enc := gob.NewEncoder(sw)
	if err := enc.Encode(committedTable{Names: names, Entries: nil}); err != nil {
		return errors.Wrap(err, "encoding committed table header")
	}
	for i, e := range batch {
		if err := enc.Encode(e); err != nil {
			return errors.Wrap(err, "encoding committed entry")
		}
		if progress != nil {
			progress(i+1, len(batch))
		}
	}
	if err := sw.Close(); err != nil {
		return errors.Wrap(err, "closing committed table writer")
	}
	return out.Close(ctx)
}

// SetNumberOfReads records n in the archive header, which AllReadsIterator
// reports as MaxProgress on the next open.
func (c *FileConnector) SetNumberOfReads(ctx context.Context, n int) error {
	c.hdr.NumReads = n
	return c.writeHeader(ctx)
}

// ClassificationSize returns the known-id count recorded for name at
// header-write time, or 0 if name is unrecognized.
func (c *FileConnector) ClassificationSize(ctx context.Context, name string) (int, error) {
	return c.hdr.ClassificationSizes[name], nil
}

// SyncSummary records summary in the archive header alongside the
// classification names and read count.
func (c *FileConnector) SyncSummary(ctx context.Context, summary Summary) error {
	c.hdr.Summary = summary
	return c.writeHeader(ctx)
}
