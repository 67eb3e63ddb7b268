package archive

import (
	"context"
	"encoding/gob"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/pkg/errors"
	"github.com/yasushi-saito/zlibng"

	"github.com/grailbio/readclass/model"
)

var registerS3Once sync.Once

// ensureS3Registered wires the "s3://" scheme into grailbio/base/file the
// first time an s3:// archive is opened.
func ensureS3Registered() {
	registerS3Once.Do(func() {
		file.RegisterImplementation("s3", func() file.Implementation {
			return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
		})
	})
}

// Open resolves uri to a Connector: a bare path or "file://" path opens a
// FileConnector, "s3://..." registers the S3 file.Implementation on first
// use and then opens a FileConnector against it (grailbio/base/file
// dispatches the actual I/O by scheme), and a path ending in ".gz" opens
// the legacy single-file, read-only archive format via zlibng.
func Open(ctx context.Context, uri string) (Connector, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		ensureS3Registered()
		return OpenFileConnector(ctx, uri)
	case strings.HasSuffix(uri, ".gz"):
		return openLegacyGzArchive(ctx, uri)
	default:
		return OpenFileConnector(ctx, uri)
	}
}

// legacyGzConnector reads a single gzip-compressed gob stream of
// ReadBlocks written by tooling that predates the split
// header/reads/committed layout. It is read-only: UpdateClassifications
// refuses, since there is nowhere in this format to write a result back
// to.
type legacyGzConnector struct {
	path     string
	numReads int
}

func openLegacyGzArchive(ctx context.Context, path string) (Connector, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening legacy archive %s", path)
	}
	defer f.Close(ctx) // nolint: errcheck
	zr, err := zlibng.NewReader(f.Reader(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "opening legacy gzip stream %s", path)
	}
	defer zr.Close() // nolint: errcheck
	count := 0
	dec := gob.NewDecoder(zr)
	for {
		var rb model.ReadBlock
		if err := dec.Decode(&rb); err != nil {
			break
		}
		count++
	}
	return &legacyGzConnector{path: path, numReads: count}, nil
}

type legacyGzIterator struct {
	f     file.File
	zr    *zlibng.Reader
	dec   *gob.Decoder
	count int64
	total int64
}

func (it *legacyGzIterator) HasNext() bool {
	return it.count < it.total
}

func (it *legacyGzIterator) Next(context.Context) (*model.ReadBlock, error) {
	var rb model.ReadBlock
	if err := it.dec.Decode(&rb); err != nil {
		return nil, err
	}
	it.count++
	return &rb, nil
}

func (it *legacyGzIterator) Progress() int64    { return it.count }
func (it *legacyGzIterator) MaxProgress() int64 { return it.total }
func (it *legacyGzIterator) Close() error {
	it.zr.Close()
	return it.f.Close(context.Background())
}

func (c *legacyGzConnector) AllReadsIterator(ctx context.Context, _, _ float64, _, _ bool) (ReadBlockIterator, error) {
	f, err := file.Open(ctx, c.path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening legacy archive %s", c.path)
	}
	zr, err := zlibng.NewReader(f.Reader(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "opening legacy gzip stream %s", c.path)
	}
	return &legacyGzIterator{f: f, zr: zr, dec: gob.NewDecoder(zr), total: int64(c.numReads)}, nil
}

func (c *legacyGzConnector) OpenMateReader(context.Context) (MateReader, bool, error) {
	// Legacy archives predate mate-offset bookkeeping; the driver must
	// proceed with mate-pair reconciliation disabled.
	return nil, false, nil
}

func (c *legacyGzConnector) UpdateClassifications(context.Context, []string, []CommittedEntry, Progress) error {
	return errors.New("legacy .gz archives are read-only")
}

func (c *legacyGzConnector) SetNumberOfReads(context.Context, int) error {
	return errors.New("legacy .gz archives are read-only")
}

func (c *legacyGzConnector) ClassificationSize(context.Context, string) (int, error) {
	return 0, nil
}

func (c *legacyGzConnector) SyncSummary(context.Context, Summary) error {
	return errors.New("legacy .gz archives are read-only")
}
