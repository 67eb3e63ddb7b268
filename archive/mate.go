package archive

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/grailbio/readclass/model"
)

// fileMateReader is the reference MateReader: it mmaps the same ".reads"
// file FileConnector streams sequentially, so Seek's uid -- a byte
// offset into that file, per model.ReadBlock.MateUid's contract -- is a
// direct index into the mapping rather than requiring a separate offset
// table.
type fileMateReader struct {
	f     *os.File
	data  []byte
	pos   int
	names []string
}

func newFileMateReader(path string, names []string) (*fileMateReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s for mmap", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close() // nolint: errcheck
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if fi.Size() == 0 {
		f.Close() // nolint: errcheck
		return &fileMateReader{names: names}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close() // nolint: errcheck
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	return &fileMateReader{f: f, data: data, names: names}, nil
}

// Seek records uid (a byte offset, per model.ReadBlock.MateUid) as the
// position the next ReadBlock call decodes from.
func (r *fileMateReader) Seek(_ context.Context, uid uint64) error {
	if uid > uint64(len(r.data)) {
		return errors.Errorf("mate offset %d past end of mapping (%d bytes)", uid, len(r.data))
	}
	r.pos = int(uid)
	return nil
}

// ReadBlock decodes the frame at the current position. minScore and
// maxExpected are accepted per the MateReader interface but, like
// FileConnector's iterator, are not applied as a pre-filter by this
// backing store.
func (r *fileMateReader) ReadBlock(_ context.Context, _, _ float64, _, _ bool) (*model.ReadBlock, error) {
	if r.pos+4 > len(r.data) {
		return nil, errors.New("mate read past end of mapping")
	}
	rb, _, err := decodeFrameAt(r.data, r.pos)
	if err != nil {
		return nil, errors.Wrap(err, "decoding mate read block")
	}
	return rb, nil
}

func (r *fileMateReader) ClassificationNames() []string { return r.names }

func (r *fileMateReader) Close() error {
	if r.data == nil {
		return nil
	}
	if err := unix.Munmap(r.data); err != nil {
		return errors.Wrap(err, "munmap")
	}
	return r.f.Close()
}

// decodeFrameAt decodes one [4-byte little-endian length][gob bytes]
// record starting at offset in data, returning the record and the offset
// just past it.
func decodeFrameAt(data []byte, offset int) (*model.ReadBlock, int, error) {
	if offset+4 > len(data) {
		return nil, 0, errors.New("truncated frame length")
	}
	n := int(uint32(data[offset]) | uint32(data[offset+1])<<8 | uint32(data[offset+2])<<16 | uint32(data[offset+3])<<24)
	start := offset + 4
	if start+n > len(data) {
		return nil, 0, errors.New("truncated frame body")
	}
	var rb model.ReadBlock
	if err := gob.NewDecoder(bytes.NewReader(data[start : start+n])).Decode(&rb); err != nil {
		return nil, 0, err
	}
	return &rb, start + n, nil
}
