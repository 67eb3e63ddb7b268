package updatelog

import (
	"encoding/binary"
	"math"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/readclass/archive"
)

// Checksum is a commutative digest over a set of committed entries: the
// sum of a per-entry seahash, so that two runs whose entries commit in
// different orders (parallel classification makes no ordering promise)
// still produce the same value when they carry the same rows.
type Checksum uint64

// Compute returns the checksum of entries.
func Compute(entries []archive.CommittedEntry) Checksum {
	h := seahash.New()
	var total uint64
	buf := make([]byte, 0, 64)
	for _, e := range entries {
		buf = buf[:0]
		buf = appendUint64(buf, e.ReadUid)
		buf = appendUint64(buf, math.Float64bits(e.Weight))
		for _, id := range e.ClassIds {
			buf = appendUint32(buf, uint32(id))
		}
		h.Reset()
		_, _ = h.Write(buf)
		total += h.Sum64()
	}
	return Checksum(total)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
