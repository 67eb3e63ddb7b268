package pipeline

import (
	"context"
	"encoding/binary"
	"sync"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/readclass/interval"
	"github.com/grailbio/readclass/model"
	"github.com/grailbio/readclass/updatelog"
)

// chunkSize bounds how many reads are buffered from the (necessarily
// sequential) archive iterator before being fanned out, so memory stays
// bounded regardless of archive size.
const chunkSize = 512

// workerSlot is one shard's worker scratch plus the mutex serializing
// access to it; read uids are assigned to slots by FarmHash so the same
// slot (and its reused Mask/interval.Set buffers) tends to see the same
// reads run to run, without requiring true per-read affinity.
type workerSlot struct {
	mu sync.Mutex
	w  worker
}

func slotFor(slots []*workerSlot, uid uint64) *workerSlot {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uid)
	h := farm.Hash64(b[:])
	return slots[h%uint64(len(slots))]
}

// mergeStats folds src into dst. Called only from the sequential
// per-chunk merge step, never concurrently.
func mergeStats(dst, src *Stats) {
	dst.ReadsFound += src.ReadsFound
	dst.TotalWeight += src.TotalWeight
	dst.TotalMatches += src.TotalMatches
	dst.WithHits += src.WithHits
	dst.WithoutHits += src.WithoutHits
	dst.LowComplexity += src.LowComplexity
	dst.CoverageRejected += src.CoverageRejected
	dst.AssignedViaMate += src.AssignedViaMate
	for name, cs := range src.PerClassification {
		dst.PerClassification[name].Assigned += cs.Assigned
		dst.PerClassification[name].Unassigned += cs.Unassigned
	}
}

// ClassifyParallel is Classify's fan-out counterpart: the archive iterator
// is still drained sequentially (it isn't safe for concurrent use), but
// each buffered chunk of reads is classified concurrently across
// parallelism worker slots via traverse.Each, with per-read assignment to
// a slot by FarmHash of the read's uid. All slots append to the same
// updatelog.Log, whose internal mutex serializes the actual writes; the
// order entries land in is whatever order the chunk's goroutines finish
// in, not the read order they were dispatched in. The single mate reader
// is likewise shared across slots; mateContext's own mutex keeps each
// seek+read lookup atomic. parallelism <= 1 delegates straight to
// Classify, which keeps that order stable.
func ClassifyParallel(ctx context.Context, opts Opts, parallelism int) (*Stats, *updatelog.Log, error) {
	if parallelism <= 1 {
		return Classify(ctx, opts)
	}
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

	slots := make([]*workerSlot, parallelism)
	for i := range slots {
		slots[i] = &workerSlot{}
		if p.LongReads && p.MinPercentReadToCover > 0 {
			slots[i].w.ivs = &interval.Set{}
		}
	}

	chunk := make([]*model.ReadBlock, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		localStats := make([]*Stats, len(chunk))
		err := traverse.Each(len(chunk), func(i int) error {
			read := chunk[i]
			slot := slotFor(slots, read.Uid)
			ls := newStats(p.Classifications)
			slot.mu.Lock()
			classifyRead(p, opts.Snapshots, opts.Strategies, &slot.w, mate, read, ulog, ls)
			slot.mu.Unlock()
			localStats[i] = ls
			return nil
		})
		if err != nil {
			return err
		}
		for _, ls := range localStats {
			mergeStats(stats, ls)
		}
		chunk = chunk[:0]
		return nil
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
		chunk = append(chunk, read)
		if len(chunk) == chunkSize {
			if ferr := flush(); ferr != nil {
				return nil, nil, errors.E(ferr, "classifying read chunk")
			}
		}
		if opts.OnProgress != nil {
			opts.OnProgress(iter.Progress(), iter.MaxProgress())
		}
	}
	if ferr := flush(); ferr != nil {
		return nil, nil, errors.E(ferr, "classifying read chunk")
	}

	if err := finishRun(ctx, opts, stats, ulog); err != nil {
		return nil, nil, err
	}
	return stats, ulog, nil
}
