// Package flatfile implements the FlatFile manager: the per-queue handle
// that extends an opaque backend reference with the mutable state the core
// needs - a read-ahead factor, an in-flight registry, and active-group
// bookkeeping.
package flatfile

import (
	"context"
	"sync"
	"unsafe"

	"go.uber.org/atomic"

	"github.com/tieredfetch/tieredfetcher/internal/inflight"
	"github.com/tieredfetch/tieredfetcher/internal/readahead"
	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend"
	"github.com/tieredfetch/tieredfetcher/internal/types"
)

// File is one queue's flat-file handle: a stable identity plus the
// read-ahead/in-flight/active-group state the rest of the core attaches to
// it. Its pointer identity is stable for the lifetime of the handle and
// doubles as half of every cache key for this queue, so dropping a File
// (see Manager.Drop) must invalidate every cache entry keyed under it first.
type File struct {
	queue   types.MessageQueue
	backend tieredbackend.Backend

	policy   *readahead.Policy
	registry *inflight.Registry

	// lastPrefetchStart is the start offset of the most recently installed
	// prefetch range, kept even after the registry entry itself is pruned
	// on completion, so PrefetchEngine can tell whether a consumer is still
	// advancing into the window it last prefetched.
	lastPrefetchStart *atomic.Int64

	// mu guards the short read-modify-write regions in PrefetchEngine and
	// FetchCoordinator's full-miss path. It is never held across backend
	// I/O.
	mu sync.Mutex

	groups sync.Map // group name (string) -> *atomic.Int64 (last served offset)
}

func newFile(queue types.MessageQueue, backend tieredbackend.Backend, minFactor int) *File {
	return &File{
		queue:             queue,
		backend:           backend,
		policy:            readahead.NewPolicy(minFactor),
		registry:          inflight.NewRegistry(),
		lastPrefetchStart: atomic.NewInt64(-1),
	}
}

// LastPrefetchStart returns the start offset of the most recently installed
// prefetch range, or -1 if none has been installed yet.
func (f *File) LastPrefetchStart() int64 {
	return f.lastPrefetchStart.Load()
}

// SetLastPrefetchStart records the start offset of a newly installed
// prefetch range.
func (f *File) SetLastPrefetchStart(offset int64) {
	f.lastPrefetchStart.Store(offset)
}

// Identity returns a stable, comparable value identifying this handle,
// suitable as half of a cache.Key.
func (f *File) Identity() uintptr {
	return uintptr(unsafe.Pointer(f))
}

// Queue returns the identity of the queue this handle serves.
func (f *File) Queue() types.MessageQueue {
	return f.queue
}

// Backend returns the tiered backend this handle reads from.
func (f *File) Backend() tieredbackend.Backend {
	return f.backend
}

// Policy returns the per-file ReadAheadPolicy.
func (f *File) Policy() *readahead.Policy {
	return f.policy
}

// Registry returns the per-file InflightRegistry.
func (f *File) Registry() *inflight.Registry {
	return f.registry
}

// Lock/Unlock expose the per-file mutex used by PrefetchEngine and the
// FetchCoordinator full-miss path around their read-modify-write regions.
func (f *File) Lock()   { f.mu.Lock() }
func (f *File) Unlock() { f.mu.Unlock() }

// Bounds returns the queue's minimum offset, commit offset (exclusive
// upper bound), and minimum commit-log offset, as currently known to the
// backend.
func (f *File) Bounds(ctx context.Context) (minOffset, commitOffset, commitLogMinOffset int64, ok bool) {
	return f.backend.QueueBounds(ctx, f.queue)
}

// OffsetByTime resolves a consume-queue offset at or around ts.
func (f *File) OffsetByTime(ctx context.Context, ts int64, boundary types.OffsetBoundary) int64 {
	return f.backend.OffsetByTime(ctx, f.queue, ts, boundary)
}

// ActiveGroupCount returns the number of distinct consumer groups currently
// recorded as reading this flat-file, the threshold FetchCoordinator uses to
// decide when a cache entry has been seen by everyone who could read it.
func (f *File) ActiveGroupCount() int64 {
	var n int64
	f.groups.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	if n == 0 {
		// A flat-file with no recorded readers yet still has at least one
		// implicit reader: the caller about to record its own access.
		return 1
	}
	return n
}

// RecordGroupAccess records that group last observed offset. Offsets only
// move forward: concurrent recordings from the same group race harmlessly
// via compare-and-swap, keeping only the highest offset seen.
func (f *File) RecordGroupAccess(group string, offset int64) {
	v, _ := f.groups.LoadOrStore(group, atomic.NewInt64(offset))
	counter := v.(*atomic.Int64)
	for {
		cur := counter.Load()
		if offset <= cur {
			return
		}
		if counter.CompareAndSwap(cur, offset) {
			return
		}
	}
}

// LastServedOffset returns the last offset recorded for group, or -1 if
// group has never been recorded.
func (f *File) LastServedOffset(group string) int64 {
	v, ok := f.groups.Load(group)
	if !ok {
		return -1
	}
	return v.(*atomic.Int64).Load()
}
