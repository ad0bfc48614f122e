// Package inflight implements the per-flat-file in-flight request registry:
// it records ongoing prefetches by (group, start-offset, count) so that
// later callers - from any consumer group - can await an existing future
// instead of issuing a duplicate backend fetch. The bookkeeping mirrors the
// teacher's inflightFetchWants list in pkg/storage/ingest/fetcher.go,
// generalised from a single ordered queue of Kafka fetch-wants to an
// arbitrary set of concurrently outstanding offset ranges shared across
// consumer groups.
package inflight

import (
	"sort"
	"sync"
)

// Batch is one physical backend fetch that is part of a larger installed
// range: it carries its own offset span and its own completion future.
type Batch struct {
	StartOffset int64
	Count       int
	Future      *OffsetFuture
}

func (b Batch) endOffset() int64 { return b.StartOffset + int64(b.Count) }

// entry is one installed range. It records no group: lookups from every
// group see it.
type entry struct {
	startOffset int64
	endOffset   int64
	batches     []Batch
}

func (e *entry) overlaps(start, end int64) bool {
	return e.startOffset < end && start < e.endOffset
}

// Registry is the per-flat-file InflightRegistry.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Future describes every fetch that overlaps a requested range, as returned
// by GetInflightRequest.
type Future struct {
	startOffset int64
	batches     []Batch
}

// IsAllDone reports whether every constituent batch has resolved.
func (f *Future) IsAllDone() bool {
	if f == nil {
		return true
	}
	for _, b := range f.batches {
		if !b.Future.IsDone() {
			return false
		}
	}
	return true
}

// StartOffset returns the start offset of the installed range this future
// describes: the lowest start offset among the overlapping entries.
func (f *Future) StartOffset() int64 {
	if f == nil {
		return 0
	}
	return f.startOffset
}

// FutureFor returns the future for the batch containing offset, or an
// already-completed future resolving to -1 if no batch covers it.
func (f *Future) FutureFor(offset int64) *OffsetFuture {
	if f != nil {
		for _, b := range f.batches {
			if offset >= b.StartOffset && offset < b.endOffset() {
				return b.Future
			}
		}
	}
	return Completed(-1)
}

// LastFuture returns the future of the last batch in the range, or an
// already-completed future resolving to -1 if there are none.
func (f *Future) LastFuture() *OffsetFuture {
	if f == nil || len(f.batches) == 0 {
		return Completed(-1)
	}
	return f.batches[len(f.batches)-1].Future
}

// GetInflightRequest returns every registered fetch overlapping
// [startOffset, startOffset+count), merged across every entry that
// overlaps, in offset order. group is accepted for parity with spec.md's
// signature and for future attribution/metrics but does not scope the
// lookup: the whole point of the registry is that overlapping ranges from
// different groups coalesce onto the same futures.
func (r *Registry) GetInflightRequest(group string, startOffset int64, count int) *Future {
	_ = group
	end := startOffset + int64(count)

	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*entry
	minStart := int64(0)
	first := true
	for _, e := range r.entries {
		if !e.overlaps(startOffset, end) {
			continue
		}
		matched = append(matched, e)
		if first || e.startOffset < minStart {
			minStart = e.startOffset
			first = false
		}
	}
	if len(matched) == 0 {
		return nil
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].startOffset < matched[j].startOffset })
	var batches []Batch
	for _, e := range matched {
		batches = append(batches, e.batches...)
	}
	return &Future{startOffset: minStart, batches: batches}
}

// PutInflightRequest installs a new set of pending fetches covering
// [startOffset, startOffset+count). A background goroutine removes the
// entry once every one of its batches resolves, so later lookups stop
// seeing it.
func (r *Registry) PutInflightRequest(group string, startOffset int64, count int, batches []Batch) {
	_ = group
	e := &entry{startOffset: startOffset, endOffset: startOffset + int64(count), batches: batches}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	go r.awaitAndRemove(e)
}

func (r *Registry) awaitAndRemove(e *entry) {
	for _, b := range e.batches {
		<-b.Future.Done()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.entries {
		if existing == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}
