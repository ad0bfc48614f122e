package types

import (
	"encoding/binary"

	"go.uber.org/atomic"
)

// MessageExt is one decoded message, a zero-copy view into a backend-fetched
// commit-log buffer plus an offset: its logical queue offset on the streaming
// read path, its commit-log byte offset in by-key query results.
type MessageExt struct {
	Body   []byte
	Offset int64
}

// StoreTimestampSize is the width, in bytes, of the store timestamp every
// message body carries in its first StoreTimestampSize bytes: the moment
// the message was appended to the commit log, as opposed to any
// producer-supplied timestamp carried later in the body. getEarliestMessageTimeAsync
// and getMessageStoreTimeStampAsync decode it; every other read path treats
// the body as opaque and returns it unmodified.
const StoreTimestampSize = 8

// DecodeStoreTimestamp reads the store timestamp (milliseconds since epoch)
// from the head of body. ok is false if body is too short to carry one.
func DecodeStoreTimestamp(body []byte) (int64, bool) {
	if len(body) < StoreTimestampSize {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(body[:StoreTimestampSize])), true
}

// Wrapper is the cache entry for a single message. accessCount is shared by
// reference (not copied) so every cache hit across every consumer group
// increments the same counter, which FetchCoordinator compares against the
// flat-file's active group count to decide when the entry is no longer
// needed by anyone.
type Wrapper struct {
	Body        []byte
	CurOffset   int64
	MinOffset   int64
	MaxOffset   int64
	Size        int
	accessCount *atomic.Int64
}

// NewWrapper builds a Wrapper. used=true starts accessCount at 1, matching
// the synchronous full-miss path in FetchCoordinator where the first caller
// has already "seen" the message it triggered the fetch for.
func NewWrapper(body []byte, curOffset, minOffset, maxOffset int64, size int, used bool) *Wrapper {
	w := &Wrapper{
		Body:        body,
		CurOffset:   curOffset,
		MinOffset:   minOffset,
		MaxOffset:   maxOffset,
		Size:        size,
		accessCount: atomic.NewInt64(0),
	}
	if used {
		w.accessCount.Store(1)
	}
	return w
}

// IncrementAccess records a cache hit and returns the new access count.
func (w *Wrapper) IncrementAccess() int64 {
	return w.accessCount.Add(1)
}

// AccessCount returns the current access count without mutating it.
func (w *Wrapper) AccessCount() int64 {
	return w.accessCount.Load()
}

// Weight is the byte cost this wrapper contributes to the cache's weight
// budget.
func (w *Wrapper) Weight() int64 {
	return int64(len(w.Body))
}
