// Package memory implements tieredbackend.Backend over plain in-process
// byte buffers. It exists so the rest of the repository - and its test
// suite - can exercise the full read path deterministically, without a
// network round trip, the same role a fake broker plays in the teacher's
// ingest tests.
package memory

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend"
	"github.com/tieredfetch/tieredfetcher/internal/types"
)

// Message is one message seeded into a Backend queue.
type Message struct {
	Body      []byte
	TagHash   uint64
	Timestamp int64
}

type queueState struct {
	messages []Message
	// commitLogOffsets[i] is the commit-log byte offset of messages[i].
	commitLogOffsets []int64
	commitLog        []byte
	minOffset        int64
}

// Backend is a fully in-memory tieredbackend.Backend, seeded up front with
// Seed and safe for concurrent reads.
type Backend struct {
	mu       sync.RWMutex
	queues   map[types.MessageQueue]*queueState
	segments map[string][]tieredbackend.IndexSegment
}

// NewBackend returns an empty Backend; use Seed to populate queues.
func NewBackend() *Backend {
	return &Backend{
		queues:   make(map[types.MessageQueue]*queueState),
		segments: make(map[string][]tieredbackend.IndexSegment),
	}
}

// Seed installs messages as the entire backlog for queue, starting at
// logical offset minOffset. It overwrites any previous seed for that queue.
func (b *Backend) Seed(queue types.MessageQueue, minOffset int64, messages []Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := &queueState{minOffset: minOffset}
	var pos int64
	for _, m := range messages {
		st.commitLogOffsets = append(st.commitLogOffsets, pos)
		st.commitLog = append(st.commitLog, m.Body...)
		pos += int64(len(m.Body))
	}
	st.messages = messages
	b.queues[queue] = st
}

// SeedIndexSegments installs raw index-file segments for topic.
func (b *Backend) SeedIndexSegments(topic string, segments []tieredbackend.IndexSegment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.segments[topic] = segments
}

func (b *Backend) state(queue types.MessageQueue) (*queueState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.queues[queue]
	return st, ok
}

// FetchConsumeQueue implements tieredbackend.Backend.
func (b *Backend) FetchConsumeQueue(_ context.Context, queue types.MessageQueue, offset int64, count int) ([]byte, error) {
	if count <= 0 {
		return nil, tieredbackend.ErrIllegalParam
	}
	st, ok := b.state(queue)
	if !ok {
		return nil, tieredbackend.ErrNotFound
	}
	idx := offset - st.minOffset
	if idx < 0 || idx > int64(len(st.messages)) {
		return nil, tieredbackend.ErrIllegalOffset
	}
	if idx == int64(len(st.messages)) {
		return nil, tieredbackend.ErrNoNewData
	}

	end := idx + int64(count)
	if end > int64(len(st.messages)) {
		end = int64(len(st.messages))
	}

	buf := make([]byte, 0, (end-idx)*types.ConsumeQueueStoreUnitSize)
	for i := idx; i < end; i++ {
		entry := make([]byte, types.ConsumeQueueStoreUnitSize)
		binary.BigEndian.PutUint64(entry[0:8], uint64(st.commitLogOffsets[i]))
		binary.BigEndian.PutUint32(entry[8:12], uint32(len(st.messages[i].Body)))
		binary.BigEndian.PutUint64(entry[12:20], st.messages[i].TagHash)
		buf = append(buf, entry...)
	}
	return buf, nil
}

// FetchCommitLog implements tieredbackend.Backend.
func (b *Backend) FetchCommitLog(_ context.Context, queue types.MessageQueue, offset, length int64) ([]byte, error) {
	if length < 0 {
		return nil, tieredbackend.ErrIllegalParam
	}
	st, ok := b.state(queue)
	if !ok {
		return nil, tieredbackend.ErrNotFound
	}
	if offset < 0 || offset+length > int64(len(st.commitLog)) {
		return nil, tieredbackend.ErrIllegalOffset
	}
	out := make([]byte, length)
	copy(out, st.commitLog[offset:offset+length])
	return out, nil
}

// FetchIndexSegments implements tieredbackend.Backend.
func (b *Backend) FetchIndexSegments(_ context.Context, topic string, beginTime, endTime int64) ([]tieredbackend.IndexSegment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []tieredbackend.IndexSegment
	for _, seg := range b.segments[topic] {
		if seg.FileBeginTimestamp <= endTime {
			out = append(out, seg)
		}
	}
	_ = beginTime
	return out, nil
}

// QueueBounds implements tieredbackend.Backend.
func (b *Backend) QueueBounds(_ context.Context, queue types.MessageQueue) (minOffset, commitOffset, commitLogMinOffset int64, ok bool) {
	st, found := b.state(queue)
	if !found {
		return 0, 0, 0, false
	}
	return st.minOffset, st.minOffset + int64(len(st.messages)), 0, true
}

// OffsetByTime implements tieredbackend.Backend.
func (b *Backend) OffsetByTime(_ context.Context, queue types.MessageQueue, ts int64, boundary types.OffsetBoundary) int64 {
	st, ok := b.state(queue)
	if !ok {
		return -1
	}
	for i, m := range st.messages {
		if boundary == types.BoundaryLower && m.Timestamp >= ts {
			return st.minOffset + int64(i)
		}
		if boundary == types.BoundaryUpper && m.Timestamp > ts {
			return st.minOffset + int64(i) - 1
		}
	}
	if boundary == types.BoundaryUpper && len(st.messages) > 0 {
		return st.minOffset + int64(len(st.messages)) - 1
	}
	return -1
}
