package backendreader

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend"
	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend/memory"
	"github.com/tieredfetch/tieredfetcher/internal/types"
)

// fakeBackend lets tests hand BackendReader a consume-queue buffer that the
// memory backend, which always produces well-ordered entries, cannot
// produce: a malformed or out-of-order one.
type fakeBackend struct {
	consumeQueue []byte
	commitLog    []byte
}

func (f *fakeBackend) FetchConsumeQueue(context.Context, types.MessageQueue, int64, int) ([]byte, error) {
	return f.consumeQueue, nil
}

func (f *fakeBackend) FetchCommitLog(context.Context, types.MessageQueue, int64, int64) ([]byte, error) {
	return f.commitLog, nil
}

func (f *fakeBackend) FetchIndexSegments(context.Context, string, int64, int64) ([]tieredbackend.IndexSegment, error) {
	return nil, nil
}

func (f *fakeBackend) QueueBounds(context.Context, types.MessageQueue) (int64, int64, int64, bool) {
	return 0, 0, 0, true
}

func (f *fakeBackend) OffsetByTime(context.Context, types.MessageQueue, int64, types.OffsetBoundary) int64 {
	return -1
}

func encodeEntry(commitLogOffset int64, size int32) []byte {
	buf := make([]byte, types.ConsumeQueueStoreUnitSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(commitLogOffset))
	binary.BigEndian.PutUint32(buf[8:12], uint32(size))
	return buf
}

func seedQueue(t *testing.T, n int) (*memory.Backend, types.MessageQueue) {
	t.Helper()
	b := memory.NewBackend()
	queue := types.MessageQueue{Topic: "orders", BrokerName: "broker-0", QueueID: 0}
	msgs := make([]memory.Message, n)
	for i := range msgs {
		msgs[i] = memory.Message{Body: []byte("payload-" + string(rune('a'+i))), Timestamp: int64(i)}
	}
	b.Seed(queue, 0, msgs)
	return b, queue
}

func TestFetchRangeReturnsRequestedMessages(t *testing.T) {
	backend, queue := seedQueue(t, 10)
	r := New(backend, 1<<20, nil, nil)

	result := r.FetchRange(context.Background(), queue, 2, 3)
	require.Equal(t, types.StatusFound, result.Status)
	require.Len(t, result.Messages, 3)
	require.EqualValues(t, 2, result.Messages[0].Offset)
	require.EqualValues(t, 5, result.NextBeginOffset)
}

func TestFetchRangeAtTipReturnsOverflowOne(t *testing.T) {
	backend, queue := seedQueue(t, 3)
	r := New(backend, 1<<20, nil, nil)

	result := r.FetchRange(context.Background(), queue, 3, 5)
	require.Equal(t, types.StatusOffsetOverflowOne, result.Status)
}

func TestFetchRangeTruncatesToSizeThreshold(t *testing.T) {
	backend := memory.NewBackend()
	queue := types.MessageQueue{Topic: "big", QueueID: 0}
	msgs := []memory.Message{
		{Body: make([]byte, 100)},
		{Body: make([]byte, 100)},
		{Body: make([]byte, 100)},
	}
	backend.Seed(queue, 0, msgs)

	r := New(backend, 150, nil, nil)
	result := r.FetchRange(context.Background(), queue, 0, 3)
	require.Equal(t, types.StatusFound, result.Status)
	require.Len(t, result.Messages, 1)
	require.EqualValues(t, 1, result.NextBeginOffset)
}

func TestFetchRangeUnknownQueueReturnsFoundNull(t *testing.T) {
	backend := memory.NewBackend()
	r := New(backend, 1<<20, nil, nil)

	result := r.FetchRange(context.Background(), types.MessageQueue{Topic: "missing"}, 0, 1)
	require.Equal(t, types.StatusOffsetFoundNull, result.Status)
}

func TestFetchRangeSkippedEntryStillAdvancesNextBeginOffset(t *testing.T) {
	var buf []byte
	buf = append(buf, encodeEntry(0, 10)...)
	buf = append(buf, encodeEntry(10, 0)...) // size<=0: skipped when building messages
	buf = append(buf, encodeEntry(20, 10)...)
	backend := &fakeBackend{consumeQueue: buf, commitLog: make([]byte, 30)}
	r := New(backend, 1<<20, nil, nil)

	result := r.FetchRange(context.Background(), types.MessageQueue{Topic: "t"}, 10, 3)
	require.Equal(t, types.StatusFound, result.Status)
	require.Len(t, result.Messages, 2)
	require.EqualValues(t, 10, result.Messages[0].Offset)
	require.EqualValues(t, 12, result.Messages[1].Offset)
	require.EqualValues(t, 13, result.NextBeginOffset, "NextBeginOffset must advance past the skipped entry, not just count emitted messages")
}

func TestFetchRangeOutOfOrderConsumeQueueReturnsFoundNull(t *testing.T) {
	backend := &fakeBackend{
		consumeQueue: append(encodeEntry(100, 10), encodeEntry(50, 10)...),
		commitLog:    make([]byte, 200),
	}
	r := New(backend, 1<<20, nil, nil)

	result := r.FetchRange(context.Background(), types.MessageQueue{Topic: "t"}, 5, 2)
	require.Equal(t, types.StatusOffsetFoundNull, result.Status)
	require.EqualValues(t, 5, result.NextBeginOffset)
	require.Empty(t, result.Messages)
}
