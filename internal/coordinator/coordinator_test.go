package coordinator

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tieredfetch/tieredfetcher/internal/backendreader"
	"github.com/tieredfetch/tieredfetcher/internal/cache"
	"github.com/tieredfetch/tieredfetcher/internal/flatfile"
	"github.com/tieredfetch/tieredfetcher/internal/prefetch"
	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend"
	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend/memory"
	"github.com/tieredfetch/tieredfetcher/internal/types"
	"github.com/tieredfetch/tieredfetcher/internal/workerpool"
)

func seed(t *testing.T, n int) (*memory.Backend, types.MessageQueue) {
	t.Helper()
	b := memory.NewBackend()
	queue := types.MessageQueue{Topic: "orders", BrokerName: "broker-0", QueueID: 0}
	msgs := make([]memory.Message, n)
	for i := range msgs {
		body := make([]byte, 8)
		binary.BigEndian.PutUint64(body, uint64(i))
		msgs[i] = memory.Message{Body: body, Timestamp: int64(i)}
	}
	b.Seed(queue, 0, msgs)
	return b, queue
}

func newCoordinator(t *testing.T, backend tieredbackend.Backend, minFactor int, cacheTTL time.Duration) (*Coordinator, *flatfile.Manager, func()) {
	t.Helper()
	store, err := cache.NewStore(cache.Config{MaxWeightBytes: 1 << 20, ExpireAfterWrite: cacheTTL})
	require.NoError(t, err)

	manager := flatfile.NewManager(backend, minFactor)
	reader := backendreader.New(backend, 1<<20, nil, nil)
	pool := workerpool.New(4)
	pf := prefetch.New(reader, store, pool, prefetch.Config{
		MessageCountThreshold:    256,
		BatchSizeFactorThreshold: 4,
	}, nil, nil)
	coord := New(manager, store, reader, pf, pool, Config{MinFactor: minFactor}, nil, nil)

	cleanup := func() {
		pool.Stop()
		store.Close()
	}
	return coord, manager, cleanup
}

func recv(t *testing.T, ch <-chan *types.GetMessageResult) *types.GetMessageResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("getMessage never completed")
		return nil
	}
}

func TestGetMessageColdMissSingleGroup(t *testing.T) {
	backend, queue := seed(t, 200)
	coord, _, cleanup := newCoordinator(t, backend, 3, time.Minute)
	defer cleanup()

	result := recv(t, coord.GetMessageAsync(context.Background(), "g1", queue, 100, 10, nil))
	require.Equal(t, types.StatusFound, result.Status)
	require.Len(t, result.Messages, 10)
	require.EqualValues(t, 100, result.Messages[0].Offset)
	require.EqualValues(t, 109, result.Messages[9].Offset)
	require.EqualValues(t, 110, result.NextBeginOffset)
}

func TestGetMessageWarmHitTriggersPrefetch(t *testing.T) {
	backend, queue := seed(t, 200)
	coord, manager, cleanup := newCoordinator(t, backend, 3, time.Minute)
	defer cleanup()

	first := recv(t, coord.GetMessageAsync(context.Background(), "g1", queue, 100, 10, nil))
	require.Equal(t, types.StatusFound, first.Status)

	file, ok := manager.GetFlatFile(context.Background(), queue)
	require.True(t, ok)
	before := file.Policy().Factor(256)

	second := recv(t, coord.GetMessageAsync(context.Background(), "g1", queue, first.NextBeginOffset, 10, nil))
	require.Equal(t, types.StatusFound, second.Status)
	require.EqualValues(t, first.NextBeginOffset, second.Messages[0].Offset)

	require.Eventually(t, func() bool {
		return file.Policy().Factor(256) > before
	}, time.Second, 5*time.Millisecond, "read-ahead factor should increase after a warm hit that served a prefetched window")
}

func TestGetMessageCoalescesConcurrentGroups(t *testing.T) {
	backend, queue := seed(t, 200)
	coord, manager, cleanup := newCoordinator(t, backend, 3, time.Minute)
	defer cleanup()

	file, ok := manager.GetFlatFile(context.Background(), queue)
	require.True(t, ok)
	file.RecordGroupAccess("g1", -1)
	file.RecordGroupAccess("g2", -1)

	var wg sync.WaitGroup
	results := make([]*types.GetMessageResult, 2)
	groups := []string{"g1", "g2"}
	for i := range groups {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = recv(t, coord.GetMessageAsync(context.Background(), groups[i], queue, 100, 10, nil))
		}()
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, types.StatusFound, r.Status)
		require.Len(t, r.Messages, 10)
		require.EqualValues(t, 100, r.Messages[0].Offset)
	}
	require.Equal(t, results[0].Messages[0].Body, results[1].Messages[0].Body)
}

func TestGetMessageOffsetBoundaries(t *testing.T) {
	backend, queue := seed(t, 50)
	coord, _, cleanup := newCoordinator(t, backend, 1, time.Minute)
	defer cleanup()

	tooSmall := recv(t, coord.GetMessageAsync(context.Background(), "g1", queue, -5, 5, nil))
	require.Equal(t, types.StatusOffsetTooSmall, tooSmall.Status)
	require.EqualValues(t, 0, tooSmall.NextBeginOffset)

	atTip := recv(t, coord.GetMessageAsync(context.Background(), "g1", queue, 50, 5, nil))
	require.Equal(t, types.StatusOffsetOverflowOne, atTip.Status)
	require.EqualValues(t, 50, atTip.NextBeginOffset)

	beyond := recv(t, coord.GetMessageAsync(context.Background(), "g1", queue, 51, 5, nil))
	require.Equal(t, types.StatusOffsetOverflowBadly, beyond.Status)

	missing := recv(t, coord.GetMessageAsync(context.Background(), "g1", types.MessageQueue{Topic: "nope"}, 0, 5, nil))
	require.Equal(t, types.StatusNoMatchedLogicQueue, missing.Status)
}

func TestGetMessageRepeatRequestAfterCacheExpiryIsIdempotent(t *testing.T) {
	backend, queue := seed(t, 50)
	coord, _, cleanup := newCoordinator(t, backend, 1, time.Millisecond)
	defer cleanup()

	first := recv(t, coord.GetMessageAsync(context.Background(), "g1", queue, 0, 5, nil))
	require.Equal(t, types.StatusFound, first.Status)

	time.Sleep(20 * time.Millisecond)

	second := recv(t, coord.GetMessageAsync(context.Background(), "g1", queue, 0, 5, nil))
	require.Equal(t, types.StatusFound, second.Status)
	require.Len(t, second.Messages, len(first.Messages))
	for i := range first.Messages {
		require.Equal(t, first.Messages[i].Body, second.Messages[i].Body)
	}
}

func TestGetEarliestMessageTimeAsync(t *testing.T) {
	backend, queue := seed(t, 10)
	coord, _, cleanup := newCoordinator(t, backend, 1, time.Minute)
	defer cleanup()

	ts := <-coord.GetEarliestMessageTimeAsync(context.Background(), queue)
	require.EqualValues(t, 0, ts)
}

func TestGetEarliestMessageTimeAsyncUnknownQueue(t *testing.T) {
	backend := memory.NewBackend()
	coord, _, cleanup := newCoordinator(t, backend, 1, time.Minute)
	defer cleanup()

	ts := <-coord.GetEarliestMessageTimeAsync(context.Background(), types.MessageQueue{Topic: "missing"})
	require.EqualValues(t, -1, ts)
}

func TestGetMessageStoreTimeStampAsync(t *testing.T) {
	backend, queue := seed(t, 10)
	coord, _, cleanup := newCoordinator(t, backend, 1, time.Minute)
	defer cleanup()

	ts := <-coord.GetMessageStoreTimeStampAsync(context.Background(), queue, 7)
	require.EqualValues(t, 7, ts)
}

func TestGetMessageStoreTimeStampAsyncBeyondTipIsFailure(t *testing.T) {
	backend, queue := seed(t, 10)
	coord, _, cleanup := newCoordinator(t, backend, 1, time.Minute)
	defer cleanup()

	ts := <-coord.GetMessageStoreTimeStampAsync(context.Background(), queue, 50)
	require.EqualValues(t, -1, ts)
}

func TestGetOffsetInQueueByTime(t *testing.T) {
	backend, queue := seed(t, 10)
	coord, _, cleanup := newCoordinator(t, backend, 1, time.Minute)
	defer cleanup()

	offset := coord.GetOffsetInQueueByTime(context.Background(), queue, 5, types.BoundaryLower)
	require.EqualValues(t, 5, offset)
}

func TestGetOffsetInQueueByTimeUnknownQueue(t *testing.T) {
	backend := memory.NewBackend()
	coord, _, cleanup := newCoordinator(t, backend, 1, time.Minute)
	defer cleanup()

	offset := coord.GetOffsetInQueueByTime(context.Background(), types.MessageQueue{Topic: "missing"}, 5, types.BoundaryLower)
	require.EqualValues(t, -1, offset)
}
