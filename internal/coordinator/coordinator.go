// Package coordinator implements FetchCoordinator, the top-level entry
// point for streaming pull requests: it validates the requested offset
// against queue bounds, attempts cache satisfaction, awaits an in-flight
// prefetch on a cold cache, falls back to a synchronous fetch-and-cache on
// a full miss, and triggers prefetch for the next window - the shape of the
// teacher's concurrentFetchers façade (PollFetches plus its buffering loop)
// generalised to the request/response cycle of GetMessageResult.
package coordinator

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tieredfetch/tieredfetcher/internal/backendreader"
	"github.com/tieredfetch/tieredfetcher/internal/cache"
	"github.com/tieredfetch/tieredfetcher/internal/flatfile"
	"github.com/tieredfetch/tieredfetcher/internal/inflight"
	"github.com/tieredfetch/tieredfetcher/internal/metrics"
	"github.com/tieredfetch/tieredfetcher/internal/prefetch"
	"github.com/tieredfetch/tieredfetcher/internal/types"
	"github.com/tieredfetch/tieredfetcher/internal/workerpool"
)

// Config carries the coordinator's own tunables.
type Config struct {
	// MinFactor is readAheadMinFactor: the batch multiplier used on
	// synchronous full-miss fetches.
	MinFactor int
}

// Coordinator is the FetchCoordinator.
type Coordinator struct {
	manager  *flatfile.Manager
	store    *cache.Store
	reader   *backendreader.Reader
	prefetch *prefetch.Engine
	pool     *workerpool.Pool
	cfg      Config
	metrics  *metrics.Metrics
	logger   log.Logger
}

// New returns a Coordinator.
func New(manager *flatfile.Manager, store *cache.Store, reader *backendreader.Reader, pf *prefetch.Engine, pool *workerpool.Pool, cfg Config, m *metrics.Metrics, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Coordinator{manager: manager, store: store, reader: reader, prefetch: pf, pool: pool, cfg: cfg, metrics: m, logger: logger}
}

// GetMessageAsync is the public streaming pull operation. filter is accepted
// for parity with spec.md's signature but never evaluated here: filter
// evaluation is an explicit Non-goal of the core read path.
func (c *Coordinator) GetMessageAsync(ctx context.Context, group string, queue types.MessageQueue, queueOffset int64, maxCount int, filter types.Filter) <-chan *types.GetMessageResult {
	out := make(chan *types.GetMessageResult, 1)
	c.pool.Submit(ctx, func() {
		out <- c.getMessage(ctx, group, queue, queueOffset, maxCount, filter, true)
	})
	return out
}

func (c *Coordinator) getMessage(ctx context.Context, group string, queue types.MessageQueue, queueOffset int64, maxCount int, filter types.Filter, waitInflight bool) *types.GetMessageResult {
	file, ok := c.manager.GetFlatFile(ctx, queue)
	if !ok {
		return &types.GetMessageResult{Status: types.StatusNoMatchedLogicQueue, NextBeginOffset: queueOffset}
	}

	minOffset, commitOffset, _, _ := file.Bounds(ctx)
	if status, next, proceed := validateBounds(queueOffset, minOffset, commitOffset); !proceed {
		return &types.GetMessageResult{Status: status, MinOffset: minOffset, MaxOffset: commitOffset, NextBeginOffset: next}
	}

	hits := c.probeCache(file, queueOffset, maxCount)
	if c.metrics != nil {
		c.metrics.RecordCacheAccess(maxCount, len(hits))
	}

	if len(hits) == 0 && waitInflight {
		if future := file.Registry().GetInflightRequest(group, queueOffset, maxCount); future != nil {
			offsetFuture := future.FutureFor(queueOffset)
			if !offsetFuture.IsDone() {
				c.metrics.RecordInflightCoalesced()
				select {
				case <-offsetFuture.Done():
				case <-ctx.Done():
					return &types.GetMessageResult{Status: types.StatusOffsetFoundNull, MinOffset: minOffset, MaxOffset: commitOffset, NextBeginOffset: queueOffset}
				}
				// Starvation guard: a request may await at most one
				// in-flight fetch cycle before issuing its own.
				return c.getMessage(ctx, group, queue, queueOffset, maxCount, filter, false)
			}
		}
		hits = c.probeCache(file, queueOffset, maxCount)
	}

	if len(hits) > 0 {
		nextBeginOffset := queueOffset + int64(len(hits))
		// RecordGroupAccess before reading ActiveGroupCount: a group's own
		// first access to this file must count toward the threshold its
		// own hit is compared against, or it trips eviction one access early.
		file.RecordGroupAccess(group, nextBeginOffset-1)
		activeGroups := file.ActiveGroupCount()
		for _, w := range hits {
			if w.IncrementAccess() >= activeGroups {
				c.store.Invalidate(cache.Key{FileID: file.Identity(), Offset: w.CurOffset})
				c.metrics.RecordCacheEvicted()
			}
		}

		result := &types.GetMessageResult{
			Status:          types.StatusFound,
			MinOffset:       minOffset,
			MaxOffset:       commitOffset,
			NextBeginOffset: nextBeginOffset,
			Messages:        toMessages(hits),
		}
		c.prefetch.Trigger(ctx, file, group, maxCount, nextBeginOffset)
		return result
	}

	return c.fullMiss(ctx, file, group, queue, queueOffset, maxCount, minOffset, commitOffset)
}

func (c *Coordinator) fullMiss(ctx context.Context, file *flatfile.File, group string, queue types.MessageQueue, queueOffset int64, maxCount int, minOffset, commitOffset int64) *types.GetMessageResult {
	batchSize := maxCount * c.cfg.MinFactor
	future := inflight.NewOffsetFuture()

	file.Lock()
	file.Registry().PutInflightRequest(group, queueOffset, batchSize, []inflight.Batch{{StartOffset: queueOffset, Count: batchSize, Future: future}})
	file.Unlock()
	c.metrics.InflightActiveInc()
	defer c.metrics.InflightActiveDec()

	// The fetch is detached from ctx: a caller abandoning its request does
	// not cancel it, so the installed future still resolves and the cache
	// is still populated for later callers.
	result := c.reader.FetchRange(context.WithoutCancel(ctx), queue, queueOffset, batchSize)
	result.MinOffset = minOffset
	result.MaxOffset = commitOffset

	if result.Status != types.StatusFound || len(result.Messages) == 0 {
		future.Resolve(-1)
		return result
	}

	for _, m := range result.Messages {
		w := types.NewWrapper(m.Body, m.Offset, result.Messages[0].Offset, result.Messages[len(result.Messages)-1].Offset, len(result.Messages), true)
		c.store.Put(cache.Key{FileID: file.Identity(), Offset: m.Offset}, w)
	}
	future.Resolve(result.Messages[len(result.Messages)-1].Offset)

	if len(result.Messages) > maxCount {
		result.Messages = result.Messages[:maxCount]
	}
	result.NextBeginOffset = queueOffset + int64(len(result.Messages))
	file.RecordGroupAccess(group, result.NextBeginOffset-1)

	level.Debug(c.logger).Log("msg", "served full miss", "queue", queue, "offset", queueOffset, "returned", len(result.Messages))
	return result
}

// GetEarliestMessageTimeAsync reads the message at the flat-file's minimum
// commit-log offset and returns its store timestamp, or -1 if the queue is
// unknown or the read fails.
func (c *Coordinator) GetEarliestMessageTimeAsync(ctx context.Context, queue types.MessageQueue) <-chan int64 {
	out := make(chan int64, 1)
	go func() {
		file, ok := c.manager.GetFlatFile(ctx, queue)
		if !ok {
			out <- -1
			return
		}
		_, _, commitLogMinOffset, _ := file.Bounds(ctx)
		buf, err := file.Backend().FetchCommitLog(ctx, queue, commitLogMinOffset, types.StoreTimestampSize)
		if err != nil {
			out <- -1
			return
		}
		ts, ok := types.DecodeStoreTimestamp(buf)
		if !ok {
			out <- -1
			return
		}
		out <- ts
	}()
	return out
}

// GetMessageStoreTimeStampAsync fetches the single consume-queue entry at
// queueOffset, follows it into the commit log, and decodes that message's
// store timestamp. It returns -1 on any failure, per spec.md §6.
func (c *Coordinator) GetMessageStoreTimeStampAsync(ctx context.Context, queue types.MessageQueue, queueOffset int64) <-chan int64 {
	out := make(chan int64, 1)
	go func() {
		out <- c.readStoreTimestamp(ctx, queue, queueOffset)
	}()
	return out
}

func (c *Coordinator) readStoreTimestamp(ctx context.Context, queue types.MessageQueue, queueOffset int64) int64 {
	result := c.reader.FetchRange(ctx, queue, queueOffset, 1)
	if result.Status != types.StatusFound || len(result.Messages) == 0 {
		return -1
	}
	ts, ok := types.DecodeStoreTimestamp(result.Messages[0].Body)
	if !ok {
		return -1
	}
	return ts
}

// GetOffsetInQueueByTime delegates to the flat-file's own offset-by-time
// resolution, returning -1 if the queue is unknown.
func (c *Coordinator) GetOffsetInQueueByTime(ctx context.Context, queue types.MessageQueue, timestamp int64, boundary types.OffsetBoundary) int64 {
	file, ok := c.manager.GetFlatFile(ctx, queue)
	if !ok {
		return -1
	}
	return file.OffsetByTime(ctx, timestamp, boundary)
}

func (c *Coordinator) probeCache(file *flatfile.File, start int64, maxCount int) []*types.Wrapper {
	hits := make([]*types.Wrapper, 0, maxCount)
	for i := 0; i < maxCount; i++ {
		w, ok := c.store.GetIfPresent(cache.Key{FileID: file.Identity(), Offset: start + int64(i)})
		if !ok {
			break
		}
		hits = append(hits, w)
	}
	return hits
}

func toMessages(wrappers []*types.Wrapper) []*types.MessageExt {
	msgs := make([]*types.MessageExt, len(wrappers))
	for i, w := range wrappers {
		msgs[i] = &types.MessageExt{Body: w.Body, Offset: w.CurOffset}
	}
	return msgs
}

// validateBounds implements the §4.6 pre-validation table. It is
// synchronous and total: every input maps to a status, never an error.
func validateBounds(queueOffset, minOffset, commitOffset int64) (status types.Status, nextBeginOffset int64, proceed bool) {
	if commitOffset <= 0 {
		return types.StatusNoMessageInQueue, queueOffset, false
	}
	if queueOffset < minOffset {
		return types.StatusOffsetTooSmall, minOffset, false
	}
	if queueOffset == commitOffset {
		return types.StatusOffsetOverflowOne, commitOffset, false
	}
	if queueOffset > commitOffset {
		return types.StatusOffsetOverflowBadly, commitOffset, false
	}
	return types.StatusFound, 0, true
}
