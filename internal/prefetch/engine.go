// Package prefetch implements the PrefetchEngine: given a predicted next
// offset and the current read-ahead policy state, it schedules one or more
// backend fetches fanned out across the shared worker pool and populates
// the cache, adjusting the read-ahead factor based on whether the previous
// prefetch was actually consumed before expiring.
package prefetch

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tieredfetch/tieredfetcher/internal/backendreader"
	"github.com/tieredfetch/tieredfetcher/internal/cache"
	"github.com/tieredfetch/tieredfetcher/internal/flatfile"
	"github.com/tieredfetch/tieredfetcher/internal/inflight"
	"github.com/tieredfetch/tieredfetcher/internal/metrics"
	"github.com/tieredfetch/tieredfetcher/internal/types"
	"github.com/tieredfetch/tieredfetcher/internal/workerpool"
)

// Config carries the tunables PrefetchEngine needs beyond what a File
// already holds.
type Config struct {
	MessageCountThreshold    int
	BatchSizeFactorThreshold int
}

// Engine is the PrefetchEngine.
type Engine struct {
	reader  *backendreader.Reader
	store   *cache.Store
	pool    *workerpool.Pool
	cfg     Config
	metrics *metrics.Metrics
	logger  log.Logger
}

// New returns an Engine issuing fetches through reader, populating store,
// and fanning out work onto pool. m may be nil.
func New(reader *backendreader.Reader, store *cache.Store, pool *workerpool.Pool, cfg Config, m *metrics.Metrics, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{reader: reader, store: store, pool: pool, cfg: cfg, metrics: m, logger: logger}
}

// Trigger runs the §4.5 algorithm for file/group. It never blocks the
// caller on backend I/O: every issued batch runs on the worker pool.
func (e *Engine) Trigger(ctx context.Context, file *flatfile.File, group string, maxCount int, nextBeginOffset int64) {
	if maxCount == 1 {
		return
	}
	policy := file.Policy()
	upperBound := e.cfg.MessageCountThreshold / maxCount
	if upperBound < 1 {
		upperBound = 1
	}
	if policy.Factor(upperBound) == 1 {
		return
	}

	registry := file.Registry()
	wideCount := maxCount * policy.Factor(upperBound)
	if wideCount > e.cfg.MessageCountThreshold {
		wideCount = e.cfg.MessageCountThreshold
	}
	if f := registry.GetInflightRequest(group, nextBeginOffset, wideCount); f != nil && !f.IsAllDone() {
		return
	}

	file.Lock()
	defer file.Unlock()

	if f := registry.GetInflightRequest(group, nextBeginOffset, maxCount); f != nil && !f.IsAllDone() {
		return
	}

	queue := file.Queue()
	queueOffset := nextBeginOffset
	if w, ok := e.store.GetIfPresent(cache.Key{FileID: file.Identity(), Offset: nextBeginOffset}); ok {
		// The window this request is reading into is still warm: the
		// consumer is keeping pace, so reward it with a larger factor,
		// but only if it's still advancing into what we last prefetched.
		if nextBeginOffset >= file.LastPrefetchStart() {
			policy.Increase(upperBound)
		}
		queueOffset = w.MaxOffset + 1
	} else {
		policy.Decrease()
	}

	factor := policy.Factor(upperBound)
	e.metrics.SetReadAheadFactor(queue.Topic, queue.BrokerName, queue.QueueID, factor)
	if factor <= 1 {
		return
	}

	sizes := batchSizes(factor, maxCount, e.cfg.BatchSizeFactorThreshold)
	batches := make([]inflight.Batch, 0, len(sizes))
	offsets := make([]int64, 0, len(sizes))
	offset := queueOffset
	for _, sz := range sizes {
		if sz <= 0 {
			continue
		}
		batches = append(batches, inflight.Batch{StartOffset: offset, Count: sz, Future: inflight.NewOffsetFuture()})
		offsets = append(offsets, offset)
		offset += int64(sz)
	}
	if len(batches) == 0 {
		return
	}

	registry.PutInflightRequest(group, queueOffset, int(offset-queueOffset), batches)
	file.SetLastPrefetchStart(queueOffset)
	e.metrics.RecordPrefetchTriggered()
	for range batches {
		e.metrics.InflightActiveInc()
	}

	// Batches are detached from the caller's ctx: a caller abandoning its
	// request neither drops a queued batch nor cancels its fetch, so every
	// installed future still resolves and the cache is still populated.
	bgCtx := context.WithoutCancel(ctx)
	for i, b := range batches {
		b := b
		startOffset := offsets[i]
		count := b.Count
		e.pool.Submit(bgCtx, func() {
			e.fetchAndCache(bgCtx, queue, file.Identity(), startOffset, count, b.Future)
		})
	}
}

func (e *Engine) fetchAndCache(ctx context.Context, queue types.MessageQueue, fileID uintptr, startOffset int64, count int, future *inflight.OffsetFuture) {
	defer e.metrics.InflightActiveDec()
	result := e.reader.FetchRange(ctx, queue, startOffset, count)
	if result.Status != types.StatusFound || len(result.Messages) == 0 {
		level.Debug(e.logger).Log("msg", "prefetch batch did not produce messages", "queue", queue, "offset", startOffset, "status", result.Status)
		future.Resolve(-1)
		return
	}

	minOffset := result.Messages[0].Offset
	maxOffset := result.Messages[len(result.Messages)-1].Offset
	for _, m := range result.Messages {
		w := types.NewWrapper(m.Body, m.Offset, minOffset, maxOffset, len(result.Messages), false)
		e.store.Put(cache.Key{FileID: fileID, Offset: m.Offset}, w)
	}

	if int64(len(result.Messages)) != int64(count) {
		level.Debug(e.logger).Log("msg", "prefetch batch returned fewer messages than requested", "queue", queue, "offset", startOffset, "requested", count, "returned", len(result.Messages))
	}

	future.Resolve(maxOffset)
}

// batchSizes computes the message-count size of each batch to issue for a
// read-ahead factor of f against a base maxCount, fanning out across
// concurrent batches once f exceeds threshold. Order matches spec.md §4.5
// step 5: when f isn't a multiple of threshold, the remainder-sized batch
// comes first.
func batchSizes(f, maxCount, threshold int) []int {
	if threshold < 1 {
		threshold = 1
	}
	if f <= threshold {
		return []int{f * maxCount}
	}

	var sizes []int
	if remainder := f % threshold; remainder != 0 {
		sizes = append(sizes, remainder*maxCount)
	}
	for full := f / threshold; full > 0; full-- {
		sizes = append(sizes, threshold*maxCount)
	}
	return sizes
}
