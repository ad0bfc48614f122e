// Package backendreader implements BackendReader: the single operation that
// pulls a consume-queue slice and the corresponding commit-log slice from
// the tiered backend and splits them into individual messages. It is
// grounded on the teacher's fetchSingle/parseFetchResponse pair in
// pkg/storage/ingest/fetcher.go - request, validate, slice - generalised
// from Kafka's wire format to the fixed-width consume-queue/commit-log
// layout this spec defines.
package backendreader

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tieredfetch/tieredfetcher/internal/metrics"
	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend"
	"github.com/tieredfetch/tieredfetcher/internal/types"
)

// Reader is the BackendReader.
type Reader struct {
	backend       tieredbackend.Backend
	sizeThreshold int64
	metrics       *metrics.Metrics
	logger        log.Logger
}

// New returns a Reader pulling from backend. sizeThreshold is
// readAheadMessageSizeThreshold: the hard cap, in commit-log bytes, on a
// single fetch. m may be nil.
func New(backend tieredbackend.Backend, sizeThreshold int64, m *metrics.Metrics, logger log.Logger) *Reader {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Reader{backend: backend, sizeThreshold: sizeThreshold, metrics: m, logger: logger}
}

// FetchRange implements the §4.4 algorithm. It never returns a Go error:
// every backend failure is mapped to a GetMessageResult status, per spec.md
// §7's "backend errors never propagate out of the core".
func (r *Reader) FetchRange(ctx context.Context, queue types.MessageQueue, queueOffset int64, batchSize int) *types.GetMessageResult {
	start := time.Now()
	result := r.fetchRange(ctx, queue, queueOffset, batchSize)
	bytes := 0
	for _, m := range result.Messages {
		bytes += len(m.Body)
	}
	r.metrics.RecordBackendFetch("fetchRange", result.Status.String(), time.Since(start).Seconds(), bytes)
	return result
}

func (r *Reader) fetchRange(ctx context.Context, queue types.MessageQueue, queueOffset int64, batchSize int) *types.GetMessageResult {
	cqBuf, err := r.backend.FetchConsumeQueue(ctx, queue, queueOffset, batchSize)
	if err != nil {
		if errors.Is(err, tieredbackend.ErrNoNewData) {
			return &types.GetMessageResult{Status: types.StatusOffsetOverflowOne, NextBeginOffset: queueOffset}
		}
		level.Debug(r.logger).Log("msg", "consume queue fetch failed", "queue", queue, "offset", queueOffset, "err", err)
		return &types.GetMessageResult{Status: types.StatusOffsetFoundNull, NextBeginOffset: queueOffset}
	}

	entries := parseConsumeQueueEntries(cqBuf, types.ConsumeQueueStoreUnitSize)
	if len(entries) == 0 {
		return &types.GetMessageResult{Status: types.StatusOffsetOverflowOne, NextBeginOffset: queueOffset}
	}
	origCount := len(entries)

	first := entries[0].commitLogOffset
	last := entries[len(entries)-1].commitLogOffset
	if last < first {
		level.Warn(r.logger).Log("msg", "consume queue entries out of order", "queue", queue, "offset", queueOffset, "first", first, "last", last)
		return &types.GetMessageResult{Status: types.StatusOffsetFoundNull, NextBeginOffset: queueOffset}
	}

	length := (last - first) + int64(entries[len(entries)-1].size)
	shrunk := 0
	for length > r.sizeThreshold && len(entries) > 1 {
		entries = entries[:len(entries)-1]
		shrunk++
		last = entries[len(entries)-1].commitLogOffset
		length = (last - first) + int64(entries[len(entries)-1].size)
	}
	if shrunk > 0 {
		level.Debug(r.logger).Log("msg", "truncated consume queue buffer to fit size threshold", "queue", queue, "offset", queueOffset, "shrunk_entries", shrunk, "final_length", length)
	}
	truncatedCount := len(entries)

	clBuf, err := r.backend.FetchCommitLog(ctx, queue, first, length)
	if err != nil {
		level.Debug(r.logger).Log("msg", "commit log fetch failed", "queue", queue, "offset", queueOffset, "err", err)
		return &types.GetMessageResult{Status: types.StatusOffsetFoundNull, NextBeginOffset: queueOffset}
	}

	messages := make([]*types.MessageExt, 0, len(entries))
	for i, e := range entries {
		if e.size <= 0 {
			continue
		}
		relStart := e.commitLogOffset - first
		relEnd := relStart + int64(e.size)
		if relEnd > int64(len(clBuf)) {
			level.Warn(r.logger).Log("msg", "commit log entry exceeds fetched range; skipping", "queue", queue, "offset", queueOffset+int64(i))
			continue
		}
		messages = append(messages, &types.MessageExt{
			Body:   clBuf[relStart:relEnd],
			Offset: queueOffset + int64(i),
		})
	}

	if len(messages) == 0 {
		level.Debug(r.logger).Log("msg", "consume queue buffer produced no messages", "queue", queue, "offset", queueOffset, "consume_queue_entries", truncatedCount)
		return &types.GetMessageResult{Status: types.StatusMessageWasRemoving, NextBeginOffset: queueOffset + int64(truncatedCount)}
	}

	if len(messages) != truncatedCount {
		level.Warn(r.logger).Log("msg", "possible data loss: emitted fewer messages than consume queue entries", "queue", queue, "offset", queueOffset, "emitted", len(messages), "consume_queue_entries", truncatedCount)
	}
	if origCount != batchSize {
		level.Debug(r.logger).Log("msg", "backend returned fewer consume queue entries than requested", "queue", queue, "offset", queueOffset, "requested", batchSize, "returned", origCount)
	}

	return &types.GetMessageResult{
		Status: types.StatusFound,
		// queueOffset + truncatedCount, not len(messages): an entry
		// skipped while slicing (size<=0, or a range beyond the fetched
		// commit-log buffer) must still advance the cursor past its queue
		// offset, or the next caller re-requests an offset already
		// covered here. Entries dropped by the size-threshold truncation
		// are not counted, so the next caller fetches them.
		NextBeginOffset: queueOffset + int64(truncatedCount),
		Messages:        messages,
	}
}
