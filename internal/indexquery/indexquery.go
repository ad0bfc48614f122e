// Package indexquery implements IndexQuery: the secondary by-key lookup
// entry point. Unlike FetchCoordinator it never touches the cache - every
// match is read straight off the backend, and the whole operation degrades
// to an empty result on any failure rather than surfacing an error, exactly
// as spec.md §4.7 requires.
package indexquery

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tieredfetch/tieredfetcher/internal/flatfile"
	"github.com/tieredfetch/tieredfetcher/internal/indexfile"
	"github.com/tieredfetch/tieredfetcher/internal/metadata"
	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend"
	"github.com/tieredfetch/tieredfetcher/internal/types"
)

// IndexQuery resolves by-key lookups against the backend's index segments.
type IndexQuery struct {
	index    *indexfile.IndexFile
	metadata *metadata.Store
	manager  *flatfile.Manager
	backend  tieredbackend.Backend
	logger   log.Logger
}

// New returns an IndexQuery.
func New(index *indexfile.IndexFile, meta *metadata.Store, manager *flatfile.Manager, backend tieredbackend.Backend, logger log.Logger) *IndexQuery {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &IndexQuery{index: index, metadata: meta, manager: manager, backend: backend, logger: logger}
}

// QueryMessageAsync runs the §4.7 algorithm for (topic, key) over
// [beginTime, endTime], stopping after maxCount successful matches.
func (q *IndexQuery) QueryMessageAsync(ctx context.Context, topic, key string, maxCount int, beginTime, endTime int64) <-chan *types.QueryMessageResult {
	out := make(chan *types.QueryMessageResult, 1)
	go func() {
		out <- q.query(ctx, topic, key, maxCount, beginTime, endTime)
	}()
	return out
}

func (q *IndexQuery) query(ctx context.Context, topic, key string, maxCount int, beginTime, endTime int64) *types.QueryMessageResult {
	empty := &types.QueryMessageResult{Messages: []*types.MessageExt{}}

	meta, ok := q.metadata.GetTopic(ctx, topic)
	if !ok {
		level.Warn(q.logger).Log("msg", "index query missing topic metadata", "topic", topic)
		return empty
	}
	hash := indexfile.IndexKeyHash(indexfile.BuildKey(topic, key))

	segments := <-q.index.QueryAsync(ctx, topic, beginTime, endTime)
	if len(segments) == 0 {
		return empty
	}

	type match struct {
		queue           types.MessageQueue
		commitLogOffset int64
		size            int32
	}
	var matches []match
	for _, seg := range segments {
		for _, e := range seg.Entries {
			if len(matches) >= maxCount {
				break
			}
			if e.Hash != hash || e.TopicID != meta.TopicID {
				continue
			}
			ts := seg.FileBeginTimestamp + int64(e.TimeDiff)
			if ts < beginTime || ts > endTime {
				continue
			}
			queue := types.MessageQueue{Topic: topic, QueueID: e.QueueID}
			if _, ok := q.manager.GetFlatFile(ctx, queue); !ok {
				continue
			}
			matches = append(matches, match{queue: queue, commitLogOffset: e.CommitLogOffset, size: e.Size})
		}
		if len(matches) >= maxCount {
			break
		}
	}
	if len(matches) == 0 {
		return empty
	}

	results := make([]*types.MessageExt, len(matches))
	var wg sync.WaitGroup
	for i, m := range matches {
		i, m := i, m
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := q.backend.FetchCommitLog(ctx, m.queue, m.commitLogOffset, int64(m.size))
			if err != nil {
				level.Warn(q.logger).Log("msg", "index query commit-log fetch failed", "topic", topic, "err", err)
				return
			}
			results[i] = &types.MessageExt{Body: body, Offset: m.commitLogOffset}
		}()
	}
	wg.Wait()

	messages := make([]*types.MessageExt, 0, len(results))
	for _, m := range results {
		if m != nil {
			messages = append(messages, m)
		}
	}
	return &types.QueryMessageResult{Messages: messages}
}
