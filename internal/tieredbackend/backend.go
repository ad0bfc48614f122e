package tieredbackend

import (
	"context"

	"github.com/tieredfetch/tieredfetcher/internal/types"
)

// IndexSegment is one raw index-file buffer along with the begin timestamp
// of the file it was read from, as returned by Backend.FetchIndexSegments.
type IndexSegment struct {
	FileBeginTimestamp int64
	Buffer             []byte
}

// Backend is the tiered backing store the core reads from: object storage, a
// remote file system, or any equivalent. It never sees writes - the core
// treats it as read-only.
type Backend interface {
	// FetchConsumeQueue returns up to count fixed-width consume-queue
	// entries (types.ConsumeQueueStoreUnitSize bytes each) for queue,
	// starting at offset. It returns ErrNoNewData if offset is at the tip
	// of the stream, ErrIllegalOffset if offset is past the tip or does
	// not map to a valid position, and ErrIllegalParam for a malformed
	// request.
	FetchConsumeQueue(ctx context.Context, queue types.MessageQueue, offset int64, count int) ([]byte, error)

	// FetchCommitLog returns the raw commit-log byte range
	// [offset, offset+length) for queue.
	FetchCommitLog(ctx context.Context, queue types.MessageQueue, offset, length int64) ([]byte, error)

	// FetchIndexSegments returns every index-file segment whose begin
	// timestamp falls in a window overlapping [beginTime, endTime] for
	// topic.
	FetchIndexSegments(ctx context.Context, topic string, beginTime, endTime int64) ([]IndexSegment, error)

	// QueueBounds returns the minimum offset, commit offset (exclusive
	// upper bound) and minimum commit-log offset known for queue. ok is
	// false if the queue is not known to the backend at all.
	QueueBounds(ctx context.Context, queue types.MessageQueue) (minOffset, commitOffset, commitLogMinOffset int64, ok bool)

	// OffsetByTime resolves a consume-queue offset for queue at or around
	// ts, rounding according to boundary. Returns -1 if it cannot be
	// resolved.
	OffsetByTime(ctx context.Context, queue types.MessageQueue, ts int64, boundary types.OffsetBoundary) int64
}
