// Package types holds the data shapes shared across the tiered fetcher: queue
// identity, message wrappers and the request/response pairs served by the
// fetch coordinator and index query paths.
package types

import "fmt"

// MessageQueue identifies a queue uniquely across the broker fleet. It is
// immutable and comparable, so it can be used directly as a map key.
type MessageQueue struct {
	Topic      string
	BrokerName string
	QueueID    int32
}

func (q MessageQueue) String() string {
	return fmt.Sprintf("%s/%s/%d", q.BrokerName, q.Topic, q.QueueID)
}

const (
	// ConsumeQueueStoreUnitSize is the fixed width, in bytes, of one
	// consume-queue entry: commitLogOffset(8) + size(4) + tagHash(8).
	ConsumeQueueStoreUnitSize = 20

	// IndexEntrySize is the fixed width, in bytes, of one index-file
	// record: hash(4) + topicId(4) + queueId(4) + commitLogOffset(8) +
	// size(4) + timeDiff(4).
	IndexEntrySize = 28
)

// OffsetBoundary selects which side of a timestamp match to resolve an
// offset-by-time lookup to.
type OffsetBoundary int

const (
	BoundaryLower OffsetBoundary = iota
	BoundaryUpper
)
