// Package indexfile decodes the fixed-width by-key index records IndexQuery
// scans, mirroring the fixed-width consume-queue record parsing in
// internal/backendreader but for the 28-byte index layout.
package indexfile

import (
	"context"
	"encoding/binary"
	"hash/fnv"

	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend"
)

// EntrySize is the fixed width of one index record:
// hash:4, topicId:4, queueId:4, commitLogOffset:8, size:4, timeDiff:4.
const EntrySize = 28

// Entry is one decoded index record.
type Entry struct {
	Hash            uint32
	TopicID         int32
	QueueID         int32
	CommitLogOffset int64
	Size            int32
	TimeDiff        int32
}

// Segment pairs a file's begin timestamp with its decoded entries.
type Segment struct {
	FileBeginTimestamp int64
	Entries            []Entry
}

// IndexFile reads index segments from a tieredbackend.Backend.
type IndexFile struct {
	backend tieredbackend.Backend
}

// New returns an IndexFile reading from backend.
func New(backend tieredbackend.Backend) *IndexFile {
	return &IndexFile{backend: backend}
}

// QueryAsync returns every decoded segment overlapping [beginTime, endTime]
// for topic. Malformed buffers (length not a multiple of EntrySize) are
// skipped rather than failing the whole query, per spec.
func (f *IndexFile) QueryAsync(ctx context.Context, topic string, beginTime, endTime int64) <-chan []Segment {
	out := make(chan []Segment, 1)
	go func() {
		raw, err := f.backend.FetchIndexSegments(ctx, topic, beginTime, endTime)
		if err != nil {
			out <- nil
			return
		}
		segments := make([]Segment, 0, len(raw))
		for _, r := range raw {
			if len(r.Buffer)%EntrySize != 0 {
				continue
			}
			segments = append(segments, Segment{
				FileBeginTimestamp: r.FileBeginTimestamp,
				Entries:            parseEntries(r.Buffer),
			})
		}
		out <- segments
	}()
	return out
}

func parseEntries(buf []byte) []Entry {
	n := len(buf) / EntrySize
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		rec := buf[i*EntrySize : (i+1)*EntrySize]
		entries[i] = Entry{
			Hash:            binary.BigEndian.Uint32(rec[0:4]),
			TopicID:         int32(binary.BigEndian.Uint32(rec[4:8])),
			QueueID:         int32(binary.BigEndian.Uint32(rec[8:12])),
			CommitLogOffset: int64(binary.BigEndian.Uint64(rec[12:20])),
			Size:            int32(binary.BigEndian.Uint32(rec[20:24])),
			TimeDiff:        int32(binary.BigEndian.Uint32(rec[24:28])),
		}
	}
	return entries
}

// IndexKeyHash hashes a composite key the same way on write and read paths.
func IndexKeyHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// BuildKey builds the composite key hashed for a (topic, key) pair.
func BuildKey(topic, key string) string {
	return topic + "#" + key
}

// EncodeEntry renders one Entry in the fixed 28-byte wire layout, for tests
// and for any writer-side code seeding index segments.
func EncodeEntry(e Entry) []byte {
	buf := make([]byte, EntrySize)
	binary.BigEndian.PutUint32(buf[0:4], e.Hash)
	binary.BigEndian.PutUint32(buf[4:8], uint32(e.TopicID))
	binary.BigEndian.PutUint32(buf[8:12], uint32(e.QueueID))
	binary.BigEndian.PutUint64(buf[12:20], uint64(e.CommitLogOffset))
	binary.BigEndian.PutUint32(buf[20:24], uint32(e.Size))
	binary.BigEndian.PutUint32(buf[24:28], uint32(e.TimeDiff))
	return buf
}
