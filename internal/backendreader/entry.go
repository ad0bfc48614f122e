package backendreader

import "encoding/binary"

// consumeQueueEntry is one parsed, fixed-width consume-queue record:
// commitLogOffset(8) + size(4) + tagHash(8) = types.ConsumeQueueStoreUnitSize
// bytes.
type consumeQueueEntry struct {
	commitLogOffset int64
	size            int32
	tagHash         uint64
}

func parseConsumeQueueEntries(buf []byte, unitSize int) []consumeQueueEntry {
	n := len(buf) / unitSize
	entries := make([]consumeQueueEntry, n)
	for i := 0; i < n; i++ {
		off := i * unitSize
		entries[i] = consumeQueueEntry{
			commitLogOffset: int64(binary.BigEndian.Uint64(buf[off : off+8])),
			size:            int32(binary.BigEndian.Uint32(buf[off+8 : off+12])),
			tagHash:         binary.BigEndian.Uint64(buf[off+12 : off+20]),
		}
	}
	return entries
}
