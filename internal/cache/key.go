package cache

import (
	"encoding/binary"
	"hash/fnv"
)

// Key is the cache lookup key: a flat-file identity plus a logical queue
// offset. FileID is an opaque, stable per-flat-file identity (the flat-file
// manager hands out the same value for the lifetime of a flat-file handle);
// two keys with the same Offset but different FileID never collide.
type Key struct {
	FileID uintptr
	Offset int64
}

// hash produces the (hash, conflict) pair ristretto uses to place and
// disambiguate entries. We compute both ourselves instead of relying on
// ristretto's default KeyToHash, which only understands a handful of
// built-in scalar/string key types.
func (k Key) hash() (uint64, uint64) {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(k.FileID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(k.Offset))

	h := fnv.New64a()
	h.Write(buf[:])
	sum := h.Sum64()

	conflict := sum ^ (uint64(k.FileID)*31 + uint64(k.Offset))
	return sum, conflict
}

func keyToHash(k interface{}) (uint64, uint64) {
	return k.(Key).hash()
}
