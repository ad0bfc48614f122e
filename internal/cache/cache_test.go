package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tieredfetch/tieredfetcher/internal/types"
)

func TestStorePutGetInvalidate(t *testing.T) {
	store, err := NewStore(Config{MaxWeightBytes: 1 << 20, ExpireAfterWrite: time.Minute})
	require.NoError(t, err)
	defer store.Close()

	key := Key{FileID: 1, Offset: 42}
	_, ok := store.GetIfPresent(key)
	require.False(t, ok)

	w := types.NewWrapper([]byte("hello"), 42, 40, 50, 11, false)
	store.Put(key, w)
	store.Wait()

	got, ok := store.GetIfPresent(key)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got.Body)

	store.Invalidate(key)
	store.Wait()
	_, ok = store.GetIfPresent(key)
	require.False(t, ok)
}

func TestStoreDistinguishesOffsetsAndFiles(t *testing.T) {
	store, err := NewStore(Config{MaxWeightBytes: 1 << 20, ExpireAfterWrite: time.Minute})
	require.NoError(t, err)
	defer store.Close()

	store.Put(Key{FileID: 1, Offset: 1}, types.NewWrapper([]byte("a"), 1, 1, 1, 1, false))
	store.Put(Key{FileID: 1, Offset: 2}, types.NewWrapper([]byte("b"), 2, 2, 2, 1, false))
	store.Put(Key{FileID: 2, Offset: 1}, types.NewWrapper([]byte("c"), 1, 1, 1, 1, false))
	store.Wait()

	a, ok := store.GetIfPresent(Key{FileID: 1, Offset: 1})
	require.True(t, ok)
	require.Equal(t, []byte("a"), a.Body)

	c, ok := store.GetIfPresent(Key{FileID: 2, Offset: 1})
	require.True(t, ok)
	require.Equal(t, []byte("c"), c.Body)
}

func TestWrapperAccessCountSharedByReference(t *testing.T) {
	w := types.NewWrapper([]byte("x"), 1, 1, 1, 1, true)
	require.EqualValues(t, 1, w.AccessCount())
	require.EqualValues(t, 2, w.IncrementAccess())
	require.EqualValues(t, 2, w.AccessCount())
}
