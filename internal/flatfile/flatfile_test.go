package flatfile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredfetch/tieredfetcher/internal/tieredbackend/memory"
	"github.com/tieredfetch/tieredfetcher/internal/types"
)

func TestManagerGetFlatFileIsIdempotent(t *testing.T) {
	backend := memory.NewBackend()
	queue := types.MessageQueue{Topic: "t", QueueID: 0}
	backend.Seed(queue, 0, []memory.Message{{Body: []byte("a")}})

	m := NewManager(backend, 2)
	f1, ok := m.GetFlatFile(context.Background(), queue)
	require.True(t, ok)
	f2, ok := m.GetFlatFile(context.Background(), queue)
	require.True(t, ok)
	require.Same(t, f1, f2)
	require.Equal(t, f1.Identity(), f2.Identity())
}

func TestManagerGetFlatFileUnknownQueue(t *testing.T) {
	m := NewManager(memory.NewBackend(), 2)
	_, ok := m.GetFlatFile(context.Background(), types.MessageQueue{Topic: "missing"})
	require.False(t, ok)
}

func TestManagerDropRemovesHandle(t *testing.T) {
	backend := memory.NewBackend()
	queue := types.MessageQueue{Topic: "t", QueueID: 0}
	backend.Seed(queue, 0, []memory.Message{{Body: []byte("a")}})

	m := NewManager(backend, 2)
	f1, _ := m.GetFlatFile(context.Background(), queue)
	m.Drop(queue)
	f2, ok := m.GetFlatFile(context.Background(), queue)
	require.True(t, ok)
	require.NotSame(t, f1, f2)
}

func TestFileRecordGroupAccessOnlyMovesForward(t *testing.T) {
	backend := memory.NewBackend()
	queue := types.MessageQueue{Topic: "t", QueueID: 0}
	backend.Seed(queue, 0, []memory.Message{{Body: []byte("a")}})

	m := NewManager(backend, 1)
	f, _ := m.GetFlatFile(context.Background(), queue)

	f.RecordGroupAccess("g1", 10)
	f.RecordGroupAccess("g1", 5)
	require.EqualValues(t, 10, f.LastServedOffset("g1"))

	f.RecordGroupAccess("g1", 20)
	require.EqualValues(t, 20, f.LastServedOffset("g1"))
}

func TestFileActiveGroupCount(t *testing.T) {
	backend := memory.NewBackend()
	queue := types.MessageQueue{Topic: "t", QueueID: 0}
	backend.Seed(queue, 0, []memory.Message{{Body: []byte("a")}})

	m := NewManager(backend, 1)
	f, _ := m.GetFlatFile(context.Background(), queue)
	require.EqualValues(t, 1, f.ActiveGroupCount())

	f.RecordGroupAccess("g1", 1)
	f.RecordGroupAccess("g2", 1)
	require.EqualValues(t, 2, f.ActiveGroupCount())
}
