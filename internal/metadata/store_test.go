package metadata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreGetTopicCachesLoaderResult(t *testing.T) {
	var calls int32
	s := New(func(_ context.Context, topic string) (*TopicMetadata, error) {
		atomic.AddInt32(&calls, 1)
		return &TopicMetadata{TopicID: 7}, nil
	})

	m, ok := s.GetTopic(context.Background(), "orders")
	require.True(t, ok)
	require.EqualValues(t, 7, m.TopicID)

	_, ok = s.GetTopic(context.Background(), "orders")
	require.True(t, ok)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestStoreGetTopicMissingIsNotFatal(t *testing.T) {
	s := New(func(context.Context, string) (*TopicMetadata, error) {
		return nil, errors.New("not found")
	})

	_, ok := s.GetTopic(context.Background(), "missing")
	require.False(t, ok)
}

func TestStoreGetTopicLoaderNilNilIsMissing(t *testing.T) {
	s := New(func(context.Context, string) (*TopicMetadata, error) {
		return nil, nil
	})

	m, ok := s.GetTopic(context.Background(), "missing")
	require.False(t, ok)
	require.Nil(t, m)
}

func TestStoreGetTopicCoalescesConcurrentLoads(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	s := New(func(context.Context, string) (*TopicMetadata, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return &TopicMetadata{TopicID: 1}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := s.GetTopic(context.Background(), "orders")
			require.True(t, ok)
		}()
	}

	<-started
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestStorePutAndInvalidate(t *testing.T) {
	s := New(func(context.Context, string) (*TopicMetadata, error) {
		return nil, errors.New("should not be called")
	})
	s.Put("orders", &TopicMetadata{TopicID: 3})

	m, ok := s.GetTopic(context.Background(), "orders")
	require.True(t, ok)
	require.EqualValues(t, 3, m.TopicID)

	s.Invalidate("orders")
	_, ok = s.GetTopic(context.Background(), "orders")
	require.False(t, ok)
}
