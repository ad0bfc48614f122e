// Package metadata implements the in-memory topic-metadata store IndexQuery
// resolves a topicId through. Concurrent lookups for the same uncached topic
// collapse onto one loader call via golang.org/x/sync/singleflight; the
// loaded results are kept in a bounded github.com/hashicorp/golang-lru/v2
// cache rather than an ever-growing map, since a long-lived process may see
// far more distinct topic names over its lifetime than are active at once.
package metadata

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the topic count the cache holds by default.
const DefaultSize = 4096

// TopicMetadata is the subset of topic metadata IndexQuery needs.
type TopicMetadata struct {
	TopicID int32
}

// Loader resolves a topic's metadata from whatever system of record backs
// it (a name server, a config file, a control-plane API).
type Loader func(ctx context.Context, topic string) (*TopicMetadata, error)

// Store is a read-through cache in front of a Loader.
type Store struct {
	load  Loader
	sf    singleflight.Group
	cache *lru.Cache[string, *TopicMetadata]
}

// New returns a Store backed by load, caching up to DefaultSize topics.
func New(load Loader) *Store {
	return NewWithSize(load, DefaultSize)
}

// NewWithSize returns a Store backed by load, caching up to size topics.
func NewWithSize(load Loader, size int) *Store {
	cache, err := lru.New[string, *TopicMetadata](size)
	if err != nil {
		// Only returned by golang-lru for a non-positive size.
		cache, _ = lru.New[string, *TopicMetadata](DefaultSize)
	}
	return &Store{load: load, cache: cache}
}

// GetTopic returns topic's metadata, loading and caching it on first use.
// ok is false if the topic is unknown to the loader or the loader errored -
// both are treated as "missing metadata" per spec, never as a fatal error.
func (s *Store) GetTopic(ctx context.Context, topic string) (*TopicMetadata, bool) {
	if m, ok := s.cache.Get(topic); ok {
		return m, true
	}

	v, err, _ := s.sf.Do(topic, func() (interface{}, error) {
		return s.load(ctx, topic)
	})
	if err != nil || v == nil {
		return nil, false
	}
	m := v.(*TopicMetadata)
	if m == nil {
		// A Loader returning (nil, nil) - the idiomatic "not found, no
		// error" convention - still wraps a typed-nil *TopicMetadata in
		// v's interface{}, so the v == nil check above doesn't catch it.
		return nil, false
	}
	s.cache.Add(topic, m)
	return m, true
}

// Put seeds or overwrites topic's metadata directly, bypassing the loader.
func (s *Store) Put(topic string, m *TopicMetadata) {
	s.cache.Add(topic, m)
}

// Invalidate drops topic from the cache so the next GetTopic reloads it.
func (s *Store) Invalidate(topic string) {
	s.cache.Remove(topic)
}
