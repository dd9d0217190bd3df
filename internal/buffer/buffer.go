// Package buffer implements the bounded, time-windowed, keyed Event
// Buffer: shard-indexed ring buffers keyed by (source, event_id), where
// eviction is O(1) amortized by keeping per-shard oldest-first lists.
package buffer

import (
	"container/list"
	"sync"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
)

// shard holds the events for one buffer key, oldest-first.
type shard struct {
	mu     sync.Mutex
	events []eventmodel.Event
}

// Buffer is a sharded, time-windowed ring of recent events. All exported
// methods are safe for concurrent use.
type Buffer struct {
	retention time.Duration
	limit     int

	mu         sync.Mutex // protects shards, keyOrder, elemByKey, totalCount
	shards     map[string]*shard
	keyOrder   *list.List // front = least-recently-touched key, back = most-recently
	elemByKey  map[string]*list.Element
	totalCount int
}

// New creates a Buffer bounded to limit total events (memoryBufferSizeLimit)
// with events older than retention evicted on insert.
func New(limit int, retention time.Duration) *Buffer {
	return &Buffer{
		retention: retention,
		limit:     limit,
		shards:    make(map[string]*shard),
		keyOrder:  list.New(),
		elemByKey: make(map[string]*list.Element),
	}
}

// Insert appends e to its buffer-key shard, evicts events older than the
// retention window from that shard, then evicts whole oldest-touched shards
// until the buffer is back within its global size limit.
func (b *Buffer) Insert(e eventmodel.Event) {
	key := e.BufferKey()
	now := e.IngestedAt
	if now.IsZero() {
		now = time.Now()
	}

	b.mu.Lock()
	s, ok := b.shards[key]
	if !ok {
		s = &shard{}
		b.shards[key] = s
		b.elemByKey[key] = b.keyOrder.PushBack(key)
	} else {
		b.keyOrder.MoveToBack(b.elemByKey[key])
	}
	b.mu.Unlock()

	s.mu.Lock()
	s.events = append(s.events, e)
	before := len(s.events)
	s.events = evictOlderThan(s.events, now.Add(-b.retention))
	removed := before - len(s.events)
	s.mu.Unlock()

	b.mu.Lock()
	b.totalCount += 1 - removed
	for b.totalCount > b.limit && b.keyOrder.Len() > 0 {
		front := b.keyOrder.Front()
		oldestKey := front.Value.(string)
		if oldestKey == key {
			// Don't evict the shard we just inserted into if it's the only one.
			if b.keyOrder.Len() == 1 {
				break
			}
		}
		evicted := b.shards[oldestKey]
		b.keyOrder.Remove(front)
		delete(b.elemByKey, oldestKey)
		delete(b.shards, oldestKey)
		evicted.mu.Lock()
		b.totalCount -= len(evicted.events)
		evicted.mu.Unlock()
	}
	b.mu.Unlock()
}

// evictOlderThan drops events with Timestamp before cutoff from the front of
// an oldest-first slice.
func evictOlderThan(events []eventmodel.Event, cutoff time.Time) []eventmodel.Event {
	i := 0
	for i < len(events) && events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	out := make([]eventmodel.Event, len(events)-i)
	copy(out, events[i:])
	return out
}

// Window returns the events for a buffer key within [now-window, now],
// oldest first. Used by the Rule Evaluator's aggregation scans and the
// Pattern Matcher.
func (b *Buffer) Window(source, eventID string, now time.Time, window time.Duration) []eventmodel.Event {
	key := string(source) + "\x00" + eventID
	b.mu.Lock()
	s, ok := b.shards[key]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	cutoff := now.Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventmodel.Event
	for _, e := range s.events {
		if !e.Timestamp.Before(cutoff) && !e.Timestamp.After(now) {
			out = append(out, e)
		}
	}
	return out
}

// All returns a snapshot of every event currently buffered for key (source,eventID).
func (b *Buffer) All(source, eventID string) []eventmodel.Event {
	key := string(source) + "\x00" + eventID
	b.mu.Lock()
	s, ok := b.shards[key]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eventmodel.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Keys returns a snapshot of every buffer key currently tracked. Used by the
// Pattern Matcher to discover which (source,event_id) shards are in scope.
func (b *Buffer) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.shards))
	for k := range b.shards {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the total number of buffered events across all shards.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalCount
}
