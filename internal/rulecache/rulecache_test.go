package rulecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutThenGet(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()

	c.Put("rule-1", "syslog", "evt-1", Entry{Matched: true, Confidence: 0.9, At: now})

	entry, ok := c.Get("rule-1", "syslog", "evt-1", now.Add(time.Second))
	require.True(t, ok)
	assert.True(t, entry.Matched)
	assert.Equal(t, 0.9, entry.Confidence)
}

func TestCache_GetMissReturnsFalse(t *testing.T) {
	c := New(time.Minute)
	_, ok := c.Get("absent", "syslog", "evt-1", time.Now())
	assert.False(t, ok)
}

func TestCache_EntryExpiresAfterTTL(t *testing.T) {
	c := New(time.Second)
	now := time.Now()
	c.Put("rule-1", "syslog", "evt-1", Entry{Matched: true, At: now})

	_, ok := c.Get("rule-1", "syslog", "evt-1", now.Add(2*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_DistinctKeysDoNotCollide(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()
	c.Put("rule-1", "syslog", "evt-1", Entry{Matched: true, At: now})
	c.Put("rule-2", "syslog", "evt-1", Entry{Matched: false, At: now})
	c.Put("rule-1", "edr", "evt-1", Entry{Matched: false, At: now})

	e1, _ := c.Get("rule-1", "syslog", "evt-1", now)
	e2, _ := c.Get("rule-2", "syslog", "evt-1", now)
	e3, _ := c.Get("rule-1", "edr", "evt-1", now)

	assert.True(t, e1.Matched)
	assert.False(t, e2.Matched)
	assert.False(t, e3.Matched)
	assert.Equal(t, 3, c.Len())
}

func TestCache_InvalidateClearsAll(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()
	c.Put("rule-1", "syslog", "evt-1", Entry{Matched: true, At: now})
	c.Put("rule-2", "syslog", "evt-2", Entry{Matched: true, At: now})
	require.Equal(t, 2, c.Len())

	c.Invalidate()
	assert.Equal(t, 0, c.Len())
}

func TestCache_SweepRemovesExpiredEntriesEvery1000Puts(t *testing.T) {
	c := New(time.Millisecond)
	base := time.Now()

	c.Put("stale", "syslog", "evt-stale", Entry{Matched: true, At: base})

	later := base.Add(time.Hour)
	for i := 0; i < 999; i++ {
		c.Put("filler", "syslog", string(rune(i)), Entry{Matched: true, At: later})
	}

	// the 1000th put triggers a sweep as of `later`: the stale entry from
	// `base` is well past the 1ms TTL and is evicted, while the 999 filler
	// entries inserted at `later` are not.
	_, staleStillPresent := c.Get("stale", "syslog", "evt-stale", base)
	assert.False(t, staleStillPresent)
	assert.Equal(t, 999, c.Len())
}
