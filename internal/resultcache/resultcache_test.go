package resultcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_StableForSameInputs(t *testing.T) {
	start := time.Now()
	end := start.Add(time.Hour)
	k1 := Key("select 1", []any{"a", 1}, start, end)
	k2 := Key("select 1", []any{"a", 1}, start, end)
	assert.Equal(t, k1, k2)
}

func TestKey_DiffersOnArgsOrRange(t *testing.T) {
	start := time.Now()
	end := start.Add(time.Hour)
	k1 := Key("select 1", []any{"a"}, start, end)
	k2 := Key("select 1", []any{"b"}, start, end)
	k3 := Key("select 1", []any{"a"}, start, end.Add(time.Minute))
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestCache_PutThenGet(t *testing.T) {
	c := New(time.Minute, 1000)
	now := time.Now()
	key := Key("select 1", nil, now, now)
	rows := []Row{{"id": 1}, {"id": 2}}

	c.Put(key, rows, now)
	got, ok := c.Get(key, now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, rows, got)
}

func TestCache_RowCountCeilingExcludesFromCache(t *testing.T) {
	c := New(time.Minute, 1)
	now := time.Now()
	key := Key("select 1", nil, now, now)
	rows := []Row{{"id": 1}, {"id": 2}}

	c.Put(key, rows, now)
	_, ok := c.Get(key, now)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := New(time.Second, 1000)
	now := time.Now()
	key := Key("select 1", nil, now, now)
	c.Put(key, []Row{{"id": 1}}, now)

	_, ok := c.Get(key, now.Add(2*time.Second))
	assert.False(t, ok)
}

func TestCache_InvalidateSchemaBumpsVersionAndHidesEntries(t *testing.T) {
	c := New(time.Minute, 1000)
	now := time.Now()
	key := Key("select 1", nil, now, now)
	c.Put(key, []Row{{"id": 1}}, now)

	_, ok := c.Get(key, now)
	require.True(t, ok)

	c.InvalidateSchema()

	_, ok = c.Get(key, now)
	assert.False(t, ok)
}
