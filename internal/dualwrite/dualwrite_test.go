package dualwrite

import (
	"context"
	"errors"
	"testing"

	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelational struct {
	insertErr      error
	insertBatchErr error
	inserted       []eventmodel.Event
}

func (f *fakeRelational) Insert(_ context.Context, e eventmodel.Event) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, e)
	return nil
}

func (f *fakeRelational) InsertBatch(_ context.Context, events []eventmodel.Event) error {
	if f.insertBatchErr != nil {
		return f.insertBatchErr
	}
	f.inserted = append(f.inserted, events...)
	return nil
}

type fakeSearch struct {
	indexErr      error
	indexBatchErr error
	indexed       []eventmodel.Event
}

func (f *fakeSearch) Index(_ context.Context, e eventmodel.Event) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, e)
	return nil
}

func (f *fakeSearch) IndexBatch(_ context.Context, events []eventmodel.Event) error {
	if f.indexBatchErr != nil {
		return f.indexBatchErr
	}
	f.indexed = append(f.indexed, events...)
	return nil
}

func TestWriteLog_BothBackendsSucceed(t *testing.T) {
	rel := &fakeRelational{}
	search := &fakeSearch{}
	e := New(rel, search)

	err := e.WriteLog(context.Background(), eventmodel.Event{ID: "ev-1"})
	require.NoError(t, err)
	assert.Len(t, rel.inserted, 1)
	assert.Len(t, search.indexed, 1)

	snap := e.Counters().Snapshot()
	assert.Equal(t, int64(1), snap.RelationalOK)
	assert.Equal(t, int64(1), snap.SearchOK)
	assert.False(t, snap.Degraded())
}

func TestWriteLog_RelationalFailureDoesNotBlockSearch(t *testing.T) {
	rel := &fakeRelational{insertErr: errors.New("db down")}
	search := &fakeSearch{}
	e := New(rel, search)

	err := e.WriteLog(context.Background(), eventmodel.Event{ID: "ev-1"})
	require.Error(t, err)
	assert.Len(t, search.indexed, 1, "search write must still happen despite relational failure")

	snap := e.Counters().Snapshot()
	assert.Equal(t, int64(1), snap.RelationalFail)
	assert.Equal(t, int64(1), snap.SearchOK)
}

func TestWriteLog_BothBackendsFail(t *testing.T) {
	rel := &fakeRelational{insertErr: errors.New("db down")}
	search := &fakeSearch{indexErr: errors.New("index down")}
	e := New(rel, search)

	err := e.WriteLog(context.Background(), eventmodel.Event{ID: "ev-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both backends")
}

func TestWriteBatch_EmptyIsNoop(t *testing.T) {
	rel := &fakeRelational{}
	search := &fakeSearch{}
	e := New(rel, search)

	require.NoError(t, e.WriteBatch(context.Background(), nil))
	assert.Empty(t, rel.inserted)
	assert.Empty(t, search.indexed)
}

func TestWriteBatch_IndependentFailureAccounting(t *testing.T) {
	rel := &fakeRelational{}
	search := &fakeSearch{indexBatchErr: errors.New("index down")}
	e := New(rel, search)

	events := []eventmodel.Event{{ID: "ev-1"}, {ID: "ev-2"}}
	err := e.WriteBatch(context.Background(), events)
	require.Error(t, err)
	assert.Len(t, rel.inserted, 2)
	assert.Empty(t, search.indexed)

	snap := e.Counters().Snapshot()
	assert.Equal(t, int64(2), snap.RelationalOK)
	assert.Equal(t, int64(2), snap.SearchFail)
}

func TestSnapshot_DegradedWhenFailuresOutnumberSuccesses(t *testing.T) {
	rel := &fakeRelational{insertErr: errors.New("down")}
	search := &fakeSearch{}
	e := New(rel, search)

	for i := 0; i < 3; i++ {
		_ = e.WriteLog(context.Background(), eventmodel.Event{ID: "ev"})
	}

	assert.True(t, e.Counters().Snapshot().Degraded())
}
