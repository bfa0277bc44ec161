package health

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	mu         sync.Mutex
	fail       bool
	total      uint64
	successful uint64
	calls      int
}

func (f *fakeStore) UpdateAPIHealthBulk(_ string, total, successful uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("db down")
	}
	f.total += total
	f.successful += successful
	return nil
}

func TestFlushWritesAndResets(t *testing.T) {
	store := &fakeStore{}
	agg := NewAggregator(store, "lavalink")

	agg.RecordCall(true)
	agg.RecordCall(true)
	agg.RecordCall(false)
	agg.FlushToDB()

	assert.EqualValues(t, 3, store.total)
	assert.EqualValues(t, 2, store.successful)

	agg.FlushToDB()
	assert.Equal(t, 1, store.calls, "empty flush must not touch the store")
}

func TestFlushFailureKeepsCounts(t *testing.T) {
	store := &fakeStore{fail: true}
	agg := NewAggregator(store, "lavalink")

	agg.RecordCall(true)
	agg.FlushToDB()

	store.fail = false
	agg.RecordCall(false)
	agg.FlushToDB()

	assert.EqualValues(t, 2, store.total)
	assert.EqualValues(t, 1, store.successful)
}
