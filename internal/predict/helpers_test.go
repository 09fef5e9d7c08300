package predict

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/rcliao/symbol-predict/internal/model"
	"github.com/rcliao/symbol-predict/internal/store"
)

var errDisk = errors.New("disk unavailable")

func newTestStore(t *testing.T) *store.BadgerStore {
	t.Helper()
	s, err := store.NewBadgerStore(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed stores a record with the given frequency directly.
func seed(t *testing.T, s store.Store, scope string, freq int, seq ...string) {
	t.Helper()
	fp, err := fingerprint.Encode(seq)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), &model.SequenceRecord{
		Scope:       scope,
		Sequence:    seq,
		Fingerprint: fp,
		Frequency:   freq,
		LastSeenAt:  time.Now().UTC(),
	}))
}

// fakeClock hands out strictly increasing times.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// flakyStore wraps a Store and injects failures.
type flakyStore struct {
	store.Store

	mu sync.Mutex
	// failPuts fails that many writes before letting them through.
	failPuts int
	// lostAcks lets that many writes reach the store but still reports an error.
	lostAcks int
	// down fails every call.
	down bool
	// hang blocks range queries until the context is done.
	hang bool
	puts int
}

func (f *flakyStore) Get(ctx context.Context, scope, fp string) (*model.SequenceRecord, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return nil, errDisk
	}
	return f.Store.Get(ctx, scope, fp)
}

func (f *flakyStore) CompareAndPut(ctx context.Context, rec *model.SequenceRecord, prev int) error {
	f.mu.Lock()
	f.puts++
	if f.down {
		f.mu.Unlock()
		return errDisk
	}
	if f.failPuts > 0 {
		f.failPuts--
		f.mu.Unlock()
		return errDisk
	}
	lost := false
	if f.lostAcks > 0 {
		f.lostAcks--
		lost = true
	}
	f.mu.Unlock()

	if err := f.Store.CompareAndPut(ctx, rec, prev); err != nil {
		return err
	}
	if lost {
		return errDisk
	}
	return nil
}

func (f *flakyStore) RangeQuery(ctx context.Context, scope, prefix string) ([]model.SequenceRecord, error) {
	f.mu.Lock()
	down, hang := f.down, f.hang
	f.mu.Unlock()
	if down {
		return nil, errDisk
	}
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.Store.RangeQuery(ctx, scope, prefix)
}

// mapLabels is a fixed Labels set.
type mapLabels map[string]string

func (m mapLabels) Get(id string) (model.Token, bool) {
	l, ok := m[id]
	if !ok {
		return model.Token{}, false
	}
	return model.Token{ID: id, Label: l}, true
}

func fastRetry(tries uint) RetryConfig {
	return RetryConfig{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}
