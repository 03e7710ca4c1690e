package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeIndexer struct {
	calls   int32
	delay   time.Duration
	err     error
	started chan struct{}
}

func (f *fakeIndexer) Sync(ctx context.Context, progress Progress) error {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestSyncDedupesConcurrentCallers(t *testing.T) {
	idx := &fakeIndexer{delay: 50 * time.Millisecond, started: make(chan struct{}, 1)}
	c := New(idx, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Sync(context.Background(), "test", nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&idx.calls))
}

func TestSyncRunsAgainAfterPriorCompletes(t *testing.T) {
	idx := &fakeIndexer{}
	c := New(idx, nil)

	require.NoError(t, c.Sync(context.Background(), "first", nil))
	require.NoError(t, c.Sync(context.Background(), "second", nil))
	require.EqualValues(t, 2, atomic.LoadInt32(&idx.calls))
}

func TestSyncClearsDirtyOnlyOnSuccess(t *testing.T) {
	idx := &fakeIndexer{err: context.Canceled}
	c := New(idx, nil)
	c.MarkDirty()

	_ = c.Sync(context.Background(), "fails", nil)
	require.True(t, c.Dirty(), "a failed sync must not clear the dirty flag")

	idx.err = nil
	require.NoError(t, c.Sync(context.Background(), "succeeds", nil))
	require.False(t, c.Dirty())
}

func TestWarmSessionDedupesWithinWindow(t *testing.T) {
	idx := &fakeIndexer{started: make(chan struct{}, 4)}
	c := New(idx, nil)

	c.WarmSession("session-a")
	<-idx.started
	c.WarmSession("session-a")

	// Give a stray second goroutine a moment to start, if it were going
	// to; since warm dedup is in-window, it should not.
	select {
	case <-idx.started:
		t.Fatal("expected WarmSession to dedupe the second call within the window")
	case <-time.After(20 * time.Millisecond):
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&idx.calls))
}

func TestWarmSessionAllowsDistinctSessions(t *testing.T) {
	idx := &fakeIndexer{started: make(chan struct{}, 4)}
	c := New(idx, nil)

	c.WarmSession("session-a")
	<-idx.started
	c.WarmSession("session-b")
	<-idx.started

	require.EqualValues(t, 2, atomic.LoadInt32(&idx.calls))
}

func TestNotifySearchOnlyWhenDirty(t *testing.T) {
	idx := &fakeIndexer{started: make(chan struct{}, 4)}
	c := New(idx, nil)

	c.NotifySearch()
	select {
	case <-idx.started:
		t.Fatal("NotifySearch must not sync when the index isn't dirty")
	case <-time.After(20 * time.Millisecond):
	}

	c.MarkDirty()
	c.NotifySearch()
	<-idx.started
	require.EqualValues(t, 1, atomic.LoadInt32(&idx.calls))
}
