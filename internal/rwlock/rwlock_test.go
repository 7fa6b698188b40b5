package rwlock

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRWLock_WritersNeverInterleave(t *testing.T) {
	l := New()
	ctx := context.Background()

	const writers = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithWriter(ctx, func() error {
				// Non-atomic read-modify-write with a yield in between.
				v := counter
				runtime.Gosched()
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, writers, counter)
}

func TestRWLock_ReadersShare(t *testing.T) {
	l := New()
	ctx := context.Background()

	release1, err := l.RLock(ctx)
	require.NoError(t, err)
	defer release1()

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	release2, err := l.RLock(timeoutCtx)
	require.NoError(t, err, "second reader should acquire while first holds the lock")
	release2()
}

func TestRWLock_WriterExcludesReaders(t *testing.T) {
	l := New()
	ctx := context.Background()

	release, err := l.Lock(ctx)
	require.NoError(t, err)
	defer release()

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err = l.RLock(timeoutCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRWLock_QueuedWriterHoldsBackNewReaders(t *testing.T) {
	l := New()
	ctx := context.Background()

	releaseReader, err := l.RLock(ctx)
	require.NoError(t, err)

	writerAcquired := make(chan func())
	go func() {
		release, err := l.Lock(ctx)
		if err == nil {
			writerAcquired <- release
		}
	}()

	// Give the writer time to queue behind the first reader.
	time.Sleep(20 * time.Millisecond)

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = l.RLock(timeoutCtx)
	require.Error(t, err, "late reader must wait behind the queued writer")

	releaseReader()

	select {
	case release := <-writerAcquired:
		release()
	case <-time.After(time.Second):
		t.Fatal("writer did not acquire after reader released")
	}
}

func TestRWLock_ReadersProceedAfterWriter(t *testing.T) {
	l := New()
	ctx := context.Background()

	releaseWriter, err := l.Lock(ctx)
	require.NoError(t, err)

	const readers = 5
	acquired := make(chan struct{}, readers)
	hold := make(chan struct{})
	for i := 0; i < readers; i++ {
		go func() {
			_ = l.WithReader(ctx, func() error {
				acquired <- struct{}{}
				<-hold
				return nil
			})
		}()
	}

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, acquired, 0, "readers must wait for the writer")

	releaseWriter()

	// All readers hold the lock at the same time.
	for i := 0; i < readers; i++ {
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatalf("reader %d did not acquire", i)
		}
	}
	close(hold)
}

func TestRWLock_ReleasesOnPanic(t *testing.T) {
	l := New()
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = l.WithWriter(ctx, func() error {
			panic("boom")
		})
	})

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	release, err := l.Lock(timeoutCtx)
	require.NoError(t, err, "lock must be released after panic")
	release()
}

func TestRWLock_PropagatesFnError(t *testing.T) {
	l := New()
	want := errors.New("not found")

	err := l.WithReader(context.Background(), func() error { return want })
	assert.ErrorIs(t, err, want)
}

func TestRWLock_CancelledWhileWaiting(t *testing.T) {
	l := New()
	ctx := context.Background()

	release, err := l.Lock(ctx)
	require.NoError(t, err)
	defer release()

	cancelCtx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = l.Lock(cancelCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
