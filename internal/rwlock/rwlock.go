// Package rwlock provides the reader-writer lock every parley store uses to
// guard its state.
//
// Readers share the lock; a writer excludes readers and other writers.
// The lock is built on a FIFO weighted semaphore: a reader takes one unit,
// a writer takes all of them. Because waiters are served in arrival order,
// a queued writer holds back readers that arrive after it (writers cannot
// starve) and readers queued behind a writer proceed together once it
// releases (readers cannot starve).
package rwlock

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent readers. It is also the weight a writer
// acquires.
const maxReaders = 1 << 30

// RWLock is a context-aware reader-writer lock.
// The zero value is not usable; create locks with New.
type RWLock struct {
	sem *semaphore.Weighted
}

// New creates an unlocked RWLock.
func New() *RWLock {
	return &RWLock{sem: semaphore.NewWeighted(maxReaders)}
}

// RLock acquires the lock for reading and returns its release function.
// The only failure is ctx ending while the caller waits.
func (l *RWLock) RLock(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire reader lock: %w", err)
	}
	return func() { l.sem.Release(1) }, nil
}

// Lock acquires the lock for writing and returns its release function.
// The only failure is ctx ending while the caller waits.
func (l *RWLock) Lock(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, maxReaders); err != nil {
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	return func() { l.sem.Release(maxReaders) }, nil
}

// WithReader runs fn while holding the reader side of the lock.
// The lock is released when fn returns or panics.
func (l *RWLock) WithReader(ctx context.Context, fn func() error) error {
	release, err := l.RLock(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// WithWriter runs fn while holding the writer side of the lock.
// The lock is released when fn returns or panics.
func (l *RWLock) WithWriter(ctx context.Context, fn func() error) error {
	release, err := l.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
