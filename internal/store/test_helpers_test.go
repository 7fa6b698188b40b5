package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roach88/parley/internal/ir"
)

// testEpoch is the fixed start of the test clock.
var testEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// seqIDs generates "id-1", "id-2", ... so tests can predict document ids.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

// tickClock advances by one second per call.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// createTestStore creates a new file-backed store for testing with
// predictable ids and timestamps.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	clock := &tickClock{t: testEpoch}
	s, err := Open(path, WithIDGenerator(&seqIDs{}), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestGuideline stores a guideline or fails the test.
func createTestGuideline(t *testing.T, s *Store, condition, action string) ir.Guideline {
	t.Helper()
	g, err := s.Guidelines().CreateGuideline(context.Background(), ir.GuidelineContent{
		Condition: condition,
		Action:    action,
	})
	if err != nil {
		t.Fatalf("CreateGuideline() failed: %v", err)
	}
	return g
}

// createTestSession stores a session or fails the test.
func createTestSession(t *testing.T, s *Store) ir.Session {
	t.Helper()
	sess, err := s.Sessions().CreateSession(context.Background(), "agent-1", "customer-1", "")
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return sess
}

// customerMessage returns params for a customer message event.
func customerMessage(text string) EventParams {
	return EventParams{
		Source:        ir.EventSourceCustomer,
		Kind:          ir.EventKindMessage,
		CorrelationID: "<main>",
		Data:          map[string]any{"message": text},
	}
}
