package store

import (
	"context"
	"sync"
	"testing"

	"github.com/roach88/parley/internal/ir"
)

func TestCreateSession_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sess, err := s.Sessions().CreateSession(ctx, "agent-1", "customer-1", "Billing question")
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}

	got, err := s.Sessions().ReadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ReadSession() failed: %v", err)
	}
	if got.AgentID != "agent-1" || got.CustomerID != "customer-1" || got.Title != "Billing question" {
		t.Errorf("ReadSession() = %+v", got)
	}
	if !got.CreationUTC.Equal(sess.CreationUTC) {
		t.Errorf("CreationUTC = %v, want %v", got.CreationUTC, sess.CreationUTC)
	}
}

func TestReadSession_NotFound(t *testing.T) {
	s := createTestStore(t)

	if _, err := s.Sessions().ReadSession(context.Background(), "missing"); !IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestListSessions_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	s1, _ := s.Sessions().CreateSession(ctx, "agent-1", "customer-1", "")
	s2, _ := s.Sessions().CreateSession(ctx, "agent-1", "customer-2", "")
	s3, _ := s.Sessions().CreateSession(ctx, "agent-2", "customer-1", "")

	tests := []struct {
		name   string
		filter SessionFilter
		want   []ir.SessionID
	}{
		{"all", SessionFilter{}, []ir.SessionID{s1.ID, s2.ID, s3.ID}},
		{"by agent", SessionFilter{AgentID: "agent-1"}, []ir.SessionID{s1.ID, s2.ID}},
		{"by customer", SessionFilter{CustomerID: "customer-1"}, []ir.SessionID{s1.ID, s3.ID}},
		{"by both", SessionFilter{AgentID: "agent-2", CustomerID: "customer-1"}, []ir.SessionID{s3.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Sessions().ListSessions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListSessions() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestUpdateSessionTitle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, s)

	updated, err := s.Sessions().UpdateSessionTitle(ctx, sess.ID, "Renamed")
	if err != nil {
		t.Fatalf("UpdateSessionTitle() failed: %v", err)
	}
	if updated.Title != "Renamed" {
		t.Errorf("Title = %q, want %q", updated.Title, "Renamed")
	}

	if _, err := s.Sessions().UpdateSessionTitle(ctx, "missing", "x"); !IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestCreateEvent_OffsetsStartAtZero(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, s)

	for i := 0; i < 3; i++ {
		e, err := s.Sessions().CreateEvent(ctx, sess.ID, customerMessage("hi"))
		if err != nil {
			t.Fatalf("CreateEvent() #%d failed: %v", i, err)
		}
		if e.Offset != int64(i) {
			t.Errorf("event #%d offset = %d, want %d", i, e.Offset, i)
		}
	}
}

func TestCreateEvent_OffsetsArePerSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestSession(t, s)
	b := createTestSession(t, s)

	if _, err := s.Sessions().CreateEvent(ctx, a.ID, customerMessage("1")); err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}
	e, err := s.Sessions().CreateEvent(ctx, b.ID, customerMessage("1"))
	if err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}
	if e.Offset != 0 {
		t.Errorf("first event of second session offset = %d, want 0", e.Offset)
	}
}

func TestCreateEvent_ConcurrentAppendsAreContiguous(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, s)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Sessions().CreateEvent(ctx, sess.ID, customerMessage("hi")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CreateEvent() failed: %v", err)
	}

	events, err := s.Sessions().ListEvents(ctx, sess.ID, EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	if len(events) != n {
		t.Fatalf("len = %d, want %d", len(events), n)
	}
	for i, e := range events {
		if e.Offset != int64(i) {
			t.Fatalf("events[%d].Offset = %d, want %d", i, e.Offset, i)
		}
	}
}

func TestCreateEvent_UnknownSession(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Sessions().CreateEvent(context.Background(), "missing", customerMessage("hi"))
	if !IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestCreateEvent_InvalidKind(t *testing.T) {
	s := createTestStore(t)
	sess := createTestSession(t, s)

	p := customerMessage("hi")
	p.Kind = "shout"
	if _, err := s.Sessions().CreateEvent(context.Background(), sess.ID, p); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestReadEvent_RoundTripsData(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, s)

	created, err := s.Sessions().CreateEvent(ctx, sess.ID, EventParams{
		Source:        ir.EventSourceAIAgent,
		Kind:          ir.EventKindTool,
		CorrelationID: "<main>::abc",
		Data: map[string]any{
			"tool_calls": []any{map[string]any{"name": "lookup", "result": "<ok>"}},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}

	got, err := s.Sessions().ReadEvent(ctx, created.ID)
	if err != nil {
		t.Fatalf("ReadEvent() failed: %v", err)
	}
	if got.CorrelationID != "<main>::abc" || got.Source != ir.EventSourceAIAgent {
		t.Errorf("ReadEvent() = %+v", got)
	}
	calls, ok := got.Data["tool_calls"].([]any)
	if !ok || len(calls) != 1 {
		t.Fatalf("tool_calls = %#v", got.Data["tool_calls"])
	}
	call := calls[0].(map[string]any)
	if call["result"] != "<ok>" {
		t.Errorf("result = %v, want <ok>", call["result"])
	}
}

func TestListEvents_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, s)

	add := func(source ir.EventSource, kind ir.EventKind, corr string) ir.Event {
		e, err := s.Sessions().CreateEvent(ctx, sess.ID, EventParams{
			Source: source, Kind: kind, CorrelationID: corr,
		})
		if err != nil {
			t.Fatalf("CreateEvent() failed: %v", err)
		}
		return e
	}
	e0 := add(ir.EventSourceCustomer, ir.EventKindMessage, "c1")
	e1 := add(ir.EventSourceAIAgent, ir.EventKindStatus, "c2")
	e2 := add(ir.EventSourceAIAgent, ir.EventKindMessage, "c2")
	e3 := add(ir.EventSourceCustomer, ir.EventKindMessage, "c3")

	tests := []struct {
		name   string
		filter EventFilter
		want   []ir.Event
	}{
		{"all", EventFilter{}, []ir.Event{e0, e1, e2, e3}},
		{"min offset", EventFilter{MinOffset: 2}, []ir.Event{e2, e3}},
		{"kinds", EventFilter{Kinds: []ir.EventKind{ir.EventKindStatus}}, []ir.Event{e1}},
		{"source", EventFilter{Source: ir.EventSourceAIAgent}, []ir.Event{e1, e2}},
		{"correlation", EventFilter{CorrelationID: "c2"}, []ir.Event{e1, e2}},
		{"combined", EventFilter{MinOffset: 1, Kinds: []ir.EventKind{ir.EventKindMessage}, Source: ir.EventSourceCustomer}, []ir.Event{e3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Sessions().ListEvents(ctx, sess.ID, tt.filter)
			if err != nil {
				t.Fatalf("ListEvents() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i].ID {
					t.Errorf("got[%d] = %q, want %q", i, got[i].ID, tt.want[i].ID)
				}
			}
		})
	}
}

func TestListEvents_UnknownSession(t *testing.T) {
	s := createTestStore(t)

	if _, err := s.Sessions().ListEvents(context.Background(), "missing", EventFilter{}); !IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
}
