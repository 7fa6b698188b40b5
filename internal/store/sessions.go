package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/parley/internal/ir"
)

// SessionStore persists sessions and their append-only event logs.
type SessionStore struct {
	collection
}

// SessionFilter restricts ListSessions. Empty fields match everything.
type SessionFilter struct {
	AgentID    ir.AgentID
	CustomerID ir.CustomerID
}

// EventParams describes an event to append.
type EventParams struct {
	Source        ir.EventSource
	Kind          ir.EventKind
	CorrelationID string
	Data          map[string]any
}

// EventFilter restricts ListEvents. Zero fields match everything.
type EventFilter struct {
	MinOffset     int64
	Kinds         []ir.EventKind
	Source        ir.EventSource
	CorrelationID string
}

// CreateSession stores a new session.
func (s *SessionStore) CreateSession(ctx context.Context, agentID ir.AgentID, customerID ir.CustomerID, title string) (ir.Session, error) {
	sess := ir.Session{
		ID:          ir.SessionID(s.ids.Generate()),
		AgentID:     agentID,
		CustomerID:  customerID,
		Title:       title,
		CreationUTC: s.timestamp(),
	}

	err := s.lock.WithWriter(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, agent_id, customer_id, title, creation_utc)
			VALUES (?, ?, ?, ?, ?)
		`, sess.ID, agentID, customerID, title, formatTime(sess.CreationUTC))
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return ir.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// ReadSession returns the session with the given id.
func (s *SessionStore) ReadSession(ctx context.Context, id ir.SessionID) (ir.Session, error) {
	var sess ir.Session
	err := s.lock.WithReader(ctx, func() error {
		var err error
		sess, err = s.readSession(ctx, id)
		return err
	})
	return sess, err
}

func (s *SessionStore) readSession(ctx context.Context, id ir.SessionID) (ir.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, customer_id, title, creation_utc
		FROM sessions
		WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Session{}, notFound("session", string(id))
	}
	return sess, err
}

// ListSessions returns sessions in creation order.
func (s *SessionStore) ListSessions(ctx context.Context, f SessionFilter) ([]ir.Session, error) {
	var (
		where []string
		args  []any
	)
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	query := `SELECT id, agent_id, customer_id, title, creation_utc FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC"

	sessions := []ir.Session{}
	err := s.lock.WithReader(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query sessions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return err
			}
			sessions = append(sessions, sess)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateSessionTitle replaces a session's title.
func (s *SessionStore) UpdateSessionTitle(ctx context.Context, id ir.SessionID, title string) (ir.Session, error) {
	var sess ir.Session
	err := s.lock.WithWriter(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, id)
		if err != nil {
			return fmt.Errorf("update session title: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update session title: %w", err)
		}
		if n == 0 {
			return notFound("session", string(id))
		}
		sess, err = s.readSession(ctx, id)
		return err
	})
	if err != nil {
		return ir.Session{}, err
	}
	return sess, nil
}

// DeleteSession removes a session together with its events.
func (s *SessionStore) DeleteSession(ctx context.Context, id ir.SessionID) error {
	return s.lock.WithWriter(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if n == 0 {
			return notFound("session", string(id))
		}
		return nil
	})
}

// CreateEvent appends an event to a session's log.
//
// The offset is MAX(offset)+1 for the session (0 for the first event),
// computed and written in one transaction under the writer lock, so
// concurrent appenders always produce contiguous offsets.
func (s *SessionStore) CreateEvent(ctx context.Context, sessionID ir.SessionID, p EventParams) (ir.Event, error) {
	if !ir.ValidEventSources[p.Source] {
		return ir.Event{}, fmt.Errorf("create event: invalid source %q", p.Source)
	}
	if !ir.ValidEventKinds[p.Kind] {
		return ir.Event{}, fmt.Errorf("create event: invalid kind %q", p.Kind)
	}
	data, err := marshalEventData(p.Data)
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}
	// Store the round-tripped form so the returned event matches a later read.
	stored, err := unmarshalEventData(data)
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}

	e := ir.Event{
		ID:            ir.EventID(s.ids.Generate()),
		SessionID:     sessionID,
		Source:        p.Source,
		Kind:          p.Kind,
		CorrelationID: p.CorrelationID,
		Data:          stored,
		CreationUTC:   s.timestamp(),
	}

	err = s.lock.WithWriter(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("session", string(sessionID))
		}
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(event_offset) + 1, 0) FROM events WHERE session_id = ?
		`, sessionID).Scan(&e.Offset)
		if err != nil {
			return fmt.Errorf("next offset: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (id, session_id, event_offset, source, kind, correlation_id, data, creation_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, sessionID, e.Offset, e.Source, e.Kind, e.CorrelationID, data, formatTime(e.CreationUTC))
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return ir.Event{}, fmt.Errorf("create event: %w", err)
	}
	return e, nil
}

// ReadEvent returns the event with the given id.
func (s *SessionStore) ReadEvent(ctx context.Context, id ir.EventID) (ir.Event, error) {
	var e ir.Event
	err := s.lock.WithReader(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, session_id, event_offset, source, kind, correlation_id, data, creation_utc
			FROM events
			WHERE id = ?
		`, id)
		found, err := scanEvent(row)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("event", string(id))
		}
		if err != nil {
			return err
		}
		e = found
		return nil
	})
	if err != nil {
		return ir.Event{}, err
	}
	return e, nil
}

// ListEvents returns a session's events in offset order, filtered by f.
// Returns an ItemNotFoundError if the session does not exist.
func (s *SessionStore) ListEvents(ctx context.Context, sessionID ir.SessionID, f EventFilter) ([]ir.Event, error) {
	where := []string{"session_id = ?", "event_offset >= ?"}
	args := []any{sessionID, f.MinOffset}
	if len(f.Kinds) > 0 {
		placeholders := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			placeholders[i] = "?"
			args = append(args, k)
		}
		where = append(where, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, f.CorrelationID)
	}
	query := `
		SELECT id, session_id, event_offset, source, kind, correlation_id, data, creation_utc
		FROM events
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY event_offset ASC`

	events := []ir.Event{}
	err := s.lock.WithReader(ctx, func() error {
		if _, err := s.readSession(ctx, sessionID); err != nil {
			return err
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func scanSession(row rowScanner) (ir.Session, error) {
	var (
		sess                ir.Session
		id, agent, customer string
		created             string
	)
	if err := row.Scan(&id, &agent, &customer, &sess.Title, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Session{}, err
		}
		return ir.Session{}, fmt.Errorf("scan session: %w", err)
	}
	ts, err := parseTime(created)
	if err != nil {
		return ir.Session{}, err
	}
	sess.ID = ir.SessionID(id)
	sess.AgentID = ir.AgentID(agent)
	sess.CustomerID = ir.CustomerID(customer)
	sess.CreationUTC = ts
	return sess, nil
}

func scanEvent(row rowScanner) (ir.Event, error) {
	var (
		e                           ir.Event
		id, sessionID               string
		source, kind, data, created string
	)
	if err := row.Scan(&id, &sessionID, &e.Offset, &source, &kind, &e.CorrelationID, &data, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Event{}, err
		}
		return ir.Event{}, fmt.Errorf("scan event: %w", err)
	}
	ts, err := parseTime(created)
	if err != nil {
		return ir.Event{}, err
	}
	payload, err := unmarshalEventData(data)
	if err != nil {
		return ir.Event{}, err
	}
	e.ID = ir.EventID(id)
	e.SessionID = ir.SessionID(sessionID)
	e.Source = ir.EventSource(source)
	e.Kind = ir.EventKind(kind)
	e.Data = payload
	e.CreationUTC = ts
	return e, nil
}
