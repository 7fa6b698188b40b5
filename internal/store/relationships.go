package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/parley/internal/ir"
)

// RelationshipStore persists directed edges between entities.
//
// The store does not check that endpoints exist and does not deduplicate
// edges. Both are the caller's responsibility.
type RelationshipStore struct {
	collection
}

// RelationshipQuery filters ListRelationships.
type RelationshipQuery struct {
	// Kind restricts results to one relationship kind. Empty matches all kinds.
	Kind ir.RelationshipKind

	// Indirect follows edges transitively from Source (forward) or to
	// Target (backward). Ignored when both or neither endpoint is set.
	Indirect bool

	// Source and Target are endpoint ids. Empty means unset.
	Source string
	Target string
}

// CreateRelationship stores a new edge from source to target.
func (s *RelationshipStore) CreateRelationship(ctx context.Context, source, target ir.EntityRef, kind ir.RelationshipKind) (ir.Relationship, error) {
	if !ir.ValidRelationshipKinds[kind] {
		return ir.Relationship{}, fmt.Errorf("create relationship: invalid kind %q", kind)
	}
	if !ir.ValidEntityTypes[source.Type] {
		return ir.Relationship{}, fmt.Errorf("create relationship: invalid source type %q", source.Type)
	}
	if !ir.ValidEntityTypes[target.Type] {
		return ir.Relationship{}, fmt.Errorf("create relationship: invalid target type %q", target.Type)
	}

	r := ir.Relationship{
		ID:          ir.RelationshipID(s.ids.Generate()),
		Source:      source,
		Target:      target,
		Kind:        kind,
		CreationUTC: s.timestamp(),
	}

	err := s.lock.WithWriter(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO relationships (id, source_id, source_type, target_id, target_type, kind, creation_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, source.ID, source.Type, target.ID, target.Type, kind, formatTime(r.CreationUTC))
		if err != nil {
			return fmt.Errorf("insert relationship: %w", err)
		}
		return nil
	})
	if err != nil {
		return ir.Relationship{}, fmt.Errorf("create relationship: %w", err)
	}
	return r, nil
}

// ReadRelationship returns the relationship with the given id.
func (s *RelationshipStore) ReadRelationship(ctx context.Context, id ir.RelationshipID) (ir.Relationship, error) {
	var r ir.Relationship
	err := s.lock.WithReader(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, source_id, source_type, target_id, target_type, kind, creation_utc
			FROM relationships
			WHERE id = ?
		`, id)
		found, err := scanRelationship(row)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("relationship", string(id))
		}
		if err != nil {
			return err
		}
		r = found
		return nil
	})
	if err != nil {
		return ir.Relationship{}, err
	}
	return r, nil
}

// DeleteRelationship removes a relationship.
// Returns an ItemNotFoundError if it does not exist.
func (s *RelationshipStore) DeleteRelationship(ctx context.Context, id ir.RelationshipID) error {
	return s.lock.WithWriter(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete relationship: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete relationship: %w", err)
		}
		if n == 0 {
			return notFound("relationship", string(id))
		}
		return nil
	})
}

// ListRelationships returns relationships matching q.
//
//   - neither endpoint: every relationship of the kind
//   - both endpoints: direct edges from Source to Target
//   - one endpoint, direct: edges that start (or end) there
//   - one endpoint, indirect: every edge reachable from Source, or from which
//     Target is reachable, in breadth-first order
//
// Cycles terminate because each entity is expanded once.
// Returns an empty slice (not nil) if nothing matches.
func (s *RelationshipStore) ListRelationships(ctx context.Context, q RelationshipQuery) ([]ir.Relationship, error) {
	var result []ir.Relationship
	err := s.lock.WithReader(ctx, func() error {
		var err error
		switch {
		case q.Source == "" && q.Target == "":
			result, err = s.queryEdges(ctx, q.Kind, "", "")
		case q.Source != "" && q.Target != "":
			result, err = s.queryEdges(ctx, q.Kind, q.Source, q.Target)
		case !q.Indirect:
			result, err = s.queryEdges(ctx, q.Kind, q.Source, q.Target)
		case q.Source != "":
			result, err = s.walk(ctx, q.Kind, q.Source, true)
		default:
			result, err = s.walk(ctx, q.Kind, q.Target, false)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// walk collects edges breadth-first from start. Forward follows
// source→target, otherwise target→source.
func (s *RelationshipStore) walk(ctx context.Context, kind ir.RelationshipKind, start string, forward bool) ([]ir.Relationship, error) {
	result := []ir.Relationship{}
	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		var (
			edges []ir.Relationship
			err   error
		)
		if forward {
			edges, err = s.queryEdges(ctx, kind, node, "")
		} else {
			edges, err = s.queryEdges(ctx, kind, "", node)
		}
		if err != nil {
			return nil, err
		}

		for _, e := range edges {
			result = append(result, e)
			next := e.Target.ID
			if !forward {
				next = e.Source.ID
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return result, nil
}

// queryEdges returns edges of kind in creation order, filtered by the
// non-empty endpoint ids.
func (s *RelationshipStore) queryEdges(ctx context.Context, kind ir.RelationshipKind, source, target string) ([]ir.Relationship, error) {
	var (
		where []string
		args  []any
	)
	if kind != "" {
		where = append(where, "kind = ?")
		args = append(args, kind)
	}
	if source != "" {
		where = append(where, "source_id = ?")
		args = append(args, source)
	}
	if target != "" {
		where = append(where, "target_id = ?")
		args = append(args, target)
	}

	query := `SELECT id, source_id, source_type, target_id, target_type, kind, creation_utc FROM relationships`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	edges := []ir.Relationship{}
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return edges, nil
}

func scanRelationship(row rowScanner) (ir.Relationship, error) {
	var (
		r                          ir.Relationship
		id, sourceType, targetType string
		kind, created              string
	)
	if err := row.Scan(&id, &r.Source.ID, &sourceType, &r.Target.ID, &targetType, &kind, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Relationship{}, err
		}
		return ir.Relationship{}, fmt.Errorf("scan relationship: %w", err)
	}
	ts, err := parseTime(created)
	if err != nil {
		return ir.Relationship{}, err
	}
	r.ID = ir.RelationshipID(id)
	r.Source.Type = ir.EntityType(sourceType)
	r.Target.Type = ir.EntityType(targetType)
	r.Kind = ir.RelationshipKind(kind)
	r.CreationUTC = ts
	return r, nil
}
