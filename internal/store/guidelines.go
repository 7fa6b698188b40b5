package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/parley/internal/ir"
)

// GuidelineStore persists guidelines and their tag links.
type GuidelineStore struct {
	collection
}

// GuidelineUpdateParams selects the fields UpdateGuideline changes.
// Nil fields are left as stored.
type GuidelineUpdateParams struct {
	Condition *string
	Action    *string
	Enabled   *bool
}

// ContentUpdate returns params that replace a guideline's condition and action.
func ContentUpdate(content ir.GuidelineContent) GuidelineUpdateParams {
	return GuidelineUpdateParams{
		Condition: &content.Condition,
		Action:    &content.Action,
	}
}

// CreateGuideline stores a new enabled guideline with the given content.
// Content is normalized before it is written.
func (s *GuidelineStore) CreateGuideline(ctx context.Context, content ir.GuidelineContent, tags ...ir.TagID) (ir.Guideline, error) {
	content = content.Normalize()
	g := ir.Guideline{
		ID:          ir.GuidelineID(s.ids.Generate()),
		Content:     content,
		Enabled:     true,
		Tags:        []ir.TagID{},
		CreationUTC: s.timestamp(),
	}

	err := s.lock.WithWriter(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO guidelines (id, condition, action, enabled, creation_utc)
			VALUES (?, ?, ?, 1, ?)
		`, g.ID, content.Condition, content.Action, formatTime(g.CreationUTC))
		if err != nil {
			return fmt.Errorf("insert guideline: %w", err)
		}

		for _, tag := range tags {
			if err := linkTag(ctx, tx, g.ID, tag, formatTime(g.CreationUTC)); err != nil {
				return err
			}
			g.Tags = append(g.Tags, tag)
		}

		return tx.Commit()
	})
	if err != nil {
		return ir.Guideline{}, fmt.Errorf("create guideline: %w", err)
	}
	return g, nil
}

// ReadGuideline returns the guideline with the given id.
// Returns an ItemNotFoundError if it does not exist.
func (s *GuidelineStore) ReadGuideline(ctx context.Context, id ir.GuidelineID) (ir.Guideline, error) {
	var g ir.Guideline
	err := s.lock.WithReader(ctx, func() error {
		var err error
		g, err = s.readGuideline(ctx, id)
		return err
	})
	return g, err
}

func (s *GuidelineStore) readGuideline(ctx context.Context, id ir.GuidelineID) (ir.Guideline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, condition, action, enabled, creation_utc
		FROM guidelines
		WHERE id = ?
	`, id)
	g, err := scanGuideline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Guideline{}, notFound("guideline", string(id))
	}
	if err != nil {
		return ir.Guideline{}, err
	}
	if g.Tags, err = s.readTagLinks(ctx, g.ID); err != nil {
		return ir.Guideline{}, err
	}
	return g, nil
}

// ListGuidelines returns guidelines in creation order. When tags are given,
// only guidelines linked to at least one of them are returned.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *GuidelineStore) ListGuidelines(ctx context.Context, tags ...ir.TagID) ([]ir.Guideline, error) {
	query := `SELECT id, condition, action, enabled, creation_utc FROM guidelines`
	var args []any
	if len(tags) > 0 {
		placeholders := make([]string, len(tags))
		for i, tag := range tags {
			placeholders[i] = "?"
			args = append(args, tag)
		}
		query += ` WHERE id IN (SELECT guideline_id FROM guideline_tags WHERE tag_id IN (` +
			strings.Join(placeholders, ", ") + `))`
	}
	query += ` ORDER BY rowid ASC`

	guidelines := []ir.Guideline{}
	err := s.lock.WithReader(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query guidelines: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			g, err := scanGuideline(rows)
			if err != nil {
				return err
			}
			guidelines = append(guidelines, g)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate guidelines: %w", err)
		}
		rows.Close()

		for i := range guidelines {
			if guidelines[i].Tags, err = s.readTagLinks(ctx, guidelines[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return guidelines, nil
}

// UpdateGuideline changes the selected fields of a guideline in place.
// The id and creation time never change.
func (s *GuidelineStore) UpdateGuideline(ctx context.Context, id ir.GuidelineID, params GuidelineUpdateParams) (ir.Guideline, error) {
	var g ir.Guideline
	err := s.lock.WithWriter(ctx, func() error {
		current, err := s.readGuideline(ctx, id)
		if err != nil {
			return err
		}

		next := current
		if params.Condition != nil {
			next.Content.Condition = *params.Condition
		}
		if params.Action != nil {
			next.Content.Action = *params.Action
		}
		if params.Enabled != nil {
			next.Enabled = *params.Enabled
		}
		next.Content = next.Content.Normalize()

		_, err = s.db.ExecContext(ctx, `
			UPDATE guidelines SET condition = ?, action = ?, enabled = ?
			WHERE id = ?
		`, next.Content.Condition, next.Content.Action, boolToInt(next.Enabled), id)
		if err != nil {
			return fmt.Errorf("update guideline: %w", err)
		}
		g = next
		return nil
	})
	if err != nil {
		return ir.Guideline{}, err
	}
	return g, nil
}

// DeleteGuideline removes a guideline and its tag links.
// Relationships that point at it are left in place; callers that want them
// gone delete them through the RelationshipStore.
func (s *GuidelineStore) DeleteGuideline(ctx context.Context, id ir.GuidelineID) error {
	return s.lock.WithWriter(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM guidelines WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete guideline: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete guideline: %w", err)
		}
		if n == 0 {
			return notFound("guideline", string(id))
		}
		return nil
	})
}

// FindGuideline returns the guideline whose content exactly matches the
// given content after normalization. If several match, the oldest wins.
// Returns an ItemNotFoundError keyed by the content key if none match.
func (s *GuidelineStore) FindGuideline(ctx context.Context, content ir.GuidelineContent) (ir.Guideline, error) {
	content = content.Normalize()
	var g ir.Guideline
	err := s.lock.WithReader(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, condition, action, enabled, creation_utc
			FROM guidelines
			WHERE condition = ? AND action = ?
			ORDER BY rowid ASC
			LIMIT 1
		`, content.Condition, content.Action)
		found, err := scanGuideline(row)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("guideline", content.Key())
		}
		if err != nil {
			return err
		}
		if found.Tags, err = s.readTagLinks(ctx, found.ID); err != nil {
			return err
		}
		g = found
		return nil
	})
	if err != nil {
		return ir.Guideline{}, err
	}
	return g, nil
}

// UpsertTag links a tag to a guideline. Linking an already linked tag is a
// no-op. Both the guideline and the tag must exist.
func (s *GuidelineStore) UpsertTag(ctx context.Context, id ir.GuidelineID, tag ir.TagID) error {
	return s.lock.WithWriter(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM guidelines WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("guideline", string(id))
		}
		if err != nil {
			return fmt.Errorf("check guideline: %w", err)
		}

		if err := linkTag(ctx, tx, id, tag, formatTime(s.timestamp())); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// RemoveTag unlinks a tag from a guideline.
// Returns an ItemNotFoundError if the link does not exist.
func (s *GuidelineStore) RemoveTag(ctx context.Context, id ir.GuidelineID, tag ir.TagID) error {
	return s.lock.WithWriter(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM guideline_tags WHERE guideline_id = ? AND tag_id = ?
		`, id, tag)
		if err != nil {
			return fmt.Errorf("remove tag: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("remove tag: %w", err)
		}
		if n == 0 {
			return notFound("guideline tag", string(id)+"/"+string(tag))
		}
		return nil
	})
}

// linkTag inserts a guideline_tags row inside tx. The tag must exist.
func linkTag(ctx context.Context, tx *sql.Tx, id ir.GuidelineID, tag ir.TagID, created string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tags WHERE id = ?`, tag).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("tag", string(tag))
	}
	if err != nil {
		return fmt.Errorf("check tag: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO guideline_tags (guideline_id, tag_id, creation_utc)
		VALUES (?, ?, ?)
		ON CONFLICT(guideline_id, tag_id) DO NOTHING
	`, id, tag, created)
	if err != nil {
		return fmt.Errorf("link tag: %w", err)
	}
	return nil
}

// readTagLinks returns the tags linked to a guideline in link order.
func (s *GuidelineStore) readTagLinks(ctx context.Context, id ir.GuidelineID) ([]ir.TagID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag_id FROM guideline_tags
		WHERE guideline_id = ?
		ORDER BY rowid ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query guideline tags: %w", err)
	}
	defer rows.Close()

	tags := []ir.TagID{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan guideline tag: %w", err)
		}
		tags = append(tags, ir.TagID(tag))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guideline tags: %w", err)
	}
	return tags, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuideline(row rowScanner) (ir.Guideline, error) {
	var (
		g       ir.Guideline
		id      string
		enabled int
		created string
	)
	if err := row.Scan(&id, &g.Content.Condition, &g.Content.Action, &enabled, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Guideline{}, err
		}
		return ir.Guideline{}, fmt.Errorf("scan guideline: %w", err)
	}
	ts, err := parseTime(created)
	if err != nil {
		return ir.Guideline{}, err
	}
	g.ID = ir.GuidelineID(id)
	g.Enabled = enabled != 0
	g.CreationUTC = ts
	g.Tags = []ir.TagID{}
	return g, nil
}
