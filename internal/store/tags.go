package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/parley/internal/ir"
)

// TagStore persists tags.
type TagStore struct {
	collection
}

// CreateTag stores a new tag.
func (s *TagStore) CreateTag(ctx context.Context, name string) (ir.Tag, error) {
	t := ir.Tag{
		ID:          ir.TagID(s.ids.Generate()),
		Name:        name,
		CreationUTC: s.timestamp(),
	}
	err := s.lock.WithWriter(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tags (id, name, creation_utc) VALUES (?, ?, ?)
		`, t.ID, name, formatTime(t.CreationUTC))
		if err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
		return nil
	})
	if err != nil {
		return ir.Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return t, nil
}

// ReadTag returns the tag with the given id.
func (s *TagStore) ReadTag(ctx context.Context, id ir.TagID) (ir.Tag, error) {
	var t ir.Tag
	err := s.lock.WithReader(ctx, func() error {
		var err error
		t, err = s.readTag(ctx, id)
		return err
	})
	return t, err
}

func (s *TagStore) readTag(ctx context.Context, id ir.TagID) (ir.Tag, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, creation_utc FROM tags WHERE id = ?`, id)
	t, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Tag{}, notFound("tag", string(id))
	}
	return t, err
}

// ListTags returns all tags in creation order.
func (s *TagStore) ListTags(ctx context.Context) ([]ir.Tag, error) {
	tags := []ir.Tag{}
	err := s.lock.WithReader(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT id, name, creation_utc FROM tags ORDER BY rowid ASC`)
		if err != nil {
			return fmt.Errorf("query tags: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTag(rows)
			if err != nil {
				return err
			}
			tags = append(tags, t)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate tags: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// UpdateTag renames a tag.
func (s *TagStore) UpdateTag(ctx context.Context, id ir.TagID, name string) (ir.Tag, error) {
	var t ir.Tag
	err := s.lock.WithWriter(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE tags SET name = ? WHERE id = ?`, name, id)
		if err != nil {
			return fmt.Errorf("update tag: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update tag: %w", err)
		}
		if n == 0 {
			return notFound("tag", string(id))
		}
		t, err = s.readTag(ctx, id)
		return err
	})
	if err != nil {
		return ir.Tag{}, err
	}
	return t, nil
}

// DeleteTag removes a tag and unlinks it from every guideline.
func (s *TagStore) DeleteTag(ctx context.Context, id ir.TagID) error {
	return s.lock.WithWriter(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete tag: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete tag: %w", err)
		}
		if n == 0 {
			return notFound("tag", string(id))
		}
		return nil
	})
}

func scanTag(row rowScanner) (ir.Tag, error) {
	var t ir.Tag
	var id, created string
	if err := row.Scan(&id, &t.Name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Tag{}, err
		}
		return ir.Tag{}, fmt.Errorf("scan tag: %w", err)
	}
	ts, err := parseTime(created)
	if err != nil {
		return ir.Tag{}, err
	}
	t.ID = ir.TagID(id)
	t.CreationUTC = ts
	return t, nil
}
