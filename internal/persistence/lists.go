package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/taskdeck/internal/apperr"
)

// List is one task list row.
type List struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Position    int        `json:"position"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ItemCount   int        `json:"itemCount"`
	DoneAt      *time.Time `json:"-"`
}

// ListPatch updates selected fields; nil fields are untouched.
type ListPatch struct {
	Title       *string
	Description *string
	Status      *string
}

// CreateList inserts a new list at the end of the ordering.
func (s *Store) CreateList(ctx context.Context, id, title, description string) (*List, error) {
	if id == "" {
		id = "list_" + uuid.NewString()[:8]
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO lists (id, title, description, position)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM lists));
		`, id, title, description)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Validation(fmt.Sprintf("list %q already exists", id))
		}
		return nil, fmt.Errorf("insert list: %w", err)
	}
	return s.GetList(ctx, id)
}

// GetList fetches one list with its item count.
func (s *Store) GetList(ctx context.Context, id string) (*List, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT l.id, l.title, l.description, l.status, l.position, l.created_at, l.updated_at,
			(SELECT COUNT(*) FROM items i WHERE i.list_id = l.id)
		FROM lists l WHERE l.id = ?;
	`, id)
	var l List
	err := row.Scan(&l.ID, &l.Title, &l.Description, &l.Status, &l.Position, &l.CreatedAt, &l.UpdatedAt, &l.ItemCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("list %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return &l, nil
}

// UpdateList applies a patch and bumps updated_at.
func (s *Store) UpdateList(ctx context.Context, id string, patch ListPatch) (*List, error) {
	current, err := s.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	title := current.Title
	if patch.Title != nil {
		title = *patch.Title
	}
	description := current.Description
	if patch.Description != nil {
		description = *patch.Description
	}
	status := current.Status
	if patch.Status != nil {
		status = *patch.Status
	}
	err = retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE lists SET title = ?, description = ?, status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, title, description, status, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update list: %w", err)
	}
	return s.GetList(ctx, id)
}

// DeleteList removes a list; its items cascade.
func (s *Store) DeleteList(ctx context.Context, id string) error {
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM lists WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound("list %q not found", id)
	}
	return nil
}

// Lists returns every list ordered by position.
func (s *Store) Lists(ctx context.Context) ([]List, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.title, l.description, l.status, l.position, l.created_at, l.updated_at,
			(SELECT COUNT(*) FROM items i WHERE i.list_id = l.id)
		FROM lists l ORDER BY l.position, l.id;
	`)
	if err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}
	defer rows.Close()

	var out []List
	for rows.Next() {
		var l List
		if err := rows.Scan(&l.ID, &l.Title, &l.Description, &l.Status, &l.Position, &l.CreatedAt, &l.UpdatedAt, &l.ItemCount); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ReorderLists rewrites positions to match the given id order. Ids
// absent from the slice keep their relative order after the named
// ones. Unknown ids are rejected.
func (s *Store) ReorderLists(ctx context.Context, ids []string) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for pos, id := range ids {
			res, err := tx.ExecContext(ctx, `
				UPDATE lists SET position = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
			`, pos+1, id)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return apperr.NotFound("list %q not found", id)
			}
		}
		return tx.Commit()
	})
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "(19)")) // SQLITE_CONSTRAINT
}
