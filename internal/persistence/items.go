package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/basket/taskdeck/internal/apperr"
)

// Item is one task row.
type Item struct {
	ID        string     `json:"id"`
	ListID    string     `json:"listId"`
	Content   string     `json:"content"`
	Done      bool       `json:"done"`
	Priority  string     `json:"priority"`
	Position  int        `json:"position"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DoneAt    *time.Time `json:"doneAt,omitempty"`
}

// ItemPatch updates selected fields; nil fields are untouched.
type ItemPatch struct {
	Content  *string
	Priority *string
	Done     *bool
}

// CreateItem appends an item to a list. The list must exist.
func (s *Store) CreateItem(ctx context.Context, listID, content, priority string) (*Item, error) {
	if priority == "" {
		priority = "normal"
	}
	if _, err := s.GetList(ctx, listID); err != nil {
		return nil, err
	}
	id := "item_" + uuid.NewString()[:8]
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO items (id, list_id, content, priority, position)
			VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM items WHERE list_id = ?));
		`, id, listID, content, priority, listID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return s.GetItem(ctx, id)
}

// GetItem fetches one item.
func (s *Store) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, list_id, content, done, priority, position, created_at, updated_at, done_at
		FROM items WHERE id = ?;
	`, id)
	var it Item
	var doneAt sql.NullTime
	err := row.Scan(&it.ID, &it.ListID, &it.Content, &it.Done, &it.Priority, &it.Position, &it.CreatedAt, &it.UpdatedAt, &doneAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("item %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if doneAt.Valid {
		t := doneAt.Time
		it.DoneAt = &t
	}
	return &it, nil
}

// UpdateItem applies a patch and bumps updated_at. Setting Done via
// the patch also stamps or clears done_at.
func (s *Store) UpdateItem(ctx context.Context, id string, patch ItemPatch) (*Item, error) {
	current, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	content := current.Content
	if patch.Content != nil {
		content = *patch.Content
	}
	priority := current.Priority
	if patch.Priority != nil {
		priority = *patch.Priority
	}
	done := current.Done
	if patch.Done != nil {
		done = *patch.Done
	}
	err = retryOnBusy(ctx, 5, func() error {
		if patch.Done != nil && done != current.Done {
			if done {
				_, err := s.db.ExecContext(ctx, `
					UPDATE items SET content = ?, priority = ?, done = 1, done_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
					WHERE id = ?;
				`, content, priority, id)
				return err
			}
			_, err := s.db.ExecContext(ctx, `
				UPDATE items SET content = ?, priority = ?, done = 0, done_at = NULL, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?;
			`, content, priority, id)
			return err
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE items SET content = ?, priority = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, content, priority, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return s.GetItem(ctx, id)
}

// MarkDone flags an item complete, stamping done_at once. Marking an
// already-done item is a no-op, not an error.
func (s *Store) MarkDone(ctx context.Context, id string) (*Item, error) {
	current, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Done {
		return current, nil
	}
	done := true
	return s.UpdateItem(ctx, id, ItemPatch{Done: &done})
}

// DeleteItem removes one item.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound("item %q not found", id)
	}
	return nil
}

// Items returns a list's items ordered by position.
func (s *Store) Items(ctx context.Context, listID string) ([]Item, error) {
	if _, err := s.GetList(ctx, listID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, list_id, content, done, priority, position, created_at, updated_at, done_at
		FROM items WHERE list_id = ? ORDER BY position, id;
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var doneAt sql.NullTime
		if err := rows.Scan(&it.ID, &it.ListID, &it.Content, &it.Done, &it.Priority, &it.Position, &it.CreatedAt, &it.UpdatedAt, &doneAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if doneAt.Valid {
			t := doneAt.Time
			it.DoneAt = &t
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ReorderItems rewrites item positions within one list to match the
// given id order. Ids from other lists are rejected.
func (s *Store) ReorderItems(ctx context.Context, listID string, ids []string) error {
	if _, err := s.GetList(ctx, listID); err != nil {
		return err
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for pos, id := range ids {
			res, err := tx.ExecContext(ctx, `
				UPDATE items SET position = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND list_id = ?;
			`, pos+1, id, listID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return apperr.NotFound("item %q not found in list %q", id, listID)
			}
		}
		return tx.Commit()
	})
}
