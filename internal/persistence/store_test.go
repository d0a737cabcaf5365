package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/basket/taskdeck/internal/apperr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "taskdeck.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskdeck.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen against applied schema: %v", err)
	}
	_ = s.Close()
}

func TestListCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l, err := s.CreateList(ctx, "q4_plan", "Q4 Plan", "quarterly goals")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.ID != "q4_plan" || l.Title != "Q4 Plan" || l.Status != "active" {
		t.Fatalf("created list: %+v", l)
	}

	if _, err := s.CreateList(ctx, "q4_plan", "Dup", ""); err == nil {
		t.Fatalf("duplicate id must fail")
	}

	title := "Q4 Plan v2"
	l, err = s.UpdateList(ctx, "q4_plan", ListPatch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if l.Title != "Q4 Plan v2" {
		t.Fatalf("title not updated: %+v", l)
	}

	if err := s.DeleteList(ctx, "q4_plan"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = s.GetList(ctx, "q4_plan")
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeNotFound {
		t.Fatalf("deleted list must be NOT_FOUND, got %v", err)
	}
	if err := s.DeleteList(ctx, "q4_plan"); err == nil {
		t.Fatalf("double delete must fail")
	}
}

func TestReorderLists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.CreateList(ctx, id, id, ""); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := s.ReorderLists(ctx, []string{"c", "a", "b"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	lists, err := s.Lists(ctx)
	if err != nil {
		t.Fatalf("lists: %v", err)
	}
	got := []string{lists[0].ID, lists[1].ID, lists[2].ID}
	if got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("order: %v", got)
	}

	if err := s.ReorderLists(ctx, []string{"c", "nope"}); err == nil {
		t.Fatalf("unknown id must abort the reorder")
	}
	// Failed reorder must not partially apply.
	lists, _ = s.Lists(ctx)
	if lists[0].ID != "c" || lists[1].ID != "a" {
		t.Fatalf("partial reorder applied: %+v", lists)
	}
}

func TestItemLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateList(ctx, "inbox", "Inbox", ""); err != nil {
		t.Fatalf("create list: %v", err)
	}

	it, err := s.CreateItem(ctx, "inbox", "review budget", "high")
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if it.ListID != "inbox" || it.Done || it.Priority != "high" {
		t.Fatalf("created item: %+v", it)
	}

	if _, err := s.CreateItem(ctx, "missing", "x", ""); err == nil {
		t.Fatalf("item in missing list must fail")
	}

	it, err = s.MarkDone(ctx, it.ID)
	if err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if !it.Done || it.DoneAt == nil {
		t.Fatalf("done state: %+v", it)
	}
	first := *it.DoneAt

	// Idempotent: done_at must not move.
	it, err = s.MarkDone(ctx, it.ID)
	if err != nil {
		t.Fatalf("second mark done: %v", err)
	}
	if it.DoneAt == nil || !it.DoneAt.Equal(first) {
		t.Fatalf("done_at moved on repeat mark: %v vs %v", it.DoneAt, first)
	}

	undone := false
	it, err = s.UpdateItem(ctx, it.ID, ItemPatch{Done: &undone})
	if err != nil {
		t.Fatalf("reopen item: %v", err)
	}
	if it.Done || it.DoneAt != nil {
		t.Fatalf("reopened item keeps done state: %+v", it)
	}
}

func TestDeleteListCascadesItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateList(ctx, "inbox", "Inbox", ""); err != nil {
		t.Fatalf("create list: %v", err)
	}
	it, err := s.CreateItem(ctx, "inbox", "task", "")
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if err := s.DeleteList(ctx, "inbox"); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	_, err = s.GetItem(ctx, it.ID)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeNotFound {
		t.Fatalf("cascaded item must be NOT_FOUND, got %v", err)
	}
}

func TestReorderItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateList(ctx, "inbox", "Inbox", ""); err != nil {
		t.Fatalf("create list: %v", err)
	}
	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		it, err := s.CreateItem(ctx, "inbox", content, "")
		if err != nil {
			t.Fatalf("create item: %v", err)
		}
		ids = append(ids, it.ID)
	}
	if err := s.ReorderItems(ctx, "inbox", []string{ids[2], ids[0], ids[1]}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	items, err := s.Items(ctx, "inbox")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if items[0].Content != "three" || items[1].Content != "one" || items[2].Content != "two" {
		t.Fatalf("order: %+v", items)
	}
}
