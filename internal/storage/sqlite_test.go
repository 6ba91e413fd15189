package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	s, err := NewSQLiteBackend(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteBackend(t *testing.T) {
	s := newTestSQLite(t)
	if s == nil {
		t.Fatal("backend is nil")
	}
}

func TestSQLiteBackend_PutGet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	err := s.Put(ctx, Record{
		AccountID: "alice@example.com",
		Artifact:  Artifact(`[{"name":"_pinterest_sess","value":"abc"}]`),
		UpdatedAt: 1700000000000,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := s.Get(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("record not found")
	}
	if string(rec.Artifact) != `[{"name":"_pinterest_sess","value":"abc"}]` {
		t.Errorf("Artifact = %q", string(rec.Artifact))
	}
	if rec.UpdatedAt != 1700000000000 {
		t.Errorf("UpdatedAt = %d", rec.UpdatedAt)
	}
}

func TestSQLiteBackend_Get_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	rec, err := s.Get(context.Background(), "missing@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("expected nil for missing account")
	}
}

func TestSQLiteBackend_Put_Upsert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	s.Put(ctx, Record{AccountID: "k1", Artifact: Artifact(`["v1"]`), UpdatedAt: 1})
	s.Put(ctx, Record{AccountID: "k1", Artifact: Artifact(`["v2"]`), UpdatedAt: 2}) // Update.

	rec, _ := s.Get(ctx, "k1")
	if string(rec.Artifact) != `["v2"]` {
		t.Errorf("Artifact = %q, want [\"v2\"]", string(rec.Artifact))
	}
	if rec.UpdatedAt != 2 {
		t.Errorf("UpdatedAt = %d, want 2", rec.UpdatedAt)
	}

	st, _ := s.Stats(ctx)
	if st.EntryCount != 1 {
		t.Errorf("EntryCount = %d, want 1", st.EntryCount)
	}
}

func TestSQLiteBackend_Delete_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	// Should not error on missing account.
	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteBackend_DeleteOlderThan(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	s.Put(ctx, Record{AccountID: "old", Artifact: Artifact(`[]`), UpdatedAt: 100})
	s.Put(ctx, Record{AccountID: "edge", Artifact: Artifact(`[]`), UpdatedAt: 200})
	s.Put(ctx, Record{AccountID: "new", Artifact: Artifact(`[]`), UpdatedAt: 300})

	n, err := s.DeleteOlderThan(ctx, 200)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}

	entries, _ := s.List(ctx)
	if len(entries) != 2 {
		t.Fatalf("List = %d, want 2", len(entries))
	}
	if entries[0].AccountID != "new" || entries[1].AccountID != "edge" {
		t.Errorf("List = %v", entries)
	}
}

func TestSQLiteBackend_List_Empty(t *testing.T) {
	s := newTestSQLite(t)

	entries, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("List = %v, want empty non-nil", entries)
	}
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), SQLiteFileName)
	ctx := context.Background()

	s, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, Record{AccountID: "persist@example.com", Artifact: Artifact(`[1,2]`), UpdatedAt: 42}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file: %v", err)
	}

	s, err = NewSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	rec, err := s.Get(ctx, "persist@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || string(rec.Artifact) != `[1,2]` || rec.UpdatedAt != 42 {
		t.Errorf("rec = %+v", rec)
	}
}

func TestSQLiteBackend_TwoHandlesShareFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), SQLiteFileName)
	ctx := context.Background()

	a, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.Put(ctx, Record{AccountID: "shared", Artifact: Artifact(`["a"]`), UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	rec, err := b.Get(ctx, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("write from one handle not visible to the other")
	}
}

func TestSQLiteBackend_CloseIdempotent(t *testing.T) {
	s, err := NewSQLiteBackend(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := s.Get(context.Background(), "x"); err != ErrClosed {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
}
