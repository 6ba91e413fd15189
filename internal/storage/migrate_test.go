package storage

import (
	"context"
	"testing"
)

func TestMigrate_FileToSQLite(t *testing.T) {
	ctx := context.Background()
	src := newTestFileBackend(t)
	dst := newTestSQLite(t)

	src.Put(ctx, Record{AccountID: "a@x.com", Artifact: Artifact(`["a"]`), UpdatedAt: 100})
	src.Put(ctx, Record{AccountID: "b@x.com", Artifact: Artifact(`["b"]`), UpdatedAt: 200})

	n, err := Migrate(ctx, dst, src)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("copied = %d, want 2", n)
	}

	rec, _ := dst.Get(ctx, "a@x.com")
	if rec == nil || string(rec.Artifact) != `["a"]` || rec.UpdatedAt != 100 {
		t.Errorf("rec = %+v, want original timestamp kept", rec)
	}
}

func TestMigrate_KeepsNewerDestination(t *testing.T) {
	ctx := context.Background()
	src := newTestSQLite(t)
	dst := newTestFileBackend(t)

	src.Put(ctx, Record{AccountID: "a@x.com", Artifact: Artifact(`["stale"]`), UpdatedAt: 100})
	src.Put(ctx, Record{AccountID: "b@x.com", Artifact: Artifact(`["newer"]`), UpdatedAt: 300})
	dst.Put(ctx, Record{AccountID: "a@x.com", Artifact: Artifact(`["fresh"]`), UpdatedAt: 150})
	dst.Put(ctx, Record{AccountID: "b@x.com", Artifact: Artifact(`["older"]`), UpdatedAt: 250})

	n, err := Migrate(ctx, dst, src)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("copied = %d, want 1", n)
	}

	a, _ := dst.Get(ctx, "a@x.com")
	if string(a.Artifact) != `["fresh"]` {
		t.Errorf("a = %s, destination record overwritten", a.Artifact)
	}
	b, _ := dst.Get(ctx, "b@x.com")
	if string(b.Artifact) != `["newer"]` {
		t.Errorf("b = %s", b.Artifact)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	src := newTestSQLite(t)
	dst := newTestSQLite(t)
	src.Put(ctx, Record{AccountID: "a@x.com", Artifact: Artifact(`[]`), UpdatedAt: 1})

	Migrate(ctx, dst, src)
	n, err := Migrate(ctx, dst, src)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second run copied %d", n)
	}
}

func TestMigrate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newTestSQLite(t)
	dst := newTestSQLite(t)
	src.Put(ctx, Record{AccountID: "a@x.com", Artifact: Artifact(`[]`), UpdatedAt: 1})
	cancel()

	if _, err := Migrate(ctx, dst, src); err == nil {
		t.Error("expected context error")
	}
}
