package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSchemaVersion(t *testing.T) {
	store := newTestStore(t)
	v, err := store.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != currentSchemaVersion {
		t.Errorf("version = %d, want %d", v, currentSchemaVersion)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveAndPruneAudit(&AuditEntry{Kind: "terminal.start", Detail: "/bin/sh"}, 0); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	n, err := store.CountAudit()
	if err != nil || n != 1 {
		t.Errorf("CountAudit = %d, %v", n, err)
	}
}

func TestSaveAndListAudit(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []*AuditEntry{
		{Kind: "viewer.connect", ConnID: "v1", RemoteAddr: "10.0.0.2:5000", At: base},
		{Kind: "terminal.start", ConnID: "t1", Detail: "/bin/bash pid=42", At: base.Add(time.Second)},
		{Kind: "viewer.disconnect", ConnID: "v1", At: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := store.SaveAndPruneAudit(e, 0); err != nil {
			t.Fatalf("SaveAndPruneAudit: %v", err)
		}
		if e.ID == 0 {
			t.Error("ID not assigned")
		}
	}

	got, err := store.ListAudit(AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Kind != "viewer.disconnect" || got[2].Kind != "viewer.connect" {
		t.Errorf("order = %s, %s, %s", got[0].Kind, got[1].Kind, got[2].Kind)
	}
	if !got[1].At.Equal(base.Add(time.Second)) || got[1].Detail != "/bin/bash pid=42" {
		t.Errorf("entry = %+v", got[1])
	}

	got, _ = store.ListAudit(AuditFilter{Kind: "terminal.start"})
	if len(got) != 1 || got[0].ConnID != "t1" {
		t.Errorf("kind filter = %+v", got)
	}

	got, _ = store.ListAudit(AuditFilter{Limit: 2})
	if len(got) != 2 {
		t.Errorf("limit = %d entries", len(got))
	}
}

func TestSaveAuditPrunes(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 10; i++ {
		if err := store.SaveAndPruneAudit(&AuditEntry{Kind: "gateway.notify"}, 4); err != nil {
			t.Fatal(err)
		}
	}
	n, _ := store.CountAudit()
	if n != 4 {
		t.Errorf("CountAudit = %d, want 4", n)
	}
}

func TestSaveAuditRejectsEmpty(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveAndPruneAudit(nil, 0); err == nil {
		t.Error("nil entry accepted")
	}
	if err := store.SaveAndPruneAudit(&AuditEntry{}, 0); err == nil {
		t.Error("entry without kind accepted")
	}
}

func TestMemoryStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.SaveAndPruneAudit(&AuditEntry{Kind: "gateway.upload"}, 0); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountAudit(); n != 1 {
		t.Errorf("CountAudit = %d", n)
	}
}
