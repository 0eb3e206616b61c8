package session

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned unexpected error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	history := testHistory()
	meta := Metadata{CycleCount: 12, Cluster: "staging", Extra: map[string]any{"region": "eu-west-1"}}

	if err := store.Save(ctx, "sess_sql", history, meta); err != nil {
		t.Fatalf("Save returned unexpected error: %v", err)
	}

	doc, err := store.Load(ctx, "sess_sql")
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	if doc == nil {
		t.Fatal("Load returned nil for a saved session")
	}
	if !reflect.DeepEqual(doc.History, history) {
		t.Errorf("History = %+v, want %+v", doc.History, history)
	}
	if doc.Meta.CycleCount != 12 {
		t.Errorf("Meta.CycleCount = %d, want 12", doc.Meta.CycleCount)
	}
	if got := doc.Meta.Extra["region"]; got != "eu-west-1" {
		t.Errorf("Meta.Extra[region] = %v, want eu-west-1", got)
	}
}

func TestSQLiteStoreUpsertAndDelete(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "sess_x", []Message{{Role: RoleUser, Content: "v1"}}, Metadata{}); err != nil {
		t.Fatalf("first Save returned unexpected error: %v", err)
	}
	if err := store.Save(ctx, "sess_x", []Message{{Role: RoleUser, Content: "v2"}}, Metadata{}); err != nil {
		t.Fatalf("second Save returned unexpected error: %v", err)
	}

	doc, err := store.Load(ctx, "sess_x")
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	if doc.History[0].Content != "v2" {
		t.Errorf("History[0].Content = %q, want %q", doc.History[0].Content, "v2")
	}

	removed, err := store.Delete(ctx, "sess_x")
	if err != nil || !removed {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", removed, err)
	}
	if doc, _ := store.Load(ctx, "sess_x"); doc != nil {
		t.Error("Load after Delete returned a document, want nil")
	}
	removed, err = store.Delete(ctx, "sess_x")
	if err != nil || removed {
		t.Errorf("Delete of missing session = (%v, %v), want (false, nil)", removed, err)
	}
}

func TestSQLiteStoreList(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List on empty store returned unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("List on empty store = %v, want none", ids)
	}

	for _, id := range []string{"sess_c", "sess_a", "sess_b"} {
		if err := store.Save(ctx, id, testHistory(), Metadata{}); err != nil {
			t.Fatalf("Save(%s) returned unexpected error: %v", id, err)
		}
	}

	ids, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List returned unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"sess_a", "sess_b", "sess_c"}) {
		t.Errorf("List = %v, want sorted ids", ids)
	}
}
