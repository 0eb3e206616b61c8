package monitor

import (
	"context"
	"errors"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/vigilops/vigil/internal/session"
)

// cannedStore serves fixed documents so tests control SavedAt exactly.
// A nil document stands in for a stored blob that no longer parses.
type cannedStore struct {
	docs    map[string]*session.Document
	loadErr map[string]error
	listErr error
	deleted []string
}

func (s *cannedStore) Save(_ context.Context, id string, history []session.Message, meta session.Metadata) error {
	s.docs[id] = &session.Document{SessionID: id, History: history, Meta: meta, SavedAt: time.Now().UTC()}
	return nil
}

func (s *cannedStore) Load(_ context.Context, id string) (*session.Document, error) {
	if err := s.loadErr[id]; err != nil {
		return nil, err
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return doc, nil
}

func (s *cannedStore) Delete(_ context.Context, id string) (bool, error) {
	if _, ok := s.docs[id]; !ok {
		return false, nil
	}
	delete(s.docs, id)
	s.deleted = append(s.deleted, id)
	return true, nil
}

func (s *cannedStore) List(_ context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func docSavedAt(id string, age time.Duration) *session.Document {
	return &session.Document{
		SessionID: id,
		History:   []session.Message{{Role: session.RoleSystem, Content: "anchor"}},
		SavedAt:   time.Now().UTC().Add(-age),
	}
}

func TestCleanupOlderThan(t *testing.T) {
	store := &cannedStore{docs: map[string]*session.Document{
		"sess_corrupt": nil,
		"sess_fresh":   docSavedAt("sess_fresh", 10*time.Minute),
		"sess_live":    docSavedAt("sess_live", 3*time.Hour),
		"sess_old":     docSavedAt("sess_old", 2*time.Hour),
	}}

	removed, err := CleanupOlderThan(context.Background(), store, time.Hour, "sess_live", testLogger())
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}

	want := []string{"sess_corrupt", "sess_old"}
	if !slices.Equal(removed, want) {
		t.Errorf("removed = %v, want %v", removed, want)
	}
	if _, ok := store.docs["sess_fresh"]; !ok {
		t.Error("fresh session was deleted")
	}
	if _, ok := store.docs["sess_live"]; !ok {
		t.Error("live session was deleted despite keep")
	}
}

func TestCleanupKeepsEverythingWithinAge(t *testing.T) {
	store := &cannedStore{docs: map[string]*session.Document{
		"sess_a": docSavedAt("sess_a", time.Minute),
		"sess_b": docSavedAt("sess_b", 30*time.Minute),
	}}

	removed, err := CleanupOlderThan(context.Background(), store, time.Hour, "", testLogger())
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
	if len(store.docs) != 2 {
		t.Errorf("store shrank to %d sessions", len(store.docs))
	}
}

func TestCleanupListErrorPropagates(t *testing.T) {
	store := &cannedStore{listErr: errors.New("backend down")}
	if _, err := CleanupOlderThan(context.Background(), store, time.Hour, "", testLogger()); err == nil {
		t.Fatal("expected error when listing fails")
	}
}

func TestCleanupSkipsSessionsThatFailToLoad(t *testing.T) {
	store := &cannedStore{
		docs: map[string]*session.Document{
			"sess_flaky": docSavedAt("sess_flaky", 2*time.Hour),
			"sess_old":   docSavedAt("sess_old", 2*time.Hour),
		},
		loadErr: map[string]error{"sess_flaky": errors.New("timeout")},
	}

	removed, err := CleanupOlderThan(context.Background(), store, time.Hour, "", testLogger())
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if !slices.Equal(removed, []string{"sess_old"}) {
		t.Errorf("removed = %v, want [sess_old]", removed)
	}
	if _, ok := store.docs["sess_flaky"]; !ok {
		t.Error("session with transient load failure was deleted")
	}
}
