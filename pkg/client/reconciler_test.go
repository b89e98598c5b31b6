package client

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mathduel/pkg/types"
)

func snapshot(id string, version uint64) *types.Session {
	return &types.Session{
		ID:      id,
		Status:  types.StatusActive,
		Version: version,
		Participants: []*types.Participant{
			{Key: "alice", Score: 10},
		},
	}
}

func TestRestoreReturnsCachedState(t *testing.T) {
	store := NewMemoryCacheStore()
	store.Save(&CachedState{
		SessionID:      "game1",
		ParticipantKey: "alice",
		Session:        snapshot("game1", 3),
	})

	r := NewReconciler(store)
	cached, err := r.Restore("game1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if cached.ParticipantKey != "alice" {
		t.Fatalf("cached = %+v", cached)
	}
	if cur := r.Current(); cur == nil || cur.Version != 3 {
		t.Fatalf("current = %+v", cur)
	}
}

func TestRestoreMissingCache(t *testing.T) {
	r := NewReconciler(NewMemoryCacheStore())
	if _, err := r.Restore("game1"); !errors.Is(err, ErrNoCachedState) {
		t.Fatalf("err = %v, want ErrNoCachedState", err)
	}
}

func TestRestoreDiscardsMismatchedSessionID(t *testing.T) {
	store := NewMemoryCacheStore()
	// A cache row filed under game1 but recorded for game2 is stale.
	store.entries["game1"] = CachedState{SessionID: "game2", ParticipantKey: "alice"}

	r := NewReconciler(store)
	if _, err := r.Restore("game1"); !errors.Is(err, ErrNoCachedState) {
		t.Fatalf("err = %v, want ErrNoCachedState", err)
	}
	if _, ok := store.entries["game1"]; ok {
		t.Fatal("mismatched cache entry not cleared")
	}
}

func TestApplyAuthoritativeMovesForwardOnly(t *testing.T) {
	r := NewReconciler(NewMemoryCacheStore())

	if !r.ApplyAuthoritative(snapshot("game1", 5)) {
		t.Fatal("initial snapshot rejected")
	}
	if r.ApplyAuthoritative(snapshot("game1", 3)) {
		t.Fatal("older snapshot applied")
	}
	if cur := r.Current(); cur.Version != 5 {
		t.Fatalf("version = %d, want 5", cur.Version)
	}
	if !r.ApplyAuthoritative(snapshot("game1", 6)) {
		t.Fatal("newer snapshot rejected")
	}
}

func TestApplyAuthoritativePersists(t *testing.T) {
	store := NewMemoryCacheStore()
	r := NewReconciler(store)
	r.ApplyAuthoritative(snapshot("game1", 1))

	cached, err := store.Load("game1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cached.Session == nil || cached.Session.Version != 1 {
		t.Fatalf("cached = %+v", cached)
	}
}

func TestApplyOptimisticDoesNotMutateView(t *testing.T) {
	r := NewReconciler(NewMemoryCacheStore())
	r.ApplyAuthoritative(snapshot("game1", 1))

	guess := r.ApplyOptimistic(func(s *types.Session) {
		s.Participants[0].Score += 10
	})
	if guess.Participants[0].Score != 20 {
		t.Fatalf("guess score = %d, want 20", guess.Participants[0].Score)
	}
	if cur := r.Current(); cur.Participants[0].Score != 10 {
		t.Fatalf("optimistic apply leaked into the view: %d", cur.Participants[0].Score)
	}
	if cur := r.Current(); cur.Version != 1 {
		t.Fatal("optimistic apply changed the version")
	}
}

func TestApplyOptimisticWithoutView(t *testing.T) {
	r := NewReconciler(NewMemoryCacheStore())
	if guess := r.ApplyOptimistic(func(*types.Session) {}); guess != nil {
		t.Fatal("expected nil guess with no view")
	}
}

func TestRememberIdentity(t *testing.T) {
	store := NewMemoryCacheStore()
	r := NewReconciler(store)

	if err := r.RememberIdentity("game1", "alice", "tsid-1"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	key, tsid := r.Identity()
	if key != "alice" || tsid != "tsid-1" {
		t.Fatalf("identity = %q, %q", key, tsid)
	}

	// An empty transport id keeps the previous one.
	r.RememberIdentity("game1", "alice", "")
	if _, tsid := r.Identity(); tsid != "tsid-1" {
		t.Fatalf("transport id = %q, want tsid-1", tsid)
	}

	fresh := NewReconciler(store)
	if _, err := fresh.Restore("game1"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if key, _ := fresh.Identity(); key != "alice" {
		t.Fatalf("restored key = %q", key)
	}
}

func TestFileCacheStoreRoundTrip(t *testing.T) {
	store, err := NewFileCacheStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	want := &CachedState{
		SessionID:          "game1",
		ParticipantKey:     "alice",
		TransportSessionID: "tsid-1",
		Session:            snapshot("game1", 4),
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load("game1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ParticipantKey != "alice" || got.Session.Version != 4 {
		t.Fatalf("got %+v", got)
	}

	if err := store.Clear("game1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Load("game1"); !errors.Is(err, ErrNoCachedState) {
		t.Fatalf("load after clear = %v, want ErrNoCachedState", err)
	}
}

func TestFileCacheStoreDiscardsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileCacheStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	path := filepath.Join(dir, "game1.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Load("game1"); !errors.Is(err, ErrNoCachedState) {
		t.Fatalf("load = %v, want ErrNoCachedState", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt cache file not removed")
	}
}

func TestFileCacheStoreRejectsInvalidSessionID(t *testing.T) {
	store, err := NewFileCacheStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Load("../escape"); !errors.Is(err, ErrNoCachedState) {
		t.Fatalf("load = %v, want ErrNoCachedState", err)
	}
	if err := store.Save(&CachedState{SessionID: "../escape"}); err == nil {
		t.Fatal("save accepted invalid session id")
	}
}
