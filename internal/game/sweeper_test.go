package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"mathduel/pkg/types"
)

type fakeArchiver struct {
	mu       sync.Mutex
	archived []string
	err      error
}

func (f *fakeArchiver) ArchiveSession(_ context.Context, s *types.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.archived = append(f.archived, s.ID)
	return nil
}

func (f *fakeArchiver) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.archived...)
}

func TestSweepArchivesEvictedSessions(t *testing.T) {
	store, _, clock := newTestStore(t)
	archiver := &fakeArchiver{}

	sweeper, err := NewSweeper(store, archiver, time.Minute, "@every 1h", zap.NewNop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	store.Join("done", "alice", "Alice")
	store.End("done")
	store.CreateOrGet("idle")
	clock.Advance(2 * time.Minute)

	sweeper.sweep()

	ids := archiver.ids()
	if len(ids) != 2 {
		t.Fatalf("archived %v, want done and idle", ids)
	}
	if _, err := store.Get("done"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatal("swept session still live")
	}
}

func TestSweepWithNothingToEvict(t *testing.T) {
	store, _, _ := newTestStore(t)
	archiver := &fakeArchiver{}

	sweeper, err := NewSweeper(store, archiver, time.Minute, "@every 1h", zap.NewNop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	store.Join("busy", "alice", "Alice")
	sweeper.sweep()

	if len(archiver.ids()) != 0 {
		t.Fatalf("archived %v, want none", archiver.ids())
	}
}

func TestSweepSurvivesArchiverFailure(t *testing.T) {
	store, _, _ := newTestStore(t)
	archiver := &fakeArchiver{err: errors.New("disk full")}

	sweeper, err := NewSweeper(store, archiver, time.Minute, "@every 1h", zap.NewNop())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	store.Join("done", "alice", "Alice")
	store.End("done")
	sweeper.sweep()
}

func TestNewSweeperRejectsBadSpec(t *testing.T) {
	store, _, _ := newTestStore(t)
	if _, err := NewSweeper(store, &fakeArchiver{}, time.Minute, "not a spec", zap.NewNop()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}
