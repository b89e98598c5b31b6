package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mathduel/pkg/types"
)

// ErrNoCachedState is returned when nothing usable is cached for a
// session id.
var ErrNoCachedState = errors.New("no cached state for session")

// CachedState is what a client persists locally between connections:
// its identity for the session plus the last known snapshot. The
// snapshot is a rendering hint only; the server's copy always wins.
type CachedState struct {
	SessionID          string         `json:"session_id"`
	ParticipantKey     string         `json:"participant_key"`
	TransportSessionID string         `json:"transport_session_id"`
	Session            *types.Session `json:"session,omitempty"`
	SavedAt            time.Time      `json:"saved_at"`
}

// CacheStore persists cached state keyed by session id.
type CacheStore interface {
	Load(sessionID string) (*CachedState, error)
	Save(state *CachedState) error
	Clear(sessionID string) error
}

// Reconciler keeps a client's local view of one session consistent
// with the server. Optimistic local applies are allowed for snappy
// rendering, but every authoritative snapshot replaces the local view
// wholesale; versions only move forward.
type Reconciler struct {
	mu      sync.Mutex
	cache   CacheStore
	current *types.Session
	state   CachedState
}

func NewReconciler(cache CacheStore) *Reconciler {
	return &Reconciler{cache: cache}
}

// Restore loads cached state for sessionID. A cache entry recorded for
// a different session id is stale by definition and is cleared rather
// than returned.
func (r *Reconciler) Restore(sessionID string) (*CachedState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cached, err := r.cache.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if cached.SessionID != sessionID {
		_ = r.cache.Clear(sessionID)
		return nil, ErrNoCachedState
	}

	r.state = *cached
	r.current = cached.Session
	return cached, nil
}

// RememberIdentity records the identity the server issued, persisting
// it for the next reconnect.
func (r *Reconciler) RememberIdentity(sessionID, participantKey, transportSessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.SessionID = sessionID
	r.state.ParticipantKey = participantKey
	if transportSessionID != "" {
		r.state.TransportSessionID = transportSessionID
	}
	return r.persistLocked()
}

// ApplyAuthoritative replaces the local view with a server snapshot.
// Snapshots older than what we already hold are dropped, so a
// reordered push can never roll the view backwards. Returns whether
// the snapshot was applied.
func (r *Reconciler) ApplyAuthoritative(s *types.Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.current.ID == s.ID && s.Version < r.current.Version {
		return false
	}
	r.current = s.Clone()
	r.state.SessionID = s.ID
	r.state.Session = r.current
	_ = r.persistLocked()
	return true
}

// ApplyOptimistic mutates a copy of the local view for immediate
// rendering. The guess is never persisted and never changes the
// version, so the next authoritative snapshot silently corrects it.
func (r *Reconciler) ApplyOptimistic(mutate func(*types.Session)) *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	guess := r.current.Clone()
	mutate(guess)
	return guess
}

// Current returns the latest reconciled view.
func (r *Reconciler) Current() *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Clone()
}

// Identity returns the remembered identity fields.
func (r *Reconciler) Identity() (participantKey, transportSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ParticipantKey, r.state.TransportSessionID
}

func (r *Reconciler) persistLocked() error {
	if r.cache == nil {
		return nil
	}
	st := r.state
	st.SavedAt = time.Now()
	return r.cache.Save(&st)
}

// MemoryCacheStore is the in-process store used in tests and embedded
// clients.
type MemoryCacheStore struct {
	mu      sync.Mutex
	entries map[string]CachedState
}

func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{entries: make(map[string]CachedState)}
}

func (m *MemoryCacheStore) Load(sessionID string) (*CachedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entries[sessionID]
	if !ok {
		return nil, ErrNoCachedState
	}
	out := st
	return &out, nil
}

func (m *MemoryCacheStore) Save(state *CachedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[state.SessionID] = *state
	return nil
}

func (m *MemoryCacheStore) Clear(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

// FileCacheStore persists cached state as one JSON file per session id
// under dir, surviving client restarts.
type FileCacheStore struct {
	dir string
}

func NewFileCacheStore(dir string) (*FileCacheStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCacheStore{dir: dir}, nil
}

func (f *FileCacheStore) path(sessionID string) string {
	return filepath.Join(f.dir, sessionID+".json")
}

func (f *FileCacheStore) Load(sessionID string) (*CachedState, error) {
	if !types.IsValidSessionID(sessionID) {
		return nil, ErrNoCachedState
	}
	data, err := os.ReadFile(f.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCachedState
		}
		return nil, err
	}
	var st CachedState
	if err := json.Unmarshal(data, &st); err != nil {
		// Corrupt cache files are discarded, not surfaced.
		_ = os.Remove(f.path(sessionID))
		return nil, ErrNoCachedState
	}
	return &st, nil
}

func (f *FileCacheStore) Save(state *CachedState) error {
	if !types.IsValidSessionID(state.SessionID) {
		return errors.New("invalid session id")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path(state.SessionID), data, 0o644)
}

func (f *FileCacheStore) Clear(sessionID string) error {
	if !types.IsValidSessionID(sessionID) {
		return nil
	}
	err := os.Remove(f.path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
