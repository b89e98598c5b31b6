package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"mathduel/pkg/types"
)

// PointsPerCorrectAnswer is awarded for each correctly answered
// challenge.
const PointsPerCorrectAnswer = 10

// Publisher is the fan-out the store hands accepted state changes to.
// Implemented by the broadcaster; delivery is best-effort.
type Publisher interface {
	Publish(sessionID, event string, payload interface{})
}

// ActionResult is the outcome of an accepted RecordAction call.
// Rejections are reported as taxonomy errors instead and leave the
// session untouched.
type ActionResult struct {
	Correct  bool
	Fallback bool
	Session  *types.Session
}

// Store is the authoritative registry of active sessions. Each session
// entry carries its own mutex: all mutations for one session id apply
// one at a time, and the resulting broadcast happens inside the same
// critical section so clients observe versions in mutation order.
// Different sessions proceed fully in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	gen    *Generator
	clock  clockwork.Clock
	pub    Publisher
	logger *zap.Logger
}

type entry struct {
	mu         sync.Mutex
	session    *types.Session
	emptySince time.Time // zero while the session has participants
	removed    bool      // set under mu when evicted from the registry
}

// NewStore creates a session store. pub may be nil in unit tests that
// only exercise mutation logic.
func NewStore(gen *Generator, clock clockwork.Clock, pub Publisher, logger *zap.Logger) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		gen:      gen,
		clock:    clock,
		pub:      pub,
		logger:   logger,
	}
}

// publish fans out an event while the caller still holds the session's
// entry lock, preserving per-session delivery order.
func (s *Store) publish(sessionID, event string, payload interface{}) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(sessionID, event, payload)
}

// lookup returns the entry for id, or nil.
func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// acquire returns the entry for id with its mutex held, or nil. An
// entry evicted between the registry read and the lock acquisition is
// retried, so a caller never mutates a session the registry no longer
// reaches.
func (s *Store) acquire(id string) *entry {
	for {
		e := s.lookup(id)
		if e == nil {
			return nil
		}
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// acquireOrCreate is acquire with create-when-absent semantics.
func (s *Store) acquireOrCreate(id string) *entry {
	for {
		e := s.ensure(id)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// CreateOrGet returns the session for id, creating it in the waiting
// state when absent. Idempotent.
func (s *Store) CreateOrGet(id string) *types.Session {
	e := s.acquireOrCreate(id)
	defer e.mu.Unlock()
	return e.session.Clone()
}

func (s *Store) ensure(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e
	}
	e := &entry{
		session: &types.Session{
			ID:        id,
			Status:    types.StatusWaiting,
			TurnIndex: 0,
			CreatedAt: s.clock.Now(),
		},
		emptySince: s.clock.Now(),
	}
	s.sessions[id] = e
	s.logger.Info("session created", zap.String("session_id", id))
	return e
}

// Join appends a participant in arrival order (arrival order = turn
// order). A session is created on the first join for an unknown id.
// Joining with a key already present is a no-op returning current
// state, so reconnects can replay the same join safely.
func (s *Store) Join(id, participantKey, displayName string) (*types.Session, error) {
	e := s.acquireOrCreate(id)
	defer e.mu.Unlock()

	if err := Validate(e.session, participantKey, ActionJoin); err != nil {
		return nil, err
	}

	if idx := e.session.ParticipantIndex(participantKey); idx >= 0 {
		// Reconnect-rejoin: same key, retained score and streak. The
		// version moves only when the snapshot observably changes.
		p := e.session.Participants[idx]
		changed := false
		if !p.Connected {
			p.Connected = true
			changed = true
		}
		if displayName != "" && displayName != p.DisplayName {
			p.DisplayName = displayName
			changed = true
		}
		if changed {
			e.session.Version++
		}
		snap := e.session.Clone()
		s.publish(id, types.EventSessionState, types.StatePayload{Session: snap})
		return snap, nil
	}

	p := &types.Participant{
		Key:         participantKey,
		DisplayName: displayName,
		Connected:   true,
	}
	e.session.Participants = append(e.session.Participants, p)
	e.session.Version++
	e.emptySince = time.Time{}

	snap := e.session.Clone()
	s.logger.Info("participant joined",
		zap.String("session_id", id),
		zap.String("participant", participantKey),
		zap.Int("participants", len(snap.Participants)))

	s.publish(id, types.EventParticipantJoined, types.JoinedPayload{
		Participant:  snap.Participants[len(snap.Participants)-1],
		Participants: snap.Participants,
	})
	s.publish(id, types.EventSessionState, types.StatePayload{Session: snap})
	return snap, nil
}

// Leave removes the participant. When the removed index precedes the
// current turn index the index is decremented so it keeps pointing at
// the same logical next player; an emptied session becomes
// eviction-eligible.
func (s *Store) Leave(id, participantKey string) (*types.Session, error) {
	e := s.acquire(id)
	if e == nil {
		return nil, types.ErrSessionNotFound
	}
	defer e.mu.Unlock()

	if err := Validate(e.session, participantKey, ActionLeave); err != nil {
		return nil, err
	}

	idx := e.session.ParticipantIndex(participantKey)
	if idx < 0 {
		return nil, types.ErrUnknownParticipant
	}

	e.session.Participants = append(e.session.Participants[:idx], e.session.Participants[idx+1:]...)
	if idx < e.session.TurnIndex {
		e.session.TurnIndex--
	}
	if n := len(e.session.Participants); n > 0 {
		e.session.TurnIndex %= n
	} else {
		e.session.TurnIndex = 0
		e.emptySince = s.clock.Now()
	}
	e.session.Version++

	snap := e.session.Clone()
	s.logger.Info("participant left",
		zap.String("session_id", id),
		zap.String("participant", participantKey),
		zap.Int("participants", len(snap.Participants)))

	s.publish(id, types.EventParticipantLeft, types.LeftPayload{ParticipantKey: participantKey})
	s.publish(id, types.EventSessionState, types.StatePayload{Session: snap})
	return snap, nil
}

// MarkDisconnected flags a participant's connection state without
// removing them from the rotation, so score and streak survive a
// reconnect-rejoin within the same session lifetime.
func (s *Store) MarkDisconnected(id, participantKey string) (*types.Session, error) {
	e := s.acquire(id)
	if e == nil {
		return nil, types.ErrSessionNotFound
	}
	defer e.mu.Unlock()

	idx := e.session.ParticipantIndex(participantKey)
	if idx < 0 {
		return nil, types.ErrUnknownParticipant
	}
	if !e.session.Participants[idx].Connected {
		return e.session.Clone(), nil
	}
	e.session.Participants[idx].Connected = false
	e.session.Version++

	snap := e.session.Clone()
	s.publish(id, types.EventSessionState, types.StatePayload{Session: snap})
	return snap, nil
}

// RecordAction scores a move against the current challenge. Acceptance
// is decided by Validate before any mutation; a rejection returns a
// taxonomy error and is side-effect-free no matter how often it is
// replayed.
func (s *Store) RecordAction(id, participantKey string, chosenValue int) (*ActionResult, error) {
	e := s.acquire(id)
	if e == nil {
		return nil, types.ErrSessionNotFound
	}
	defer e.mu.Unlock()

	if err := Validate(e.session, participantKey, ActionSubmit); err != nil {
		return nil, err
	}

	sess := e.session
	p := sess.Participants[sess.TurnIndex]
	correct := sess.Challenge != nil && sess.Challenge.Check(chosenValue)

	if correct {
		p.Score += PointsPerCorrectAnswer
		p.Streak++
		sess.Stats.CorrectAnswers++
		if p.Streak > sess.Stats.BestStreak {
			sess.Stats.BestStreak = p.Streak
		}
	} else {
		p.Streak = 0
	}
	sess.Stats.TotalMoves++
	sess.TurnIndex = (sess.TurnIndex + 1) % len(sess.Participants)

	next := s.gen.Next()
	ch := next.Challenge
	sess.Challenge = &ch
	sess.Version++

	if next.Fallback {
		s.logger.Warn("challenge generator exhausted retries, using fallback",
			zap.String("session_id", id))
	}

	snap := sess.Clone()
	s.publish(id, types.EventStateUpdated, types.StatePayload{Session: snap})
	return &ActionResult{Correct: correct, Fallback: next.Fallback, Session: snap}, nil
}

// MarkStarting transitions waiting -> starting while a lobby countdown
// runs. Countdown cancellation returns the session to waiting.
func (s *Store) MarkStarting(id string) (*types.Session, error) {
	e := s.acquire(id)
	if e == nil {
		return nil, types.ErrSessionNotFound
	}
	defer e.mu.Unlock()

	switch e.session.Status {
	case types.StatusWaiting:
		e.session.Status = types.StatusStarting
		e.session.Version++
	case types.StatusStarting:
		// already counting down, nothing to do
	default:
		return nil, types.ErrAlreadyActive
	}
	return e.session.Clone(), nil
}

// MarkWaiting undoes MarkStarting after a cancelled countdown.
func (s *Store) MarkWaiting(id string) (*types.Session, error) {
	e := s.acquire(id)
	if e == nil {
		return nil, types.ErrSessionNotFound
	}
	defer e.mu.Unlock()

	if e.session.Status == types.StatusStarting {
		e.session.Status = types.StatusWaiting
		e.session.Version++
	}
	return e.session.Clone(), nil
}

// Start transitions waiting/starting -> active, stamps StartedAt and
// generates the first challenge.
func (s *Store) Start(id string) (*types.Session, error) {
	e := s.acquire(id)
	if e == nil {
		return nil, types.ErrSessionNotFound
	}
	defer e.mu.Unlock()

	switch e.session.Status {
	case types.StatusWaiting, types.StatusStarting:
	default:
		return nil, types.ErrAlreadyActive
	}

	now := s.clock.Now()
	e.session.Status = types.StatusActive
	e.session.StartedAt = &now
	first := s.gen.Next()
	ch := first.Challenge
	e.session.Challenge = &ch
	e.session.Version++

	snap := e.session.Clone()
	s.logger.Info("session started",
		zap.String("session_id", id),
		zap.Int("participants", len(snap.Participants)))

	s.publish(id, types.EventSessionState, types.StatePayload{Session: snap})
	return snap, nil
}

// End transitions to completed and stamps EndedAt. Idempotent.
func (s *Store) End(id string) (*types.Session, error) {
	e := s.acquire(id)
	if e == nil {
		return nil, types.ErrSessionNotFound
	}
	defer e.mu.Unlock()

	if e.session.Status != types.StatusCompleted {
		now := s.clock.Now()
		e.session.Status = types.StatusCompleted
		e.session.EndedAt = &now
		e.session.Version++
		snap := e.session.Clone()
		s.logger.Info("session ended", zap.String("session_id", id))
		s.publish(id, types.EventSessionState, types.StatePayload{Session: snap})
		return snap, nil
	}
	return e.session.Clone(), nil
}

// Get serves a consistent snapshot for diagnostics and listing without
// entering the mutation path for longer than a clone.
func (s *Store) Get(id string) (*types.Session, error) {
	e := s.acquire(id)
	if e == nil {
		return nil, types.ErrSessionNotFound
	}
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// List snapshots every live session.
func (s *Store) List() []*types.Session {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*types.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// CollectExpired removes and returns sessions that have been empty
// longer than grace, plus completed sessions. The sweeper archives the
// returned snapshots.
func (s *Store) CollectExpired(grace time.Duration) []*types.Session {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []*types.Session
	for id, e := range s.sessions {
		e.mu.Lock()
		empty := len(e.session.Participants) == 0 &&
			!e.emptySince.IsZero() &&
			now.Sub(e.emptySince) > grace
		completed := e.session.Status == types.StatusCompleted
		if empty || completed {
			e.removed = true
			evicted = append(evicted, e.session.Clone())
			delete(s.sessions, id)
			s.logger.Info("session evicted",
				zap.String("session_id", id),
				zap.Bool("completed", completed))
		}
		e.mu.Unlock()
	}
	return evicted
}
