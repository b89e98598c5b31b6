package game

import (
	"mathduel/pkg/types"
)

// ActionKind classifies a requested mutation for validation purposes.
type ActionKind int

const (
	// ActionSubmit is an in-game move; requires an active session and
	// turn ownership.
	ActionSubmit ActionKind = iota
	// ActionJoin and ActionLeave are membership changes; allowed in any
	// non-completed status.
	ActionJoin
	ActionLeave
)

// Validate is the pure accept/reject decision applied before any
// mutation. Rules, in order: session status, participant membership,
// turn ownership. Turn ownership is determined purely by position in
// the participant sequence, never by client-claimed identity.
func Validate(s *types.Session, participantKey string, kind ActionKind) error {
	if s == nil {
		return types.ErrSessionNotFound
	}

	switch kind {
	case ActionJoin, ActionLeave:
		if s.Status == types.StatusCompleted {
			return types.ErrSessionNotActive
		}
		return nil
	}

	if s.Status != types.StatusActive {
		return types.ErrSessionNotActive
	}

	idx := s.ParticipantIndex(participantKey)
	if idx < 0 {
		return types.ErrUnknownParticipant
	}

	if idx != s.TurnIndex {
		return types.ErrNotYourTurn
	}

	return nil
}
