package types

import (
	"time"
)

// Session lifecycle statuses.
const (
	StatusWaiting   = "waiting"
	StatusStarting  = "starting"
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Challenge operators as they appear on the wire.
const (
	OpMultiply = "x"
	OpAdd      = "+"
	OpSubtract = "-"
)

// Client -> server event names.
const (
	EventJoinSession      = "join_session"
	EventSubmitAction     = "submit_action"
	EventRequestCountdown = "request_countdown"
	EventRequestState     = "request_state"
	EventLeaveSession     = "leave_session"
)

// Server -> client event names.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventSessionState      = "session_state"
	EventStateUpdated      = "state_updated"
	EventActionRejected    = "action_rejected"
	EventCountdownTick     = "countdown_tick"
	EventSessionStarted    = "session_started"
	EventSessionIssued     = "session_issued"
	EventError             = "error"
)

// Challenge is one arithmetic equation with a hidden right operand.
// Immutable once created; the store replaces it whole after every
// accepted action.
type Challenge struct {
	Left   int    `json:"left"`
	Op     string `json:"operator"`
	Right  string `json:"right"` // always "?" on the wire
	Result int    `json:"result"`
}

// Check reports whether answer is the hidden right operand.
func (c Challenge) Check(answer int) bool {
	switch c.Op {
	case OpMultiply:
		return c.Left*answer == c.Result
	case OpAdd:
		return c.Left+answer == c.Result
	case OpSubtract:
		return c.Left-answer == c.Result
	default:
		return false
	}
}

// Participant is one player's canonical identity and in-game stats
// within a session. Owned exclusively by the containing session.
type Participant struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Streak      int    `json:"streak"`
	Connected   bool   `json:"connected"`
}

// RoundStats aggregates play across all participants of a session.
type RoundStats struct {
	TotalMoves     int `json:"total_moves"`
	CorrectAnswers int `json:"correct_answers"`
	BestStreak     int `json:"best_streak"`
}

// Session is the authoritative server-side state of one game.
// Participant order defines turn rotation; TurnIndex always denotes
// exactly one participant while the session is active.
type Session struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	Participants []*Participant `json:"participants"`
	TurnIndex    int            `json:"turn_index"`
	Challenge    *Challenge     `json:"challenge,omitempty"`
	Stats        RoundStats     `json:"stats"`
	Version      uint64         `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
}

// Clone returns a deep copy safe to hand outside the mutation path.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		cp := *p
		out.Participants[i] = &cp
	}
	if s.Challenge != nil {
		ch := *s.Challenge
		out.Challenge = &ch
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// ParticipantIndex returns the position of key in the turn rotation,
// or -1 when the participant is not present.
func (s *Session) ParticipantIndex(key string) int {
	for i, p := range s.Participants {
		if p.Key == key {
			return i
		}
	}
	return -1
}

// CurrentParticipant returns the participant whose turn it is, or nil
// for an empty session.
func (s *Session) CurrentParticipant() *Participant {
	if len(s.Participants) == 0 {
		return nil
	}
	if s.TurnIndex < 0 || s.TurnIndex >= len(s.Participants) {
		return nil
	}
	return s.Participants[s.TurnIndex]
}

// Event is a client -> server request over a transport channel.
type Event struct {
	Name           string `json:"event"`
	SessionID      string `json:"session_id"`
	ParticipantKey string `json:"participant_key,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
	ChosenValue    int    `json:"chosen_value,omitempty"`
	FromSeconds    int    `json:"from_seconds,omitempty"`
}

// Envelope is a server -> client push. Payload shape depends on Event.
type Envelope struct {
	Event     string      `json:"event"`
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Payloads carried by envelopes.
type StatePayload struct {
	Session *Session `json:"session"`
}

type JoinedPayload struct {
	Participant  *Participant   `json:"participant"`
	Participants []*Participant `json:"participants"`
}

type LeftPayload struct {
	ParticipantKey string `json:"participant_key"`
}

type RejectedPayload struct {
	Reason string `json:"reason"`
}

type TickPayload struct {
	Value int `json:"value"`
}

type IssuedPayload struct {
	TransportSessionID string `json:"transport_session_id"`
	ParticipantKey     string `json:"participant_key"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
