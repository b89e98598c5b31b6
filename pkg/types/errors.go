package types

import "errors"

// Error taxonomy for the session engine. All of these are recoverable
// and participant-local: they go back to the initiating channel only
// and never terminate the session.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionNotActive   = errors.New("session is not active")
	ErrUnknownParticipant = errors.New("participant not in session")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrAlreadyActive      = errors.New("session already active")
	ErrAlreadyCounting    = errors.New("countdown already running")
)

// Rejection reason strings carried in action_rejected payloads.
const (
	ReasonSessionNotFound    = "SessionNotFound"
	ReasonSessionNotActive   = "SessionNotActive"
	ReasonUnknownParticipant = "UnknownParticipant"
	ReasonNotYourTurn        = "NotYourTurn"
	ReasonAlreadyActive      = "AlreadyActive"
	ReasonAlreadyCounting    = "AlreadyCounting"
)

// RejectReason maps a taxonomy error to its wire reason. Unrecognized
// errors map to SessionNotFound so malformed requests never crash the
// session.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotActive):
		return ReasonSessionNotActive
	case errors.Is(err, ErrUnknownParticipant):
		return ReasonUnknownParticipant
	case errors.Is(err, ErrNotYourTurn):
		return ReasonNotYourTurn
	case errors.Is(err, ErrAlreadyActive):
		return ReasonAlreadyActive
	case errors.Is(err, ErrAlreadyCounting):
		return ReasonAlreadyCounting
	default:
		return ReasonSessionNotFound
	}
}
