package hub

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mathduel/internal/broadcast"
	"mathduel/internal/game"
	"mathduel/pkg/types"
)

// Conn is the slice of the websocket connection the hub needs: a
// broadcast channel plus the identity and room bookkeeping resolved at
// handshake time.
type Conn interface {
	ID() string
	Send(env *types.Envelope) error
	ParticipantKey() string
	SessionID() string
	SetSessionID(sessionID string)
}

// SessionStore is the session mutation surface the hub drives.
type SessionStore interface {
	Join(id, participantKey, displayName string) (*types.Session, error)
	Leave(id, participantKey string) (*types.Session, error)
	MarkDisconnected(id, participantKey string) (*types.Session, error)
	RecordAction(id, participantKey string, chosenValue int) (*game.ActionResult, error)
	Get(id string) (*types.Session, error)
}

// Countdown starts and cancels lobby countdowns.
type Countdown interface {
	StartCountdown(sessionID string, fromSeconds int) error
	Cancel(sessionID string)
}

// Rooms is the membership surface of the broadcaster.
type Rooms interface {
	Join(ch broadcast.Channel, sessionID string) error
	Leave(ch broadcast.Channel, sessionID string)
}

// Hub decodes client events and routes them to the store, countdown
// scheduler, and broadcaster. Rejections and errors go back to the
// initiating channel only; accepted mutations reach the room through
// the store's own publish path.
type Hub struct {
	store     SessionStore
	countdown Countdown
	rooms     Rooms
	logger    *zap.Logger
}

func NewHub(store SessionStore, countdown Countdown, rooms Rooms, logger *zap.Logger) *Hub {
	return &Hub{
		store:     store,
		countdown: countdown,
		rooms:     rooms,
		logger:    logger,
	}
}

// HandleMessage processes one raw client frame.
func (h *Hub) HandleMessage(ch Conn, raw []byte) {
	var ev types.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.sendError(ch, "", "malformed event")
		return
	}

	if !types.IsValidSessionID(ev.SessionID) {
		h.sendError(ch, ev.SessionID, "invalid session id")
		return
	}

	switch ev.Name {
	case types.EventJoinSession:
		h.handleJoin(ch, &ev)
	case types.EventSubmitAction:
		h.handleSubmit(ch, &ev)
	case types.EventRequestCountdown:
		h.handleCountdown(ch, &ev)
	case types.EventRequestState:
		h.handleState(ch, &ev)
	case types.EventLeaveSession:
		h.handleLeave(ch, &ev)
	default:
		h.sendError(ch, ev.SessionID, "unknown event: "+ev.Name)
	}
}

// handleJoin enters the room before mutating the store, so the joining
// channel receives its own participant_joined broadcast and everything
// after it.
func (h *Hub) handleJoin(ch Conn, ev *types.Event) {
	key := ch.ParticipantKey()
	if key == "" {
		h.sendError(ch, ev.SessionID, "connection has no resolved identity")
		return
	}

	if prev := ch.SessionID(); prev != "" && prev != ev.SessionID {
		h.rooms.Leave(ch, prev)
		snap, err := h.store.Leave(prev, key)
		if err != nil {
			h.logger.Debug("leave of previous session failed",
				zap.String("session_id", prev),
				zap.String("participant", key),
				zap.Error(err))
		} else if len(snap.Participants) == 0 {
			h.countdown.Cancel(prev)
		}
	}

	if err := h.rooms.Join(ch, ev.SessionID); err != nil {
		h.sendError(ch, ev.SessionID, "failed to join session room")
		return
	}
	ch.SetSessionID(ev.SessionID)

	if _, err := h.store.Join(ev.SessionID, key, ev.DisplayName); err != nil {
		h.rooms.Leave(ch, ev.SessionID)
		ch.SetSessionID("")
		h.reject(ch, ev.SessionID, err)
		return
	}
}

func (h *Hub) handleSubmit(ch Conn, ev *types.Event) {
	key := ch.ParticipantKey()
	result, err := h.store.RecordAction(ev.SessionID, key, ev.ChosenValue)
	if err != nil {
		h.reject(ch, ev.SessionID, err)
		return
	}
	h.logger.Debug("action recorded",
		zap.String("session_id", ev.SessionID),
		zap.String("participant", key),
		zap.Bool("correct", result.Correct))
}

func (h *Hub) handleCountdown(ch Conn, ev *types.Event) {
	if err := h.countdown.StartCountdown(ev.SessionID, ev.FromSeconds); err != nil {
		h.reject(ch, ev.SessionID, err)
	}
}

// handleState answers the asking channel directly with a fresh
// snapshot. Reconciling clients use this to replace stale local state.
func (h *Hub) handleState(ch Conn, ev *types.Event) {
	snap, err := h.store.Get(ev.SessionID)
	if err != nil {
		h.reject(ch, ev.SessionID, err)
		return
	}
	h.send(ch, ev.SessionID, types.EventSessionState, types.StatePayload{Session: snap})
}

func (h *Hub) handleLeave(ch Conn, ev *types.Event) {
	key := ch.ParticipantKey()
	snap, err := h.store.Leave(ev.SessionID, key)
	if err != nil {
		h.reject(ch, ev.SessionID, err)
		return
	}
	h.rooms.Leave(ch, ev.SessionID)
	if ch.SessionID() == ev.SessionID {
		ch.SetSessionID("")
	}
	// A countdown has nobody left to start for.
	if len(snap.Participants) == 0 {
		h.countdown.Cancel(ev.SessionID)
	}
}

// HandleDisconnect cleans up after a dropped transport. The participant
// stays in the rotation flagged disconnected, so a reconnect-rejoin
// keeps score and streak.
func (h *Hub) HandleDisconnect(ch Conn) {
	sid := ch.SessionID()
	if sid == "" {
		return
	}
	h.rooms.Leave(ch, sid)
	if key := ch.ParticipantKey(); key != "" {
		if _, err := h.store.MarkDisconnected(sid, key); err != nil {
			h.logger.Debug("disconnect cleanup failed",
				zap.String("session_id", sid),
				zap.String("participant", key),
				zap.Error(err))
		}
	}
}

func (h *Hub) reject(ch Conn, sessionID string, err error) {
	h.logger.Debug("action rejected",
		zap.String("session_id", sessionID),
		zap.String("participant", ch.ParticipantKey()),
		zap.Error(err))
	h.send(ch, sessionID, types.EventActionRejected,
		types.RejectedPayload{Reason: types.RejectReason(err)})
}

func (h *Hub) sendError(ch Conn, sessionID, msg string) {
	h.send(ch, sessionID, types.EventError, types.ErrorPayload{Message: msg})
}

func (h *Hub) send(ch Conn, sessionID, event string, payload interface{}) {
	env := &types.Envelope{
		Event:     event,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := ch.Send(env); err != nil {
		h.logger.Warn("direct send failed",
			zap.String("channel", ch.ID()),
			zap.String("event", event),
			zap.Error(err))
	}
}
