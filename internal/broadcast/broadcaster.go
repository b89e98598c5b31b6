package broadcast

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"mathduel/pkg/types"
)

var (
	ErrNilChannel       = errors.New("nil channel")
	ErrChannelInRoom    = errors.New("channel already belongs to a room")
	ErrChannelNotInRoom = errors.New("channel is not a member of this room")
)

// Channel is one connected transport the broadcaster can push to.
// Implemented by the websocket connection wrapper; Send must not block
// the caller (the connection's single-writer goroutine drains a
// buffered queue).
type Channel interface {
	ID() string
	Send(env *types.Envelope) error
}

// Broadcaster maps session ids to the set of member channels (the
// "room") and fans state deltas out to all of them. Membership is a
// weak relation kept purely for addressing: it owns neither the
// session nor the channel. A channel belongs to at most one room; the
// caller is responsible for leaving the previous room before joining a
// new one.
type Broadcaster struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]Channel // sessionID -> channelID -> channel
	byChannel map[string]string             // channelID -> sessionID
	logger    *zap.Logger
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		rooms:     make(map[string]map[string]Channel),
		byChannel: make(map[string]string),
		logger:    logger,
	}
}

// Join adds a channel to a session's room. Returns ErrChannelInRoom if
// the channel is already a member elsewhere; this component never
// leaves the old room silently.
func (b *Broadcaster) Join(ch Channel, sessionID string) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.byChannel[ch.ID()]; ok && current != sessionID {
		return ErrChannelInRoom
	}
	if b.rooms[sessionID] == nil {
		b.rooms[sessionID] = make(map[string]Channel)
	}
	b.rooms[sessionID][ch.ID()] = ch
	b.byChannel[ch.ID()] = sessionID
	return nil
}

// Leave removes a channel from a session's room. Idempotent.
func (b *Broadcaster) Leave(ch Channel, sessionID string) {
	if ch == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if room, ok := b.rooms[sessionID]; ok {
		delete(room, ch.ID())
		if len(room) == 0 {
			delete(b.rooms, sessionID)
		}
	}
	if b.byChannel[ch.ID()] == sessionID {
		delete(b.byChannel, ch.ID())
	}
}

// Room returns the session a channel currently belongs to.
func (b *Broadcaster) Room(ch Channel) (string, bool) {
	if ch == nil {
		return "", false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	sid, ok := b.byChannel[ch.ID()]
	return sid, ok
}

// RoomSize reports the number of member channels for a session.
func (b *Broadcaster) RoomSize(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[sessionID])
}

// Publish delivers an event to every current member of the session's
// room. Best-effort: a channel failing mid-publish is logged and
// skipped, never aborting delivery to the rest of the room.
func (b *Broadcaster) Publish(sessionID, event string, payload interface{}) {
	b.mu.RLock()
	members := make([]Channel, 0, len(b.rooms[sessionID]))
	for _, ch := range b.rooms[sessionID] {
		members = append(members, ch)
	}
	b.mu.RUnlock()

	env := &types.Envelope{
		Event:     event,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	for _, ch := range members {
		if err := ch.Send(env); err != nil {
			b.logger.Warn("broadcast delivery failed",
				zap.String("session_id", sessionID),
				zap.String("event", event),
				zap.String("channel", ch.ID()),
				zap.Error(err))
		}
	}
}

// Stats reports room counts for the health endpoint.
func (b *Broadcaster) Stats() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]int{
		"rooms":    len(b.rooms),
		"channels": len(b.byChannel),
	}
}
