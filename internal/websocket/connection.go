package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mathduel/pkg/types"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Connection wraps one gorilla websocket. All writes are serialized
// through a single goroutine draining a buffered queue, so Send never
// blocks the mutation path that publishes through it and per-channel
// delivery order matches enqueue order.
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once

	mu             sync.RWMutex
	participantKey string
	sessionID      string
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop(writeTimeout)
	return c
}

func (c *Connection) writeLoop(writeTimeout time.Duration) {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the stable channel identifier used for room membership.
func (c *Connection) ID() string {
	return c.id
}

// Send queues an envelope for delivery. Non-blocking: a slow client
// whose buffer is full loses this push rather than stalling the
// session's mutation path.
func (c *Connection) Send(env *types.Envelope) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close tears the connection down exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetIdentity records the resolved participant key after the identity
// resolver has run.
func (c *Connection) SetIdentity(participantKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participantKey = participantKey
}

func (c *Connection) ParticipantKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participantKey
}

// SetSessionID tracks which game session this channel last joined.
func (c *Connection) SetSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
