package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mathduel/pkg/types"
)

// ErrClientClosed is returned by operations on a closed client.
var ErrClientClosed = errors.New("client closed")

// Handler receives every envelope pushed by the server, in arrival
// order, from a single goroutine.
type Handler func(env *types.Envelope)

// Client is a websocket game client with local state reconciliation.
// It presents cached identity on connect so the server recognizes
// reconnects, and keeps its Reconciler in sync with every
// authoritative push.
type Client struct {
	serverURL   string
	sessionID   string
	displayName string
	reconciler  *Reconciler
	handler     Handler

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

// NewClient prepares a client for one session. cache may be nil to
// disable persistence across restarts.
func NewClient(serverURL, sessionID, displayName string, cache CacheStore, handler Handler) *Client {
	rec := NewReconciler(cache)
	if cache != nil {
		// Mismatched or missing cache just means a fresh identity.
		_, _ = rec.Restore(sessionID)
	}
	return &Client{
		serverURL:   serverURL,
		sessionID:   sessionID,
		displayName: displayName,
		reconciler:  rec,
		handler:     handler,
		done:        make(chan struct{}),
	}
}

// Reconciler exposes the client's local view for rendering.
func (c *Client) Reconciler() *Reconciler {
	return c.reconciler
}

// Connect dials the server, presenting any cached identity, and starts
// the read loop.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	u.Path = "/ws"

	key, transportID := c.reconciler.Identity()
	q := u.Query()
	if transportID != "" {
		q.Set("transport_session_id", transportID)
	}
	if key != "" {
		q.Set("cached_key", key)
	}
	if c.displayName != "" {
		q.Set("display_name", c.displayName)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.reconcile(&env)
		if c.handler != nil {
			c.handler(&env)
		}
	}
}

// reconcile folds a server push into the local view before the
// application handler sees it.
func (c *Client) reconcile(env *types.Envelope) {
	switch env.Event {
	case types.EventSessionIssued:
		var p types.IssuedPayload
		if decodePayload(env.Payload, &p) == nil {
			_ = c.reconciler.RememberIdentity(c.sessionID, p.ParticipantKey, p.TransportSessionID)
		}
	case types.EventSessionState, types.EventStateUpdated, types.EventSessionStarted:
		var p types.StatePayload
		if decodePayload(env.Payload, &p) == nil && p.Session != nil {
			c.reconciler.ApplyAuthoritative(p.Session)
		}
	}
}

// decodePayload re-marshals the generic payload into its typed shape.
func decodePayload(payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Join enters the configured session.
func (c *Client) Join() error {
	return c.send(&types.Event{
		Name:        types.EventJoinSession,
		SessionID:   c.sessionID,
		DisplayName: c.displayName,
	})
}

// Submit answers the current challenge with value. The local view is
// advanced optimistically; the server's state_updated replaces it.
func (c *Client) Submit(value int) error {
	return c.send(&types.Event{
		Name:        types.EventSubmitAction,
		SessionID:   c.sessionID,
		ChosenValue: value,
	})
}

// RequestCountdown asks the server to start the lobby countdown.
func (c *Client) RequestCountdown(fromSeconds int) error {
	return c.send(&types.Event{
		Name:        types.EventRequestCountdown,
		SessionID:   c.sessionID,
		FromSeconds: fromSeconds,
	})
}

// RequestState asks for a fresh authoritative snapshot.
func (c *Client) RequestState() error {
	return c.send(&types.Event{
		Name:      types.EventRequestState,
		SessionID: c.sessionID,
	})
}

// Leave exits the session.
func (c *Client) Leave() error {
	return c.send(&types.Event{
		Name:      types.EventLeaveSession,
		SessionID: c.sessionID,
	})
}

func (c *Client) send(ev *types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(ev)
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return c.conn.Close()
	}
	return nil
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
