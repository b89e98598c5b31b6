package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mathduel/internal/hub"
	"mathduel/internal/identity"
	"mathduel/pkg/types"
)

// Options bound the transport behavior of accepted connections.
type Options struct {
	ReadLimit      int64
	SendBufferSize int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	CheckOrigin    func(r *http.Request) bool
}

func (o *Options) withDefaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 100
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = o.PongTimeout * 9 / 10
	}
}

// Handler upgrades HTTP requests, resolves the connecting client's
// identity, and pumps frames between the socket and the hub.
type Handler struct {
	upgrader websocket.Upgrader
	resolver *identity.Resolver
	hub      *hub.Hub
	opts     Options
	logger   *zap.Logger
}

func NewHandler(resolver *identity.Resolver, h *hub.Hub, opts Options, logger *zap.Logger) *Handler {
	opts.withDefaults()
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		resolver: resolver,
		hub:      h,
		opts:     opts,
		logger:   logger,
	}
}

// ServeHTTP handles GET /ws. Identity inputs arrive as query
// parameters so browser clients can connect without a handshake
// subprotocol.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := identity.ResolveRequest{
		TransportSessionID: q.Get("transport_session_id"),
		ClaimedKey:         q.Get("participant_key"),
		CachedKey:          q.Get("cached_key"),
		DisplayName:        q.Get("display_name"),
	}

	id, transportID, err := h.resolver.Resolve(r.Context(), req)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		http.Error(w, "identity resolution failed", http.StatusInternalServerError)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, h.opts.SendBufferSize, h.opts.WriteTimeout)
	conn.SetIdentity(id.Key)

	h.logger.Info("client connected",
		zap.String("channel", conn.ID()),
		zap.String("participant", id.Key),
		zap.Bool("restored", id.Restored))

	// The client stores this id and presents it on reconnect to get the
	// same participant key back.
	if err := conn.Send(&types.Envelope{
		Event:     types.EventSessionIssued,
		Payload:   types.IssuedPayload{TransportSessionID: transportID, ParticipantKey: id.Key},
		Timestamp: time.Now(),
	}); err != nil {
		h.logger.Warn("failed to send session_issued", zap.Error(err))
	}

	go h.pingLoop(conn)
	h.readLoop(conn, ws)
}

func (h *Handler) readLoop(conn *Connection, ws *websocket.Conn) {
	defer func() {
		h.hub.HandleDisconnect(conn)
		conn.Close()
		h.logger.Info("client disconnected",
			zap.String("channel", conn.ID()),
			zap.String("participant", conn.ParticipantKey()))
	}()

	ws.SetReadLimit(h.opts.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("unexpected close",
					zap.String("channel", conn.ID()),
					zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.hub.HandleMessage(conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
