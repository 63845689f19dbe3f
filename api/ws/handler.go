package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/questkeeper/game/quest"
	"go.uber.org/zap"
)

// EventDispatcher routes one gameplay event to the requirements it advances.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev quest.GameEvent) map[int64]quest.Outcome
}

// Handler is the Gin handler for GET /ws/events. The game server keeps one
// connection open and streams gameplay events over it; each game_event is
// answered with a game_event_result carrying the same seq.
type Handler struct {
	events   EventDispatcher
	adminKey string
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler authenticated by adminKey.
func NewHandler(events EventDispatcher, adminKey string, logger *zap.Logger) *Handler {
	h := &Handler{
		events:   events,
		adminKey: adminKey,
		router:   NewRouter(logger),
		logger:   logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	h.router.On("game_event", h.handleGameEvent)
	h.router.On("ping", func(_ context.Context, s *Session, seq uint64, _ json.RawMessage) error {
		s.Reply(seq, "pong", struct{}{})
		return nil
	})
	return h
}

// ServeWS handles GET /ws/events with the X-Admin-Key header or ?key=.
func (h *Handler) ServeWS(c *gin.Context) {
	if h.adminKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled: set server.admin_key in config"})
		return
	}
	key := c.GetHeader("X-Admin-Key")
	if key == "" {
		key = c.Query("key")
	}
	if key != h.adminKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}
	s := NewSession(conn, h.logger)
	h.logger.Info("event stream connected", zap.String("session", s.ID), zap.String("client_ip", c.ClientIP()))
	// The request context is not tied to the hijacked connection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.readPump(ctx, s)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(ctx context.Context, s *Session) {
	defer func() {
		s.Close()
		h.logger.Info("event stream disconnected", zap.String("session", s.ID))
	}()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close", zap.String("session", s.ID), zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(ctx, s, raw)
	}
}

var errInvalidEvent = errors.New("invalid game event")

// gameEventResult is the payload of a game_event_result packet.
type gameEventResult struct {
	Advanced map[int64]quest.Outcome `json:"advanced"`
}

func (h *Handler) handleGameEvent(ctx context.Context, s *Session, seq uint64, payload json.RawMessage) error {
	var ev quest.GameEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return errInvalidEvent
	}
	if ev.PlayerID == "" || ev.Target == "" {
		return errInvalidEvent
	}
	if ev.Kind != quest.GameEventItemPickup && ev.Kind != quest.GameEventEntityDeath {
		return errInvalidEvent
	}
	advanced := h.events.Dispatch(ctx, ev)
	if advanced == nil {
		advanced = map[int64]quest.Outcome{}
	}
	s.Reply(seq, "game_event_result", gameEventResult{Advanced: advanced})
	return nil
}
