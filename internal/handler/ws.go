package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chatapp/ws-server/internal/auth"
	"github.com/chatapp/ws-server/internal/middleware"
	"github.com/chatapp/ws-server/internal/model"
	"github.com/chatapp/ws-server/internal/service"
	"github.com/chatapp/ws-server/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageBytes is the default inbound frame limit.
	DefaultMaxMessageBytes = 64 * 1024

	// closeReasonInternal is the only reason clients see when a connection is refused.
	closeReasonInternal = "internal error"
)

// ChatHandlerConfig configures the WebSocket endpoint.
type ChatHandlerConfig struct {
	// CookieName is the cookie carrying the session handle.
	CookieName string
	// AllowedOrigins lists the browser origins that may connect. Empty means same origin only.
	AllowedOrigins []string
	// MaxMessageBytes bounds inbound frames.
	MaxMessageBytes int64
}

// ChatHandler serves GET /ws/chat/{id}.
type ChatHandler struct {
	chat            *service.ChatService
	cookieName      string
	maxMessageBytes int64
	upgrader        websocket.Upgrader
	logger          *logger.Logger
}

// NewChatHandler creates the WebSocket chat handler.
func NewChatHandler(chat *service.ChatService, cfg ChatHandlerConfig, log *logger.Logger) *ChatHandler {
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = auth.DefaultCookieName
	}
	maxMessageBytes := cfg.MaxMessageBytes
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(cfg.AllowedOrigins) > 0 {
		origins := cfg.AllowedOrigins
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || lo.Contains(origins, "*") || lo.Contains(origins, origin)
		}
	}

	return &ChatHandler{
		chat:            chat,
		cookieName:      cookieName,
		maxMessageBytes: maxMessageBytes,
		upgrader:        upgrader,
		logger:          log.Named("ws"),
	}
}

// Serve handles GET /ws/chat/{id}. Credentials are checked after the upgrade so
// that every refusal reaches the client the same way: close code 1011.
func (h *ChatHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	cred := auth.CredentialFromRequest(r, h.cookieName)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(h.maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		h.refuse(ws)
		return
	}

	conn, history, err := h.chat.Open(ctx, conversationID, cred)
	if err != nil {
		h.refuse(ws)
		return
	}

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(history); err != nil {
		conn.Logger().Debug("failed to write history", zap.Error(err))
		h.chat.Close(conn)
		_ = ws.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writePump(ctx, ws, conn)
	}()
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, ws, conn)
	}()

	h.readPump(ctx, ws, conn)

	cancel()
	h.chat.Close(conn)
	wg.Wait()
	_ = ws.Close()
}

func (h *ChatHandler) refuse(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, closeReasonInternal)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = ws.Close()
}

// readPump feeds inbound frames to the chat service until the peer goes away.
func (h *ChatHandler) readPump(ctx context.Context, ws *websocket.Conn, conn *service.Connection) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				conn.Logger().Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var content model.Content
		if err := json.Unmarshal(data, &content); err != nil {
			if nerr := conn.Notify(ctx, model.ErrorContent("malformed frame")); nerr != nil {
				return
			}
			continue
		}

		if err := h.chat.Receive(ctx, conn, content); errors.Is(err, service.ErrConnectionClosed) {
			return
		}
	}
}

// writePump is the only writer of data frames on ws.
func (h *ChatHandler) writePump(ctx context.Context, ws *websocket.Conn, conn *service.Connection) {
	for {
		content, err := conn.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				// Closed from the server side, e.g. shutdown.
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				_ = ws.SetReadDeadline(time.Now().Add(writeWait))
			}
			return
		}

		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(content); err != nil {
			conn.Logger().Debug("websocket write failed", zap.Error(err))
			_ = ws.Close()
			return
		}
	}
}

func (h *ChatHandler) pingLoop(ctx context.Context, ws *websocket.Conn, conn *service.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-conn.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}
