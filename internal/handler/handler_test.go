package handler_test

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/chatapp/ws-server/internal/auth"
	"github.com/chatapp/ws-server/internal/handler"
	"github.com/chatapp/ws-server/internal/model"
	"github.com/chatapp/ws-server/internal/service"
	"github.com/chatapp/ws-server/internal/store"
	"github.com/chatapp/ws-server/pkg/logger"
)

const (
	jwtSecret = "test-secret"
	alice     = "alice@example.com"
	bob       = "bob@example.com"
	charlie   = "charlie@example.com"
)

type mapCache map[string][]byte

func (m mapCache) Get(_ context.Context, handle string) ([]byte, error) {
	if v, ok := m[handle]; ok {
		return v, nil
	}
	return nil, auth.ErrCacheMiss
}

type fakeJournal struct {
	entries []model.JournalEntry
	err     error
}

func (f *fakeJournal) Messages(_ context.Context, conversationID string, limit int) ([]model.JournalEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.JournalEntry
	for _, e := range f.entries {
		if e.ConversationID == conversationID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type readiness bool

func (r readiness) IsConnected() bool { return bool(r) }

type testServer struct {
	*httptest.Server
	store   *store.Memory
	chat    *service.ChatService
	journal *fakeJournal
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"email": alice,
		"sub":   "alice-subject",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)
	record, err := json.Marshal(model.SessionRecord{AccessToken: idToken})
	require.NoError(t, err)

	verifier := auth.NewVerifier(&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}})
	resolver := auth.NewResolver(mapCache{"alice-session": record}, verifier, auth.ResolverConfig{}, log)
	authenticator := auth.NewAuthenticator(resolver, auth.AuthenticatorConfig{BearerSecret: jwtSecret})

	st := store.NewMemory()
	chat := service.NewChatService(authenticator, st, nil, service.ChatConfig{}, log)
	directory := service.NewDirectoryService(st, log)
	journal := &fakeJournal{}

	router := handler.NewRouter(handler.RouterConfig{
		Health:            handler.NewHealthHandler(nil),
		Chat:              handler.NewChatHandler(chat, handler.ChatHandlerConfig{}, log),
		Users:             handler.NewUserHandler(directory, log),
		Conversations:     handler.NewConversationHandler(directory, log),
		Messages:          handler.NewMessageHandler(directory, journal, log),
		JWTSecret:         jwtSecret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		Logger:            log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, store: st, chat: chat, journal: journal}
}

func (s *testServer) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []string{alice, bob, charlie} {
		_, err := s.store.AddUser(ctx, u)
		require.NoError(t, err)
	}
	_, err := s.store.CreateConversation(ctx, model.Conversation{
		ID:           "AB",
		Participants: []model.User{{Username: alice}, {Username: bob}},
	})
	require.NoError(t, err)
}

func bearerToken(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return token
}

func (s *testServer) dial(t *testing.T, conversationID string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chat/" + conversationID
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func withCookie(handle string) http.Header {
	return http.Header{"Cookie": {auth.DefaultCookieName + "=" + handle}}
}

func withBearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func readHistory(t *testing.T, ws *websocket.Conn) []model.Content {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var history []model.Content
	require.NoError(t, ws.ReadJSON(&history))
	return history
}

func readContent(t *testing.T, ws *websocket.Conn) model.Content {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var content model.Content
	require.NoError(t, ws.ReadJSON(&content))
	return content
}

func requireClosedWith(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()

	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected a close frame, got %v", err)
	require.Equal(t, code, closeErr.Code)
}

func TestChatHandler(t *testing.T) {
	t.Run("should deliver history then relay messages between participants", func(t *testing.T) {
		req := require.New(t)
		srv := newTestServer(t)
		srv.seed(t)

		aliceWS := srv.dial(t, "AB", withCookie("alice-session"))
		req.Empty(readHistory(t, aliceWS))

		bobWS := srv.dial(t, "AB", withBearer(bearerToken(t, bob)))
		req.Empty(readHistory(t, bobWS))

		req.NoError(aliceWS.WriteJSON(model.EncodeText("Hello Bob!")))

		for _, ws := range []*websocket.Conn{bobWS, aliceWS} {
			text, err := model.DecodeText(readContent(t, ws))
			req.NoError(err)
			req.Equal("Hello Bob!", text)
		}

		conv, _, err := srv.store.GetConversation(context.Background(), "AB")
		req.NoError(err)
		req.Len(conv.Messages, 1)
		req.Equal(alice, conv.Messages[0].Sender.Username)
	})

	t.Run("should send the stored history to a late joiner", func(t *testing.T) {
		req := require.New(t)
		srv := newTestServer(t)
		srv.seed(t)

		aliceWS := srv.dial(t, "AB", withCookie("alice-session"))
		readHistory(t, aliceWS)
		req.NoError(aliceWS.WriteJSON(model.EncodeText("first")))
		readContent(t, aliceWS)

		bobWS := srv.dial(t, "AB", withBearer(bearerToken(t, bob)))
		history := readHistory(t, bobWS)

		req.Len(history, 1)
		text, err := model.DecodeText(history[0])
		req.NoError(err)
		req.Equal("first", text)
	})

	t.Run("should close with an internal error for a non-member", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seed(t)

		ws := srv.dial(t, "AB", withBearer(bearerToken(t, charlie)))

		requireClosedWith(t, ws, websocket.CloseInternalServerErr)
	})

	t.Run("should close with an internal error for an unknown session", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seed(t)

		ws := srv.dial(t, "AB", withCookie("stale-session"))

		requireClosedWith(t, ws, websocket.CloseInternalServerErr)
	})

	t.Run("should close with an internal error without credentials", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seed(t)

		ws := srv.dial(t, "AB", nil)

		requireClosedWith(t, ws, websocket.CloseInternalServerErr)
	})

	t.Run("should close with an internal error for an unknown conversation", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seed(t)

		ws := srv.dial(t, "XY", withBearer(bearerToken(t, alice)))

		requireClosedWith(t, ws, websocket.CloseInternalServerErr)
	})

	t.Run("should answer a malformed frame with an error frame and stay open", func(t *testing.T) {
		req := require.New(t)
		srv := newTestServer(t)
		srv.seed(t)

		ws := srv.dial(t, "AB", withBearer(bearerToken(t, alice)))
		readHistory(t, ws)

		req.NoError(ws.WriteMessage(websocket.TextMessage, []byte("not json")))
		req.Equal(model.MediaTypeError, readContent(t, ws).MediaType)

		req.NoError(ws.WriteJSON(model.EncodeText("still here")))
		text, err := model.DecodeText(readContent(t, ws))
		req.NoError(err)
		req.Equal("still here", text)
	})

	t.Run("should deregister a connection when the client leaves", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seed(t)

		ws := srv.dial(t, "AB", withBearer(bearerToken(t, alice)))
		readHistory(t, ws)
		require.Equal(t, 1, srv.chat.Hub().Size("AB"))

		require.NoError(t, ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))

		require.Eventually(t, func() bool {
			return srv.chat.Hub().Size("AB") == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("should close live connections on shutdown", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seed(t)

		ws := srv.dial(t, "AB", withBearer(bearerToken(t, alice)))
		readHistory(t, ws)

		srv.chat.Shutdown()

		requireClosedWith(t, ws, websocket.CloseGoingAway)
	})
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	r, err := http.NewRequest(method, s.URL+path, &payload)
	require.NoError(t, err)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRESTHandlers(t *testing.T) {
	t.Run("should register users", func(t *testing.T) {
		srv := newTestServer(t)
		admin := bearerToken(t, "admin", handler.ScopeUsersWrite)

		resp := srv.do(t, http.MethodPost, "/api/v1/users", admin, model.RegisterUserRequest{Username: alice})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = srv.do(t, http.MethodPost, "/api/v1/users", admin, model.RegisterUserRequest{Username: alice})
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		resp = srv.do(t, http.MethodPost, "/api/v1/users", admin, model.RegisterUserRequest{})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = srv.do(t, http.MethodPost, "/api/v1/users", bearerToken(t, bob), model.RegisterUserRequest{Username: bob})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("should get users", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seed(t)
		token := bearerToken(t, alice)

		resp := srv.do(t, http.MethodGet, "/api/v1/users/"+bob, token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var user model.User
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
		require.Equal(t, bob, user.Username)

		resp = srv.do(t, http.MethodGet, "/api/v1/users/nobody", token, nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("should require a bearer token", func(t *testing.T) {
		srv := newTestServer(t)

		resp := srv.do(t, http.MethodGet, "/api/v1/users/"+alice, "", nil)

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should create and get conversations", func(t *testing.T) {
		req := require.New(t)
		srv := newTestServer(t)
		srv.seed(t)
		token := bearerToken(t, alice)

		resp := srv.do(t, http.MethodPost, "/api/v1/conversations", token,
			model.CreateConversationRequest{ID: "AC", Participants: []string{alice, charlie}})
		req.Equal(http.StatusCreated, resp.StatusCode)

		resp = srv.do(t, http.MethodPost, "/api/v1/conversations", token,
			model.CreateConversationRequest{ID: "AC", Participants: []string{alice, charlie}})
		req.Equal(http.StatusConflict, resp.StatusCode)

		resp = srv.do(t, http.MethodPost, "/api/v1/conversations", token,
			model.CreateConversationRequest{ID: "AX", Participants: []string{alice, "mallory"}})
		req.Equal(http.StatusBadRequest, resp.StatusCode)

		resp = srv.do(t, http.MethodPost, "/api/v1/conversations", bearerToken(t, charlie),
			model.CreateConversationRequest{ID: "AB\x00x", Participants: []string{charlie}})
		req.Equal(http.StatusBadRequest, resp.StatusCode)

		resp = srv.do(t, http.MethodGet, "/api/v1/conversations/AC", token, nil)
		req.Equal(http.StatusOK, resp.StatusCode)

		var conv model.ConversationResponse
		req.NoError(json.NewDecoder(resp.Body).Decode(&conv))
		req.Equal("AC", conv.ID)
		req.Len(conv.Participants, 2)
		req.Zero(conv.MessageCount)
	})

	t.Run("should hide conversations from non-participants", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seed(t)

		resp := srv.do(t, http.MethodGet, "/api/v1/conversations/AB", bearerToken(t, charlie), nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = srv.do(t, http.MethodGet, "/api/v1/conversations/missing", bearerToken(t, alice), nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("should list journaled messages for participants", func(t *testing.T) {
		req := require.New(t)
		srv := newTestServer(t)
		srv.seed(t)
		srv.journal.entries = []model.JournalEntry{
			{ConversationID: "AB", Sequence: 1, Message: model.Message{Sender: model.User{Username: alice}, Content: model.EncodeText("hi")}},
			{ConversationID: "other", Sequence: 1},
		}

		resp := srv.do(t, http.MethodGet, "/api/v1/conversations/AB/messages?limit=10", bearerToken(t, bob), nil)
		req.Equal(http.StatusOK, resp.StatusCode)

		var body struct {
			ConversationID string               `json:"conversation_id"`
			Messages       []model.JournalEntry `json:"messages"`
		}
		req.NoError(json.NewDecoder(resp.Body).Decode(&body))
		req.Equal("AB", body.ConversationID)
		req.Len(body.Messages, 1)

		srv.journal.err = errors.New("stream unavailable")
		resp = srv.do(t, http.MethodGet, "/api/v1/conversations/AB/messages", bearerToken(t, bob), nil)
		req.Equal(http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestHealthHandler(t *testing.T) {
	t.Run("should report healthy and ready", func(t *testing.T) {
		srv := newTestServer(t)

		resp := srv.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = srv.do(t, http.MethodGet, "/ready", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("should report not ready when NATS is down", func(t *testing.T) {
		h := handler.NewHealthHandler(readiness(false))
		w := httptest.NewRecorder()

		h.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
