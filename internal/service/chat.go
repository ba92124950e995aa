//go:generate go run go.uber.org/mock/mockgen -source=chat.go -destination=../mocks/mock_service.go -package=mocks

// Package service provides the chat session manager and the user and conversation directory.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chatapp/ws-server/internal/auth"
	"github.com/chatapp/ws-server/internal/model"
	"github.com/chatapp/ws-server/internal/store"
	"github.com/chatapp/ws-server/pkg/logger"
	"github.com/chatapp/ws-server/pkg/metrics"
	"github.com/chatapp/ws-server/pkg/tracing"
)

var (
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrNotAConversationMember = errors.New("not a conversation member")
	ErrInvalidFrame           = errors.New("invalid frame")
	ErrConnectionClosed       = errors.New("connection closed")
)

// Authenticator turns a connection credential into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, cred auth.Credential) (auth.Identity, error)
}

// Journal durably records appended messages.
type Journal interface {
	Record(ctx context.Context, conversationID string, seq uint64, msg model.Message) error
}

// ChatConfig configures a ChatService.
type ChatConfig struct {
	// SendBuffer is the number of outbound frames queued per connection.
	SendBuffer int
}

// ChatService manages live chat connections: open, receive, broadcast, close.
type ChatService struct {
	authenticator Authenticator
	store         Storage
	journal       Journal
	hub           *Hub
	sendBuffer    int
	tracer        trace.Tracer
	logger        *logger.Logger
}

// NewChatService creates a chat service. journal may be nil.
func NewChatService(authenticator Authenticator, st Storage, journal Journal, cfg ChatConfig, log *logger.Logger) *ChatService {
	return &ChatService{
		authenticator: authenticator,
		store:         st,
		journal:       journal,
		hub:           NewHub(),
		sendBuffer:    cfg.SendBuffer,
		tracer:        tracing.Tracer("chat"),
		logger:        log.Named("chat"),
	}
}

// Hub returns the connection registry.
func (s *ChatService) Hub() *Hub {
	return s.hub
}

// Open authenticates cred, checks membership of conversationID and registers the
// connection. It returns the conversation history in append order.
func (s *ChatService) Open(ctx context.Context, conversationID string, cred auth.Credential) (*Connection, []model.Content, error) {
	ctx, span := s.tracer.Start(ctx, "chat.open", trace.WithAttributes(
		attribute.String("conversation_id", conversationID),
	))
	defer span.End()

	conn := newConnection(conversationID, s.sendBuffer, s.logger)
	conn.setState(StateAuthenticating)

	identity, err := s.authenticator.Authenticate(ctx, cred)
	if err != nil {
		reason := auth.Reason(err)
		metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
		conn.logger.Info("authentication failed", zap.String("reason", reason), zap.Error(err))
		return s.reject(span, conn, "authentication", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err))
	}

	conn.logger = conn.logger.With(zap.String("username", identity.Username))
	span.SetAttributes(attribute.String("username", identity.Username))

	user, err := s.ensureUser(ctx, identity.Username)
	if err != nil {
		return s.reject(span, conn, "user", err)
	}
	conn.user = user

	conv, found, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return s.reject(span, conn, "conversation", fmt.Errorf("failed to get conversation: %w", err))
	}
	if !found {
		return s.reject(span, conn, "conversation", fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID))
	}
	if !conv.HasParticipant(user.Username) {
		return s.reject(span, conn, "membership", ErrNotAConversationMember)
	}

	// Join before reading history: anything appended from here on is either in
	// the snapshot or queued on the connection, and Next drops the overlap.
	s.hub.Join(conn)

	conv, _, err = s.store.GetConversation(ctx, conversationID)
	if err != nil {
		s.hub.Leave(conn)
		return s.reject(span, conn, "history", fmt.Errorf("failed to load history: %w", err))
	}

	conn.historyLen = uint64(len(conv.Messages))
	conn.setState(StateActive)
	metrics.IncrementConnections()

	conn.logger.Info("connection opened", zap.Int("history", len(conv.Messages)))

	return conn, conv.History(), nil
}

func (s *ChatService) reject(span trace.Span, conn *Connection, stage string, err error) (*Connection, []model.Content, error) {
	conn.close(nil)
	metrics.ConnectionsRejected.WithLabelValues(stage).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)

	if !errors.Is(err, ErrAuthenticationFailed) {
		conn.logger.Info("connection rejected", zap.String("stage", stage), zap.Error(err))
	}
	return nil, nil, err
}

// ensureUser returns the user record for username, registering it on first use.
func (s *ChatService) ensureUser(ctx context.Context, username string) (model.User, error) {
	user, err := s.store.GetUser(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}

	user, err = s.store.AddUser(ctx, username)
	if errors.Is(err, store.ErrUserAlreadyExists) {
		return s.store.GetUser(ctx, username)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to register user: %w", err)
	}

	metrics.UsersTotal.WithLabelValues("authentication").Inc()
	s.logger.Info("user registered on first connection", zap.String("username", username))
	return user, nil
}

// Receive appends content from conn's user and broadcasts it to every connection
// on the conversation, conn included. Failures are reported to conn only and
// never close it.
func (s *ChatService) Receive(ctx context.Context, conn *Connection, content model.Content) error {
	if conn.State() != StateActive {
		return ErrConnectionClosed
	}

	ctx, span := s.tracer.Start(ctx, "chat.receive", trace.WithAttributes(
		attribute.String("conversation_id", conn.ConversationID()),
		attribute.String("media_type", content.MediaType),
	))
	defer span.End()

	if content.MediaType == "" {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, "invalid frame")
		s.notify(ctx, conn, "invalid frame")
		return ErrInvalidFrame
	}

	msg := model.Message{Sender: conn.User(), Content: content}

	updated, err := s.store.AppendMessage(ctx, conn.ConversationID(), msg)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		conn.logger.Error("failed to append message", zap.Error(err))
		s.notify(ctx, conn, "message could not be delivered")
		return fmt.Errorf("failed to append message: %w", err)
	}

	seq := uint64(len(updated.Messages))
	s.record(ctx, conn, seq, msg)

	delivered := s.hub.Broadcast(ctx, conn.ConversationID(), seq, content)

	metrics.MessagesTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int64("sequence", int64(seq)), attribute.Int("delivered", delivered))
	conn.logger.Debug("message broadcast", zap.Uint64("sequence", seq), zap.Int("delivered", delivered))

	return nil
}

func (s *ChatService) notify(ctx context.Context, conn *Connection, reason string) {
	if err := conn.Notify(ctx, model.ErrorContent(reason)); err != nil {
		conn.logger.Debug("failed to notify connection", zap.Error(err))
	}
}

func (s *ChatService) record(ctx context.Context, conn *Connection, seq uint64, msg model.Message) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, conn.ConversationID(), seq, msg); err != nil {
		metrics.JournalFailures.Inc()
		conn.logger.Warn("failed to journal message", zap.Uint64("sequence", seq), zap.Error(err))
	}
}

// Close deregisters conn and marks it closed. It is safe to call more than once.
func (s *ChatService) Close(conn *Connection) {
	if conn == nil {
		return
	}
	if conn.close(s.hub.Leave) {
		metrics.DecrementConnections()
	}
}

// Shutdown closes every live connection.
func (s *ChatService) Shutdown() {
	conns := s.hub.Connections()
	for _, conn := range conns {
		s.Close(conn)
	}
	s.logger.Info("chat connections closed", zap.Int("count", len(conns)))
}
