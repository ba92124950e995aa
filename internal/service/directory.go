package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chatapp/ws-server/internal/model"
	"github.com/chatapp/ws-server/internal/store"
	"github.com/chatapp/ws-server/pkg/logger"
	"github.com/chatapp/ws-server/pkg/metrics"
)

// ErrUnknownParticipant is returned when a conversation names an unregistered user.
var ErrUnknownParticipant = errors.New("unknown participant")

// Storage is the part of the store the services use.
type Storage interface {
	store.UserStore
	store.ConversationStore
}

// DirectoryService registers users and creates conversations.
type DirectoryService struct {
	store  Storage
	logger *logger.Logger
}

// NewDirectoryService creates a directory service.
func NewDirectoryService(st Storage, log *logger.Logger) *DirectoryService {
	return &DirectoryService{
		store:  st,
		logger: log.Named("directory"),
	}
}

// RegisterUser adds a user. It fails with store.ErrUserAlreadyExists if the
// username is taken.
func (s *DirectoryService) RegisterUser(ctx context.Context, req *model.RegisterUserRequest) (model.User, error) {
	user, err := s.store.AddUser(ctx, req.Username)
	if err != nil {
		return model.User{}, err
	}

	metrics.UsersTotal.WithLabelValues("api").Inc()
	s.logger.Info("user registered", zap.String("username", user.Username))

	return user, nil
}

// GetUser returns a registered user.
func (s *DirectoryService) GetUser(ctx context.Context, username string) (model.User, error) {
	return s.store.GetUser(ctx, username)
}

// CreateConversation creates a conversation between registered users. A missing
// id is generated. Repeated participants are kept once, in first-seen order.
func (s *DirectoryService) CreateConversation(ctx context.Context, req *model.CreateConversationRequest) (model.Conversation, error) {
	id := req.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	names := lo.Uniq(req.Participants)
	participants := make([]model.User, 0, len(names))
	for _, name := range names {
		user, err := s.store.GetUser(ctx, name)
		if errors.Is(err, store.ErrUserNotFound) {
			return model.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, name)
		}
		if err != nil {
			return model.Conversation{}, fmt.Errorf("failed to get participant: %w", err)
		}
		participants = append(participants, user)
	}

	conv, err := s.store.CreateConversation(ctx, model.Conversation{
		ID:           id,
		Participants: participants,
	})
	if err != nil {
		return model.Conversation{}, err
	}

	metrics.ConversationsTotal.Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.Strings("participants", names),
	)

	return conv, nil
}

// GetConversation returns the conversation with id.
func (s *DirectoryService) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	conv, found, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	if !found {
		return model.Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return conv, nil
}
