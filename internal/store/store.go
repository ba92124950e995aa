//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store holds the authoritative user and conversation state.
package store

import (
	"context"
	"errors"

	"github.com/chatapp/ws-server/internal/model"
)

var (
	ErrUserNotFound              = errors.New("user not found")
	ErrUserAlreadyExists         = errors.New("user already exists")
	ErrConversationNotFound      = errors.New("conversation not found")
	ErrConversationAlreadyExists = errors.New("conversation already exists")
)

// UserStore manages registered users.
type UserStore interface {
	GetUser(ctx context.Context, username string) (model.User, error)
	// AddUser fails with ErrUserAlreadyExists if username is taken. Of two
	// concurrent calls for the same username, exactly one succeeds.
	AddUser(ctx context.Context, username string) (model.User, error)
}

// ConversationStore manages conversations and their message logs.
type ConversationStore interface {
	// GetConversation reports false, not an error, when no conversation has id.
	GetConversation(ctx context.Context, id string) (model.Conversation, bool, error)
	CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error)
	// AppendMessage appends msg and returns the updated conversation. It does not
	// check that the sender is a participant.
	AppendMessage(ctx context.Context, id string, msg model.Message) (model.Conversation, error)
}

// Store is the complete storage backend.
type Store interface {
	UserStore
	ConversationStore
	Close() error
}
