package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/chatapp/ws-server/internal/model"
)

// Memory is an in-memory Store. Users and conversations live in separate
// sync.Maps; each conversation carries its own lock, so operations on different
// keys never contend.
type Memory struct {
	users         sync.Map // username -> model.User
	conversations sync.Map // id -> *conversationEntry
}

type conversationEntry struct {
	mu           sync.RWMutex
	id           string
	participants []model.User
	messages     []model.Message
}

// snapshot returns a view that later appends cannot alter. Callers must hold mu.
func (e *conversationEntry) snapshot() model.Conversation {
	n := len(e.messages)
	return model.Conversation{
		ID:           e.id,
		Participants: e.participants[:len(e.participants):len(e.participants)],
		Messages:     e.messages[:n:n],
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// GetUser returns the user registered under username.
func (m *Memory) GetUser(_ context.Context, username string) (model.User, error) {
	v, ok := m.users.Load(username)
	if !ok {
		return model.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return v.(model.User), nil
}

// AddUser registers username.
func (m *Memory) AddUser(_ context.Context, username string) (model.User, error) {
	user := model.User{Username: username}
	if _, loaded := m.users.LoadOrStore(username, user); loaded {
		return model.User{}, fmt.Errorf("%w: %s", ErrUserAlreadyExists, username)
	}
	return user, nil
}

// GetConversation returns the conversation with id, if any.
func (m *Memory) GetConversation(_ context.Context, id string) (model.Conversation, bool, error) {
	v, ok := m.conversations.Load(id)
	if !ok {
		return model.Conversation{}, false, nil
	}

	entry := v.(*conversationEntry)
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	return entry.snapshot(), true, nil
}

// CreateConversation inserts conv unless its id is taken.
func (m *Memory) CreateConversation(_ context.Context, conv model.Conversation) (model.Conversation, error) {
	entry := &conversationEntry{
		id:           conv.ID,
		participants: slices.Clone(conv.Participants),
		messages:     slices.Clone(conv.Messages),
	}

	if _, loaded := m.conversations.LoadOrStore(conv.ID, entry); loaded {
		return model.Conversation{}, fmt.Errorf("%w: %s", ErrConversationAlreadyExists, conv.ID)
	}

	// Appends may already be racing in; snapshot under the lock.
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.snapshot(), nil
}

// AppendMessage appends msg to the conversation's log.
func (m *Memory) AppendMessage(_ context.Context, id string, msg model.Message) (model.Conversation, error) {
	v, ok := m.conversations.Load(id)
	if !ok {
		return model.Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	entry := v.(*conversationEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	msg.Content.Data = slices.Clone(msg.Content.Data)
	entry.messages = append(entry.messages, msg)
	return entry.snapshot(), nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
