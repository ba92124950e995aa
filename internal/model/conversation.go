// Package model defines data structures for the chat server.
package model

import (
	"github.com/samber/lo"
)

// User is a registered chat participant. The username is the identity key.
type User struct {
	Username string `json:"username"`
}

// Conversation is a private conversation between a fixed set of participants.
// Participants never change after creation and Messages is append-only.
type Conversation struct {
	ID           string    `json:"id"`
	Participants []User    `json:"participants"`
	Messages     []Message `json:"messages"`
}

// HasParticipant reports whether username is one of the conversation's participants.
func (c Conversation) HasParticipant(username string) bool {
	return lo.ContainsBy(c.Participants, func(u User) bool {
		return u.Username == username
	})
}

// History returns the content of every message in append order.
func (c Conversation) History() []Content {
	return lo.Map(c.Messages, func(m Message, _ int) Content {
		return m.Content
	})
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	ID           string   `json:"id,omitempty" validate:"omitempty,max=128,excludesall=/?#,nocontrol"`
	Participants []string `json:"participants" validate:"required,min=1,max=64,dive,required,max=254,nocontrol"`
}

// RegisterUserRequest is the request to register a user explicitly.
type RegisterUserRequest struct {
	Username string `json:"username" validate:"required,max=254,nocontrol"`
}

// ConversationResponse is the REST view of a conversation.
type ConversationResponse struct {
	ID           string `json:"id"`
	Participants []User `json:"participants"`
	MessageCount int    `json:"message_count"`
}

// NewConversationResponse builds the REST view of conv.
func NewConversationResponse(conv Conversation) ConversationResponse {
	return ConversationResponse{
		ID:           conv.ID,
		Participants: conv.Participants,
		MessageCount: len(conv.Messages),
	}
}
