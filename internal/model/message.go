package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// MediaTypeText is the media type of plain text content.
	MediaTypeText = "text/plain"

	// MediaTypeError is the media type of error frames sent to a single connection.
	MediaTypeError = "application/vnd.chat.error+json"
)

// ErrInvalidContentType is returned when content does not carry the expected media type.
var ErrInvalidContentType = errors.New("invalid content type")

// Content is the opaque, typed payload of a message.
type Content struct {
	MediaType string `json:"mediaType"`
	Data      []byte `json:"data"`
}

// Message is a single entry of a conversation's message log.
type Message struct {
	Sender  User    `json:"sender"`
	Content Content `json:"content"`
}

// EncodeText wraps s as text/plain content.
func EncodeText(s string) Content {
	return Content{
		MediaType: MediaTypeText,
		Data:      []byte(s),
	}
}

// DecodeText returns the text carried by c.
func DecodeText(c Content) (string, error) {
	if c.MediaType != MediaTypeText {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, c.MediaType)
	}
	return string(c.Data), nil
}

// ErrorEvent is the body of an error frame.
type ErrorEvent struct {
	Error string `json:"error"`
}

// ErrorContent builds an error frame carrying reason.
func ErrorContent(reason string) Content {
	data, _ := json.Marshal(ErrorEvent{Error: reason})
	return Content{
		MediaType: MediaTypeError,
		Data:      data,
	}
}

// JournalEntry is a message as recorded in the durable journal.
type JournalEntry struct {
	ConversationID string    `json:"conversation_id"`
	Sequence       uint64    `json:"sequence"`
	Message        Message   `json:"message"`
	RecordedAt     time.Time `json:"recorded_at"`

	// StreamSequence is populated on read.
	StreamSequence uint64 `json:"stream_sequence,omitempty"`
}
