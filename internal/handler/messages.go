package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/chatapp/ws-server/internal/model"
	"github.com/chatapp/ws-server/internal/service"
	"github.com/chatapp/ws-server/pkg/logger"
)

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

// JournalReader reads back journaled messages.
type JournalReader interface {
	Messages(ctx context.Context, conversationID string, limit int) ([]model.JournalEntry, error)
}

// MessageHandler serves the message journal.
type MessageHandler struct {
	directory *service.DirectoryService
	journal   JournalReader
	logger    *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(directory *service.DirectoryService, journal JournalReader, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		directory: directory,
		journal:   journal,
		logger:    log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conv, ok := lookupConversation(w, r, h.directory, h.logger)
	if !ok {
		return
	}

	limit := defaultJournalLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxJournalLimit {
			limit = parsed
		}
	}

	entries, err := h.journal.Messages(r.Context(), conv.ID, limit)
	if err != nil {
		h.logger.Error("failed to read journal", zap.String("conversation_id", conv.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conv.ID,
		"messages":        entries,
	})
}
