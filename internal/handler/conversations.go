package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatapp/ws-server/internal/middleware"
	"github.com/chatapp/ws-server/internal/model"
	"github.com/chatapp/ws-server/internal/service"
	"github.com/chatapp/ws-server/internal/store"
	"github.com/chatapp/ws-server/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	directory *service.DirectoryService
	logger    *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(directory *service.DirectoryService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		directory: directory,
		logger:    log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.Validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.directory.CreateConversation(r.Context(), &req)
	switch {
	case errors.Is(err, service.ErrUnknownParticipant):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrConversationAlreadyExists):
		writeError(w, http.StatusConflict, "conversation already exists")
		return
	case err != nil:
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, model.NewConversationResponse(conv))
}

// Get handles GET /api/v1/conversations/{id}. Only participants can see a
// conversation; everyone else gets 404.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := lookupConversation(w, r, h.directory, h.logger)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, model.NewConversationResponse(conv))
}

// lookupConversation resolves the {id} conversation for the authenticated
// participant, writing the error response itself when it fails.
func lookupConversation(w http.ResponseWriter, r *http.Request, directory *service.DirectoryService, log *logger.Logger) (model.Conversation, bool) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.Conversation{}, false
	}

	conv, err := directory.GetConversation(r.Context(), conversationID)
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
		return model.Conversation{}, false
	case err != nil:
		log.Error("failed to get conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return model.Conversation{}, false
	}

	if !conv.HasParticipant(middleware.GetUserID(r.Context())) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return model.Conversation{}, false
	}

	return conv, true
}
