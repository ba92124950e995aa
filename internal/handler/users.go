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

// UserHandler handles user endpoints.
type UserHandler struct {
	directory *service.DirectoryService
	logger    *logger.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(directory *service.DirectoryService, log *logger.Logger) *UserHandler {
	return &UserHandler{
		directory: directory,
		logger:    log,
	}
}

// Register handles POST /api/v1/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.Validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.directory.RegisterUser(r.Context(), &req)
	switch {
	case errors.Is(err, store.ErrUserAlreadyExists):
		writeError(w, http.StatusConflict, "user already exists")
		return
	case err != nil:
		h.logger.Error("failed to register user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Get handles GET /api/v1/users/{username}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := middleware.ValidateUsername(username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.directory.GetUser(r.Context(), username)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case err != nil:
		h.logger.Error("failed to get user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}
