package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"smartmeter/internal/crypto"
	"smartmeter/internal/model"
	"smartmeter/internal/repository"
)

type userResponse struct {
	ID              string     `json:"_id"`
	Username        string     `json:"username"`
	Role            model.Role `json:"role"`
	AssignedDevices []string   `json:"assignedDevices"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
}

type createUserRequest struct {
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	Role            string   `json:"role"`
	AssignedDevices []string `json:"assignedDevices"`
}

type createUserResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type updateUserRequest struct {
	Username        *string   `json:"username"`
	Password        *string   `json:"password"`
	Role            *string   `json:"role"`
	AssignedDevices *[]string `json:"assignedDevices"`
}

func toUserResponse(user model.User) userResponse {
	devices := user.AssignedDevices
	if devices == nil {
		devices = []string{}
	}
	resp := userResponse{
		ID:              user.ID,
		Username:        user.Username,
		Role:            user.Role,
		AssignedDevices: devices,
	}
	if !user.CreatedAt.IsZero() {
		created := user.CreatedAt.UTC()
		resp.CreatedAt = &created
	}
	return resp
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.serverError(w, r, err, "Failed to fetch users.")
		return
	}
	resp := make([]userResponse, 0, len(users))
	for _, user := range users {
		resp = append(resp, toUserResponse(user))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body.")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" || strings.TrimSpace(req.Role) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "Username, password, and role are required.")
		return
	}
	role, ok := model.ParseRole(req.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_role", "Role must be user or admin.")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.serverError(w, r, err, "Failed to create user.")
		return
	}
	user, err := s.store.CreateUser(r.Context(), model.User{
		Username:        req.Username,
		PasswordHash:    hash,
		Role:            role,
		AssignedDevices: model.NormalizeDevices(req.AssignedDevices),
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			writeError(w, http.StatusConflict, "username_taken", "Username already exists.")
			return
		}
		s.serverError(w, r, err, "Failed to create user.")
		return
	}
	s.logger.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.String("by", userFromContext(r.Context()).ID),
	)
	writeJSON(w, http.StatusCreated, createUserResponse{Message: "User created successfully.", UserID: user.ID})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUserByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found", "User not found.")
			return
		}
		s.serverError(w, r, err, "Failed to fetch user.")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body.")
		return
	}

	update := repository.UserUpdate{}
	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if username != "" {
			update.Username = &username
		}
	}
	if req.Role != nil {
		role, ok := model.ParseRole(*req.Role)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_role", "Role must be user or admin.")
			return
		}
		update.Role = &role
	}
	if req.AssignedDevices != nil {
		devices := model.NormalizeDevices(*req.AssignedDevices)
		update.AssignedDevices = &devices
	}
	if req.Password != nil && strings.TrimSpace(*req.Password) != "" {
		hash, err := crypto.HashPassword(*req.Password)
		if err != nil {
			s.serverError(w, r, err, "Failed to update user.")
			return
		}
		update.PasswordHash = &hash
	}

	var (
		user model.User
		err  error
	)
	if update.Empty() {
		user, err = s.store.GetUserByID(r.Context(), userID)
	} else {
		user, err = s.store.UpdateUser(r.Context(), userID, update)
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "user_not_found", "User not found.")
		case errors.Is(err, repository.ErrDuplicateUsername):
			writeError(w, http.StatusConflict, "username_taken", "Username already exists.")
		default:
			s.serverError(w, r, err, "Failed to update user.")
		}
		return
	}
	s.logger.Info("user updated", zap.String("user_id", user.ID), zap.String("by", userFromContext(r.Context()).ID))
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	caller := userFromContext(r.Context())
	if caller.ID == userID {
		writeError(w, http.StatusBadRequest, "cannot_delete_self", "You cannot delete your own account.")
		return
	}

	deleted, err := s.store.DeleteUser(r.Context(), userID)
	if err != nil {
		s.serverError(w, r, err, "Failed to delete user.")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "user_not_found", "User not found.")
		return
	}
	s.logger.Info("user deleted", zap.String("user_id", userID), zap.String("by", caller.ID))
	writeJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully."})
}
