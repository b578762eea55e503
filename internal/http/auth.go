package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"smartmeter/internal/auth"
	"smartmeter/internal/crypto"
	"smartmeter/internal/model"
	"smartmeter/internal/repository"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type registerRequest struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	MeterIPs json.RawMessage `json:"meterIPs"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body.")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials", "Username and password are required.")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
			return
		}
		s.serverError(w, r, err, "Failed to log in.")
		return
	}
	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.TokenTTL, auth.Claims{
		UserID: user.ID,
		Role:   string(user.Role),
	})
	if err != nil {
		s.serverError(w, r, err, "Failed to issue token.")
		return
	}
	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: toUserResponse(user)})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body.")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "Username and password are required.")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.serverError(w, r, err, "Failed to register user.")
		return
	}
	user, err := s.store.CreateUser(r.Context(), model.User{
		Username:        req.Username,
		PasswordHash:    hash,
		Role:            model.RoleUser,
		AssignedDevices: model.NormalizeDevices(stringList(req.MeterIPs)),
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			writeError(w, http.StatusConflict, "username_taken", "Username already exists.")
			return
		}
		s.serverError(w, r, err, "Failed to register user.")
		return
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.Int("devices", len(user.AssignedDevices)))
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Registration successful. You can now log in."})
}

// stringList reads a JSON array of strings; anything else yields no entries.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
