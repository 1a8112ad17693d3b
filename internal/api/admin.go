package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tetatet/internal/auth"
	"tetatet/internal/content"
)

type AdminHandler struct {
	authService *auth.AuthService
}

func NewAdminHandler(authService *auth.AuthService) *AdminHandler {
	return &AdminHandler{authService: authService}
}

type AddUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AddUserHandler creates a user with a generated one-time password. The
// handler is only reachable through the admin listener.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		writeAddUserResponse(w, http.StatusBadRequest, AddUserResponse{Message: err.Error()})
		return
	}

	password, err := generatePassword()
	if err != nil {
		slog.Error("failed to generate password", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	user, err := h.authService.AddUser(req.Username, content.Sanitize(req.DisplayName), password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeAddUserResponse(w, http.StatusConflict, AddUserResponse{Message: "user already exists"})
			return
		}
		slog.Error("failed to add user", "username", req.Username, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeAddUserResponse(w, http.StatusOK, AddUserResponse{
		Success:  true,
		UserID:   user.ID,
		Username: user.UserName,
		Password: password,
	})
}

func writeAddUserResponse(w http.ResponseWriter, status int, resp AddUserResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode add user response", "error", err)
	}
}

func generatePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
