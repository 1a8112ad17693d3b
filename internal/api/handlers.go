package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"tetatet/internal/auth"
	"tetatet/internal/directory"
	"tetatet/internal/filestore"
	"tetatet/internal/storage"

	"github.com/go-playground/validator/v10"
)

type API struct {
	auth      *auth.AuthService
	directory *directory.Directory
	files     filestore.FileStore
	storage   *storage.BboltStorage
	baseURL   string
	validate  *validator.Validate
}

func New(authService *auth.AuthService, dir *directory.Directory, files filestore.FileStore, store *storage.BboltStorage, baseURL string) *API {
	return &API{
		auth:      authService,
		directory: dir,
		files:     files,
		storage:   store,
		baseURL:   baseURL,
		validate:  validator.New(),
	}
}

func getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the session token and passes the user id through.
func (a *API) RequireAuth(h func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.Resolve(getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r, userID)
	}
}

// RequireSameOrigin rejects cross-origin state-changing requests.
func RequireSameOrigin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = r.Header.Get("Referer")
		}
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		h(w, r)
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		http.Error(w, "Missing username or password", http.StatusBadRequest)
		return
	}

	loginResp, _ := a.auth.Login(req)
	if !loginResp.Success {
		w.WriteHeader(http.StatusUnauthorized)
		if err := json.NewEncoder(w).Encode(loginResp); err != nil {
			slog.Error("failed to encode login response", "error", err)
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(loginResp); err != nil {
		slog.Error("failed to encode login response", "error", err)
	}
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request, userID string) {
	rec, err := a.storage.GetUser(userID)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec.User); err != nil {
		slog.Error("failed to encode me response", "error", err)
	}
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request, userID string) {
	users, err := a.directory.Users()
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(users); err != nil {
		slog.Error("failed to encode users response", "error", err)
	}
}
