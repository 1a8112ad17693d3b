package http

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"

	"tetatet/internal/api"
	"tetatet/internal/auth"
)

// AdminServer exposes management endpoints on a separate listener, bound
// to localhost by default.
type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(authService *auth.AuthService, addr, adminPassword string) *AdminServer {
	adminHandler := api.NewAdminHandler(authService)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", requireBasicAuth(adminPassword, adminHandler.AddUserHandler))

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Start() error {
	slog.Info("Admin server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

// requireBasicAuth guards a handler with basic auth (user "admin") when a
// password is configured. With no password the localhost binding is the
// only protection, so leave it unwrapped.
func requireBasicAuth(password string, h http.HandlerFunc) http.HandlerFunc {
	if password == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte("admin")) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}
