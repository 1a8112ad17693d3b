package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

type tokenResolver interface {
	Resolve(token string) (string, error)
}

// Server upgrades authenticated HTTP requests to websocket sessions. A
// request without a resolvable token is rejected before the upgrade and
// never reaches the presence registry.
type Server struct {
	auth     tokenResolver
	router   eventRouter
	upgrader *websocket.Upgrader
}

func NewServer(auth tokenResolver, router eventRouter) *Server {
	return &Server{
		auth:   auth,
		router: router,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Same-origin is enforced by the cookie token.
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Resolve(getToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(s.router, ws, userID)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Debug("connection closed", "user_id", userID, "error", err)
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
