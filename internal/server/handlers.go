package server

import (
	"net/http"

	"github.com/Tyrowin/tickchat/internal/chat"
)

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if s.origins.Allows(origin) {
		return true
	}
	s.logger.Warn("blocked websocket connection from disallowed origin", "origin", origin)
	return false
}

// handleWebSocket upgrades GET /ws/{username} and hands the connection to a
// new Session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if err := chat.ValidateUsername(username); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "username", username, "error", err)
		return
	}

	session := newSession(conn, s, username, r.RemoteAddr)
	if !s.start(session) {
		_ = conn.Close()
	}
}

// handleHealth reports that the server is up.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("tickchat server is running"))
}
