package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes returns the handler serving the WebSocket endpoint, the HTTP API,
// health and metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws/{username}", s.handleWebSocket)

	mux.HandleFunc("GET /check_user/{username}", s.handleCheckUser)
	mux.HandleFunc("GET /messages/{username}", s.handleMessages)
	mux.HandleFunc("DELETE /chat/{user1}/{user2}", s.handleDeleteChat)
	mux.HandleFunc("DELETE /message/{id}", s.handleDeleteMessage)
	mux.HandleFunc("GET /summary/{user1}/{user2}", s.handleSummary)

	return s.withCORS(mux)
}

// withCORS adds CORS headers for allowed origins and answers preflight
// requests.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.origins.Allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
