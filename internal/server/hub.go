package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/tickchat/internal/delivery"
	"github.com/Tyrowin/tickchat/internal/summary"
	"github.com/gorilla/websocket"
)

// Server owns the live sessions and serves the WebSocket and HTTP API.
type Server struct {
	cfg        Config
	coord      *delivery.Coordinator
	summarizer summary.Summarizer
	origins    *OriginPolicy
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	closing  bool
}

// NewServer creates a Server. A nil summarizer disables summaries the same
// way a missing API key does.
func NewServer(cfg Config, coord *delivery.Coordinator, summarizer summary.Summarizer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:        cfg,
		coord:      coord,
		summarizer: summarizer,
		origins:    NewOriginPolicy(cfg.AllowedOrigins, logger),
		logger:     logger,
		sessions:   make(map[*Session]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// start tracks session and launches its pumps. It returns false once the
// server is shutting down.
func (s *Server) start(session *Session) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.sessions[session] = struct{}{}
	count := len(s.sessions)
	s.wg.Add(2)
	s.mu.Unlock()
	s.logger.Info("session opened", "username", session.username, "addr", session.addr, "sessions", count)

	go func() {
		defer s.wg.Done()
		session.writePump()
	}()
	go func() {
		defer s.wg.Done()
		defer s.untrack(session)
		if err := session.open(s.ctx); err != nil {
			session.logger.Error("connect failed", "error", err)
			session.disconnect()
			return
		}
		session.readPump(s.ctx)
	}()
	return true
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session)
	count := len(s.sessions)
	s.mu.Unlock()
	s.logger.Info("session closed", "username", session.username, "addr", session.addr, "sessions", count)
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// closeSessions closes every live socket. Each read pump then runs the
// normal disconnect path.
func (s *Server) closeSessions() int {
	s.mu.Lock()
	s.closing = true
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if err := session.conn.Close(); err != nil && !isExpectedCloseError(err) {
			session.logger.Warn("close session connection", "error", err)
		}
	}
	return len(sessions)
}

// Shutdown closes all sessions and waits for their goroutines, up to
// timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("closing sessions")
	closed := s.closeSessions()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("sessions closed", "count", closed)
		return nil
	case <-time.After(timeout):
		s.cancel()
		s.logger.Warn("session shutdown timed out", "count", closed)
		return context.DeadlineExceeded
	}
}
