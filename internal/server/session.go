package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/Tyrowin/tickchat/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	// ErrSessionClosed is returned by Send after the session was closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendBufferFull is returned by Send when the outbound queue stayed
	// full for the whole send timeout.
	ErrSendBufferFull = errors.New("send buffer full")
)

// SessionState is the lifecycle stage of a Session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Session is one WebSocket connection bound to a username. It is the
// presence.Conn the registry pushes events through.
type Session struct {
	conn     *websocket.Conn
	server   *Server
	username string
	addr     string
	logger   *slog.Logger

	mu          sync.RWMutex
	send        chan []byte
	sendTimeout time.Duration
	done        chan struct{}
	state       SessionState
	closed      bool

	limiter        *rateLimiter
	disconnectOnce sync.Once
}

func newSession(conn *websocket.Conn, srv *Server, username, addr string) *Session {
	if conn != nil {
		conn.SetReadLimit(int64(srv.cfg.MaxMessageSize))
	}
	return &Session{
		conn:        conn,
		server:      srv,
		username:    username,
		addr:        addr,
		logger:      srv.logger.With("username", username, "addr", addr),
		send:        make(chan []byte, srv.cfg.SendBufferSize),
		sendTimeout: srv.cfg.SendTimeout,
		done:        make(chan struct{}),
		state:       StateConnecting,
		limiter:     newRateLimiter(srv.cfg.RateBurst, srv.cfg.RateRefill),
	}
}

// Username returns the user this session belongs to.
func (s *Session) Username() string {
	return s.username
}

// State returns the current lifecycle stage.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Send queues payload for the write pump. While the queue is full it waits
// up to the send timeout for the pump to drain, and gives up at once when
// the pump has stopped.
func (s *Session) Send(payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-timer.C:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.state = StateClosed
	close(s.send)
	return nil
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.state = state
	}
}

// open runs the connect sequence: presence, directory snapshot for this
// session only, then redelivery of anything queued while offline.
func (s *Session) open(ctx context.Context) error {
	coord := s.server.coord

	snapshot, err := coord.OnConnect(ctx, s.username, s)
	if err != nil {
		return err
	}
	for _, ev := range snapshot {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("encode directory entry", "peer", ev.Username, "error", err)
			continue
		}
		if err := s.Send(payload); err != nil {
			return fmt.Errorf("directory sync: %w", err)
		}
	}
	if _, err := coord.DeliverPending(ctx, s.username); err != nil {
		s.logger.Error("pending delivery failed", "error", err)
	}

	s.setState(StateOpen)
	return nil
}

// disconnect runs the coordinator's disconnect exactly once per session.
func (s *Session) disconnect() {
	s.disconnectOnce.Do(func() {
		if err := s.server.coord.OnDisconnect(context.Background(), s.username, s); err != nil {
			s.logger.Error("disconnect bookkeeping failed", "error", err)
		}
		_ = s.Close()
	})
}

func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Warn("set initial read deadline", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.logger.Warn("set read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError classifies why the read loop stopped.
func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warn("message exceeded maximum size", "limit", s.server.cfg.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		s.logger.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.logger.Info("connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseMessageTooBig):
		s.logger.Warn("unexpected websocket close", "error", err)
	default:
		s.logger.Warn("websocket read error", "error", err)
	}
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.disconnect()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("close connection in readPump", "error", err)
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		if !s.limiter.allow() {
			s.logger.Warn("rate limit exceeded, discarding event",
				"burst", s.server.cfg.RateBurst, "interval", s.server.cfg.RateRefill)
			metrics.InboundEvents.WithLabelValues("unknown", "rate_limited").Inc()
			continue
		}

		s.dispatch(ctx, raw)
	}
}

// dispatch handles one inbound event. Failures are logged and never close
// the connection.
func (s *Session) dispatch(ctx context.Context, raw []byte) {
	ev, err := chat.ParseInbound(raw)
	if err != nil {
		s.logger.Info("ignoring inbound event", "error", err)
		metrics.InboundEvents.WithLabelValues("unknown", "invalid").Inc()
		return
	}

	start := time.Now()
	var typ string
	switch req := ev.(type) {
	case chat.SendRequest:
		typ = string(req.Kind)
		if req.Kind == "" {
			typ = chat.EventText
		}
		_, err = s.server.coord.SendMessage(ctx, s.username, req)
	case chat.MarkReadRequest:
		typ = chat.EventMarkRead
		_, err = s.server.coord.MarkRead(ctx, s.username, req.Target)
	case chat.TypingRequest:
		typ = chat.EventTyping
		s.server.coord.RelayTyping(s.username, req.Target, req.IsTyping)
	}
	metrics.EventProcessingDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Error("inbound event failed", "type", typ, "error", err)
		metrics.InboundEvents.WithLabelValues(typ, "failed").Inc()
		return
	}
	metrics.InboundEvents.WithLabelValues(typ, "ok").Inc()
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(s.done)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("close connection in writePump", "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if !s.write(payload, ok) {
				return
			}
		case <-ticker.C:
			if !s.ping() {
				return
			}
		}
	}
}

// write sends one event per frame, or the close frame once the queue was
// closed. It returns false when the pump should stop.
func (s *Session) write(payload []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Warn("set write deadline", "error", err)
		return false
	}

	if !ok {
		err := s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("write close message", "error", err)
		}
		return false
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Warn("write message", "error", err)
		}
		return false
	}
	return true
}

func (s *Session) ping() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Warn("set write deadline for ping", "error", err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.logger.Warn("write ping", "error", err)
		return false
	}
	return true
}
