package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/Tyrowin/tickchat/internal/delivery"
	"github.com/Tyrowin/tickchat/internal/presence"
	"github.com/Tyrowin/tickchat/internal/store"
	"github.com/Tyrowin/tickchat/internal/summary"
	"github.com/gorilla/websocket"
)

const (
	testOrigin  = "http://localhost:5173"
	readTimeout = 2 * time.Second
)

type testEnv struct {
	srv        *Server
	http       *httptest.Server
	store      *store.MemoryStore
	coord      *delivery.Coordinator
	summarizer *stubSummarizer
}

type stubSummarizer struct {
	got []chat.Message
}

func (s *stubSummarizer) Summarize(_ context.Context, msgs []chat.Message) summary.Summary {
	s.got = msgs
	return summary.Summary{Points: []string{"stub"}, UpdatedAt: time.Unix(0, 0).UTC()}
}

func newTestEnv(t *testing.T, customize func(cfg *Config)) *testEnv {
	t.Helper()

	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	if customize != nil {
		customize(&cfg)
	}

	logger := slog.New(slog.DiscardHandler)
	st := store.NewMemoryStore()
	coord := delivery.NewCoordinator(st, presence.NewRegistry(logger), delivery.WithLogger(logger))
	stub := &stubSummarizer{}
	srv := NewServer(cfg, coord, stub, logger)
	hs := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		_ = srv.Shutdown(2 * time.Second)
		hs.Close()
	})
	return &testEnv{srv: srv, http: hs, store: st, coord: coord, summarizer: stub}
}

func (e *testEnv) wsURL(username string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws/" + username
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// connect dials username and consumes the directory snapshot, which holds
// one status_update per other known user.
func (e *testEnv) connect(t *testing.T, username string, known int) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(username), newOriginHeader(testOrigin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", username, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	for range known {
		readUntil(t, conn, chat.EventStatusUpdate)
	}
	waitFor(t, func() bool { return e.coord.Registry().IsOnline(username) })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("Frame is not a single JSON object: %q", raw)
	}
	return ev
}

// readUntil skips events until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if ev := readEvent(t, conn); ev["type"] == typ {
			return ev
		}
	}
	t.Fatalf("No %s event within %s", typ, readTimeout)
	return nil
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", raw)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				t.Fatalf("Connection still open after %s", readTimeout)
			}
			return
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %s", readTimeout)
}

func storedPresence(e *testEnv, username string) chat.Presence {
	user, err := e.store.GetUser(context.Background(), username)
	if err != nil {
		return ""
	}
	return user.Status
}
