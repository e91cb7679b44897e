package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/gorilla/websocket"
)

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	env := newTestEnv(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("alice"), newOriginHeader("http://evil.example"))
	if err == nil {
		t.Fatal("Expected handshake to fail for a disallowed origin")
	}
	if resp == nil {
		t.Fatalf("Expected an HTTP response, got error %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, resp.StatusCode)
	}
	if env.coord.Registry().IsOnline("alice") {
		t.Error("Rejected connection must not be registered")
	}
}

func TestWebSocketRejectsInvalidUsername(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/ws/bad%20name")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestSessionConnectAnnouncesPresence(t *testing.T) {
	env := newTestEnv(t, nil)
	bob := env.connect(t, "bob", 0)

	alice := env.connect(t, "alice", 0)

	snapshot := readUntil(t, alice, chat.EventStatusUpdate)
	if snapshot["username"] != "bob" || snapshot["status"] != "online" {
		t.Errorf("Unexpected snapshot entry: %v", snapshot)
	}
	announce := readUntil(t, bob, chat.EventStatusUpdate)
	if announce["username"] != "alice" || announce["status"] != "online" {
		t.Errorf("Unexpected announcement: %v", announce)
	}
	if got := storedPresence(env, "alice"); got != chat.Online {
		t.Errorf("Expected stored presence online, got %q", got)
	}
}

func TestSessionDeliversMessageAndTick(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.connect(t, "alice", 0)
	bob := env.connect(t, "bob", 1)
	readUntil(t, alice, chat.EventStatusUpdate)

	sendJSON(t, alice, map[string]any{"type": "text", "id": 1697040000123, "target": "bob", "message": "hi"})

	msg := readUntil(t, bob, chat.EventText)
	if msg["message"] != "hi" || msg["sender"] != "alice" || msg["status"] != "delivered" {
		t.Errorf("Unexpected message: %v", msg)
	}
	tick := readUntil(t, alice, chat.EventMessageStatusUpdate)
	if tick["status"] != "delivered" {
		t.Errorf("Expected delivered tick, got %v", tick)
	}
	if tick["id"] != float64(1697040000123) {
		t.Errorf("Expected the client id back as a number, got %#v", tick["id"])
	}
}

func TestSessionRedeliversOnReconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.connect(t, "alice", 0)

	sendJSON(t, alice, map[string]any{"type": "text", "id": "m-1", "target": "bob", "message": "are you there?"})
	waitFor(t, func() bool {
		pending, err := env.store.PendingFor(context.Background(), "bob")
		return err == nil && len(pending) == 1
	})
	expectNoMessage(t, alice, 100*time.Millisecond)

	env.connect(t, "bob", 1)

	tick := readUntil(t, alice, chat.EventMessageStatusUpdate)
	if tick["id"] != "m-1" || tick["status"] != "delivered" {
		t.Errorf("Unexpected tick: %v", tick)
	}
}

func TestSessionMarkRead(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.connect(t, "alice", 0)
	bob := env.connect(t, "bob", 1)
	readUntil(t, alice, chat.EventStatusUpdate)

	sendJSON(t, alice, map[string]any{"type": "text", "target": "bob", "message": "read me"})
	readUntil(t, bob, chat.EventText)
	readUntil(t, alice, chat.EventMessageStatusUpdate)

	sendJSON(t, bob, map[string]any{"type": "mark_read", "target": "alice"})

	ev := readUntil(t, alice, chat.EventBulkReadUpdate)
	if ev["reader"] != "bob" {
		t.Errorf("Expected reader bob, got %v", ev["reader"])
	}
}

func TestSessionTypingAndMalformedEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.connect(t, "alice", 0)
	bob := env.connect(t, "bob", 1)
	readUntil(t, alice, chat.EventStatusUpdate)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	sendJSON(t, alice, map[string]any{"type": "bogus", "target": "bob"})
	sendJSON(t, alice, map[string]any{"type": "text", "target": "bob"})
	sendJSON(t, alice, map[string]any{"type": "typing", "target": "bob", "isTyping": true})

	ev := readEvent(t, bob)
	if ev["type"] != chat.EventTypingIndicator || ev["username"] != "alice" || ev["isTyping"] != true {
		t.Errorf("Expected only the typing indicator, got %v", ev)
	}
}

func TestSessionDisconnectAnnouncesOffline(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.connect(t, "alice", 0)
	bob := env.connect(t, "bob", 1)
	readUntil(t, alice, chat.EventStatusUpdate)

	err := bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		t.Fatalf("Failed to send close: %v", err)
	}

	ev := readUntil(t, alice, chat.EventStatusUpdate)
	if ev["username"] != "bob" || ev["status"] != "offline" {
		t.Errorf("Expected bob offline, got %v", ev)
	}
	waitFor(t, func() bool { return storedPresence(env, "bob") == chat.Offline })
	if env.coord.Registry().IsOnline("bob") {
		t.Error("bob should no longer be registered")
	}
}

func TestSessionReconnectKeepsNewestConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.connect(t, "alice", 0)
	env.connect(t, "alice", 0)
	waitFor(t, func() bool { return env.srv.SessionCount() == 2 })

	_ = first.Close()
	waitFor(t, func() bool { return env.srv.SessionCount() == 1 })

	if !env.coord.Registry().IsOnline("alice") {
		t.Error("Closing the stale connection must keep the new one registered")
	}
	if got := storedPresence(env, "alice"); got != chat.Online {
		t.Errorf("Expected alice to stay online, got %q", got)
	}
}

func TestSessionRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateBurst = 2
		cfg.RateRefill = time.Hour
	})
	alice := env.connect(t, "alice", 0)
	bob := env.connect(t, "bob", 1)
	readUntil(t, alice, chat.EventStatusUpdate)

	for range 5 {
		sendJSON(t, alice, map[string]any{"type": "typing", "target": "bob", "isTyping": true})
	}

	readUntil(t, bob, chat.EventTypingIndicator)
	readUntil(t, bob, chat.EventTypingIndicator)
	expectNoMessage(t, bob, 200*time.Millisecond)
}

func TestSessionMessageTooLarge(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.MaxMessageSize = 64
	})
	alice := env.connect(t, "alice", 0)

	sendJSON(t, alice, map[string]any{"type": "text", "target": "bob", "message": strings.Repeat("x", 200)})

	expectClosed(t, alice)
	waitFor(t, func() bool { return storedPresence(env, "alice") == chat.Offline })
}

func TestSessionDirectorySyncLargerThanSendBuffer(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.SendBufferSize = 8 })
	const known = 100
	for i := range known {
		name := fmt.Sprintf("user%03d", i)
		if err := env.store.SetPresence(context.Background(), name, chat.Offline, time.Now().UTC()); err != nil {
			t.Fatalf("Failed to seed %s: %v", name, err)
		}
	}

	alice := env.connect(t, "alice", known)

	if !env.coord.Registry().IsOnline("alice") {
		t.Error("Expected alice to stay registered after the directory sync")
	}
	if got := storedPresence(env, "alice"); got != chat.Online {
		t.Errorf("Expected alice stored online, got %q", got)
	}
	expectNoMessage(t, alice, 100*time.Millisecond)
}

func TestSessionPendingTicksLargerThanSendBuffer(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.SendBufferSize = 8 })
	alice := env.connect(t, "alice", 0)

	const pending = 200
	for i := range pending {
		msg := chat.Message{
			ID:        chat.NewMessageID(),
			Sender:    "alice",
			Target:    "bob",
			Body:      fmt.Sprintf("queued %d", i),
			Kind:      chat.KindText,
			Timestamp: time.Now().UTC(),
			Status:    chat.StatusSent,
		}
		if err := env.store.InsertMessage(context.Background(), msg); err != nil {
			t.Fatalf("Failed to seed message %d: %v", i, err)
		}
	}

	env.connect(t, "bob", 1)

	for i := range pending {
		tick := readUntil(t, alice, chat.EventMessageStatusUpdate)
		if tick["status"] != "delivered" {
			t.Fatalf("Tick %d has status %v", i, tick["status"])
		}
	}

	if !env.coord.Registry().IsOnline("alice") {
		t.Error("Expected alice to stay registered while ticks were flushed")
	}
	if got := storedPresence(env, "alice"); got != chat.Online {
		t.Errorf("Expected alice stored online, got %q", got)
	}
	left, err := env.store.PendingFor(context.Background(), "bob")
	if err != nil {
		t.Fatalf("PendingFor failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("Expected nothing pending for bob, got %d", len(left))
	}
}

func TestServerShutdownClosesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	conns := []*websocket.Conn{
		env.connect(t, "alice", 0),
		env.connect(t, "bob", 1),
		env.connect(t, "carol", 2),
	}

	if err := env.srv.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	for _, conn := range conns {
		expectClosed(t, conn)
	}
	if n := env.srv.SessionCount(); n != 0 {
		t.Errorf("Expected no sessions after shutdown, got %d", n)
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		if got := storedPresence(env, name); got != chat.Offline {
			t.Errorf("Expected %s offline after shutdown, got %q", name, got)
		}
	}
}

func TestSessionSendAfterClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBufferSize = 1
	cfg.SendTimeout = 20 * time.Millisecond
	srv := NewServer(cfg, nil, nil, nil)
	session := newSession(nil, srv, "alice", "test")

	if err := session.Send([]byte("{}")); err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	if err := session.Send([]byte("{}")); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("Expected ErrSendBufferFull, got %v", err)
	}

	_ = session.Close()
	_ = session.Close()
	if err := session.Send([]byte("{}")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
	if session.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", session.State())
	}
}

func TestSessionSendWaitsForRoom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBufferSize = 1
	cfg.SendTimeout = 2 * time.Second
	session := newSession(nil, NewServer(cfg, nil, nil, nil), "alice", "test")

	if err := session.Send([]byte("{}")); err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		<-session.send
	}()
	if err := session.Send([]byte("{}")); err != nil {
		t.Errorf("Expected send to wait for a slow writer, got %v", err)
	}
}

func TestSessionSendFailsOnceWriterStopped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBufferSize = 1
	cfg.SendTimeout = time.Minute
	session := newSession(nil, NewServer(cfg, nil, nil, nil), "alice", "test")

	if err := session.Send([]byte("{}")); err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	close(session.done)

	start := time.Now()
	if err := session.Send([]byte("{}")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send waited %s on a stopped writer", elapsed)
	}
}
