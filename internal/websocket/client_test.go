package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
)

func TestScope(t *testing.T) {
	hub := NewHub(slog.Default())
	if got := mockClient(hub).Scope(); got != "broadcast" {
		t.Errorf("Scope = %q, want broadcast", got)
	}
	if got := mockUserClient(hub, 7).Scope(); got != "user:7" {
		t.Errorf("Scope = %q, want user:7", got)
	}
}

func TestGreetNamesScope(t *testing.T) {
	c := mockUserClient(NewHub(slog.Default()), 7)
	c.greet()

	var got Message
	if err := json.Unmarshal(<-c.send, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "session_opened" || got.ID != 7 || got.Extra["scope"] != "user:7" {
		t.Errorf("greeting = %+v, want session_opened for user:7", got)
	}
}

func readMessage(t *testing.T, ctx context.Context, conn *ws.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUserSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	srv := httptest.NewServer(HandleWebSocket(hub, logger))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := ws.Dial(ctx, url+"?user_id=7", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	hello := readMessage(t, ctx, conn)
	if hello.Type != "session_opened" || hello.Extra["scope"] != "user:7" {
		t.Fatalf("greeting = %+v, want session_opened for user:7", hello)
	}

	if n, _ := hub.SendToUser(8, NewMessage("reminder", "notify", 1, nil)); n != 0 {
		t.Errorf("delivered to user 8 = %d, want 0", n)
	}
	if n, err := hub.SendToUser(7, NewMessage("reminder", "notify", 3, nil)); err != nil || n != 1 {
		t.Fatalf("SendToUser = %d, %v, want 1", n, err)
	}
	if got := readMessage(t, ctx, conn); got.Type != "reminder_notify" || got.ID != 3 {
		t.Errorf("got %s id %d, want reminder_notify id 3", got.Type, got.ID)
	}

	conn.Close(ws.StatusNormalClosure, "")
	waitForClients(t, hub, 0)
}

func TestBroadcastSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	srv := httptest.NewServer(HandleWebSocket(hub, logger))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if hello := readMessage(t, ctx, conn); hello.Extra["scope"] != "broadcast" {
		t.Fatalf("greeting = %+v, want broadcast scope", hello)
	}
	hub.Broadcast(NewMessage("checklist", "advanced", 5, nil))
	if got := readMessage(t, ctx, conn); got.Type != "checklist_advanced" {
		t.Errorf("got %s, want checklist_advanced", got.Type)
	}
}

func TestSessionRejectsBadUserID(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(HandleWebSocket(hub, slog.Default()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?user_id=abc", nil)
	if err == nil {
		t.Fatal("expected dial error")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %v, want 400", resp)
	}
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("clients = %d, want 0", got)
	}
}
