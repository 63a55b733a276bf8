package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/homeboard/internal/auth"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, householdID int64) *Client {
	return &Client{
		hub:         hub,
		householdID: householdID,
		send:        make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := testHub()

	c1 := mockClient(hub, 1)
	c2 := mockClient(hub, 1)
	c3 := mockClient(hub, 2)

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	if got := hub.ClientCount(1); got != 2 {
		t.Fatalf("expected 2 clients for household 1, got %d", got)
	}
	if got := hub.ClientCount(2); got != 1 {
		t.Fatalf("expected 1 client for household 2, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount(1); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	hub.Unregister(c3)
	if got := hub.ClientCount(1) + hub.ClientCount(2); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := testHub()
	c := mockClient(hub, 1)
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(1); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcastScopedToHousehold(t *testing.T) {
	hub := testHub()

	mine := mockClient(hub, 1)
	theirs := mockClient(hub, 2)
	hub.Register(mine)
	hub.Register(theirs)

	hub.Broadcast(1, NewMessage("calendar_event", "created", 42, map[string]any{"provenance": "manual"}))

	select {
	case data := <-mine.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != "calendar_event_created" {
			t.Errorf("expected type calendar_event_created, got %s", got.Type)
		}
		if got.ID != 42 {
			t.Errorf("expected id 42, got %d", got.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}

	select {
	case data := <-theirs.send:
		t.Fatalf("household 2 received %s", data)
	default:
	}

	hub.Unregister(mine)
	hub.Unregister(theirs)
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := testHub()
	// Should not panic
	hub.Broadcast(1, NewMessage("calendar_sync", "completed", 0, nil))
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := testHub()

	c := mockClient(hub, 1)
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast(1, NewMessage("test", "fill", int64(i), nil))
	}

	// This should drop the message, not panic or block
	hub.Broadcast(1, NewMessage("test", "dropped", 999, nil))

	count := 0
	for {
		select {
		case <-c.send:
			count++
			continue
		default:
		}
		break
	}
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("calendar_sync", "running", 0, nil)
	if msg.Type != "calendar_sync_running" {
		t.Errorf("expected type calendar_sync_running, got %s", msg.Type)
	}
	if msg.Entity != "calendar_sync" {
		t.Errorf("expected entity calendar_sync, got %s", msg.Entity)
	}
	if msg.Action != "running" {
		t.Errorf("expected action running, got %s", msg.Action)
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := testHub()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hid := int64(i%3 + 1)
			c := mockClient(hub, hid)
			hub.Register(c)
			hub.Broadcast(hid, NewMessage("test", "concurrent", 0, nil))
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	for hid := int64(1); hid <= 3; hid++ {
		if got := hub.ClientCount(hid); got != 0 {
			t.Errorf("household %d: expected 0 clients after concurrent test, got %d", hid, got)
		}
	}
}

func TestHandleWebSocketDelivers(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithAuth(r.Context(), auth.AuthContext{HouseholdID: 5})
		HandleWebSocket(hub)(w, r.WithContext(ctx))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount(5) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(5, NewMessage("calendar_sync", "idle", 0, nil))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "calendar_sync_idle" {
		t.Errorf("expected calendar_sync_idle, got %s", got.Type)
	}
}

func TestHandleWebSocketRequiresHousehold(t *testing.T) {
	hub := testHub()
	rec := httptest.NewRecorder()
	HandleWebSocket(hub)(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
