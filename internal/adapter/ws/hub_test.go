package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()
	hub.Broadcast(context.Background(), Message{Type: "task_completed", Payload: []byte(`{}`)})
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()
	// A channel cannot be marshaled to JSON; must log, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestParseFilter(t *testing.T) {
	f := parseFilter("task_completed, task_failed,,")
	if len(f) != 2 {
		t.Fatalf("expected 2 entries, got %v", f)
	}
	c := &conn{filter: f}
	if !c.wants("task_failed") || c.wants("session_created") {
		t.Error("filter not applied")
	}
	if !(&conn{}).wants("anything") {
		t.Error("empty filter must accept everything")
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitForConns(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, hub.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversFilteredEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	defer hub.Close()

	all := dial(t, srv, "")
	onlyFailed := dial(t, srv, "?events=task_failed")
	waitForConns(t, hub, 2)

	hub.BroadcastEvent(context.Background(), "task_completed", map[string]string{"task_id": "t1"})
	hub.BroadcastEvent(context.Background(), "task_failed", map[string]string{"task_id": "t2"})

	read := func(c *websocket.Conn) Message {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	}

	if m := read(all); m.Type != "task_completed" {
		t.Errorf("first message = %s, want task_completed", m.Type)
	}
	if m := read(all); m.Type != "task_failed" {
		t.Errorf("second message = %s, want task_failed", m.Type)
	}
	if m := read(onlyFailed); m.Type != "task_failed" {
		t.Errorf("filtered client got %s", m.Type)
	}
}
