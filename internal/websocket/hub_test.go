package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestClient(hub *Hub, room string) *Client {
	client := NewClient(hub, nil, room)
	client.Send = make(chan *Message, 4)
	return client
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, ServerRoom("survival"))

	hub.registerClient(client)
	if hub.GetRoomSize("server:survival") != 1 {
		t.Fatalf("expected room size 1")
	}

	hub.unregisterClient(client)
	if hub.GetRoomSize("server:survival") != 0 {
		t.Fatalf("expected room to be empty")
	}

	// Second unregister must not close Send twice
	hub.unregisterClient(client)
}

func TestHubBroadcastToRoom(t *testing.T) {
	hub := NewHub()
	watcher := newTestClient(hub, ServerRoom("survival"))
	other := newTestClient(hub, ServerRoom("lobby"))

	hub.registerClient(watcher)
	hub.registerClient(other)

	hub.broadcastToRoom(&BroadcastMessage{Room: ServerRoom("survival"), Message: &Message{Type: "ping"}})

	select {
	case received := <-watcher.Send:
		if received.Type != "ping" {
			t.Fatalf("expected ping message, got %s", received.Type)
		}
	default:
		t.Fatalf("expected message to be delivered")
	}

	select {
	case received := <-other.Send:
		t.Fatalf("expected no message in other room, got %s", received.Type)
	default:
	}
}

func TestBroadcastToRoomNeverBlocks(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			hub.BroadcastToRoom(ServerRoom("survival"), &Message{Type: "console_output"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("BroadcastToRoom blocked without a running hub")
	}

	var nilHub *Hub
	nilHub.BroadcastToRoom("room", &Message{Type: "noop"})
}

func TestBroadcastServerEventAddsServer(t *testing.T) {
	hub := NewHub()
	hub.BroadcastServerEvent("survival", "server_started", map[string]interface{}{"pid": 42})

	bm := <-hub.broadcast
	if bm.Room != "server:survival" || bm.Message.Type != "server_started" {
		t.Fatalf("unexpected broadcast %+v", bm)
	}
	payload := bm.Message.Payload.(map[string]interface{})
	if payload["server"] != "survival" || payload["pid"] != 42 {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestClientReceivesBroadcastOverConnection(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, ServerRoom("survival"))
		hub.Register <- client
		close(registered)
		go client.WritePump()
		client.ReadPump()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	<-registered

	hub.BroadcastToRoom(ServerRoom("survival"), &Message{Type: "console_output", Payload: map[string]interface{}{"line": "hello"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &msg); err != nil {
		t.Fatalf("invalid message %q: %v", data, err)
	}
	if msg.Type != "console_output" {
		t.Fatalf("expected console_output, got %s", msg.Type)
	}
}
