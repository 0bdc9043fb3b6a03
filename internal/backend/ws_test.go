package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWSClientDecodesEventTypes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","text":"hi"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"eoc"}`))
	}))
	defer srv.Close()

	httpURL := "http" + srv.URL[len("http"):]
	client, err := NewWSClient(httpURL, "sess1")
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	var events []WSEvent
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		client.Run(ctx, func(e WSEvent) {
			events = append(events, e)
			if e.Type == WSEndOfCall {
				client.Close()
			}
		}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after eoc")
	}

	if len(events) != 2 {
		t.Fatalf("events = %+v, want 2", events)
	}
	if events[0].Type != WSMessage || events[0].Text != "hi" {
		t.Fatalf("events[0] = %+v", events[0])
	}
	if events[1].Type != WSEndOfCall {
		t.Fatalf("events[1] = %+v", events[1])
	}
}

func TestSessionWSURLRewritesSchemeAndPath(t *testing.T) {
	got, err := sessionWSURL("https://backend.example.com/api", "abc")
	if err != nil {
		t.Fatalf("sessionWSURL: %v", err)
	}
	want := "wss://backend.example.com/api/ws/abc"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
