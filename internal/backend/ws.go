package backend

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/arch7tect/sip-gateway/internal/logging"
)

// ReconnectDelay is the fixed backoff for the backend WebSocket: no
// exponential ramp, just a flat 5 seconds between attempts.
const ReconnectDelay = 5 * time.Second

// WSEventType classifies a frame from the backend WebSocket.
type WSEventType int

const (
	WSMessage WSEventType = iota
	WSEndOfStream
	WSEndOfCall
	WSTimeout
	WSClose
	WSUnknown
)

// WSEvent is one decoded backend WebSocket frame.
type WSEvent struct {
	Type WSEventType
	Text string
	Raw  string
}

func parseWSEvent(raw []byte) WSEvent {
	parsed := gjson.ParseBytes(raw)
	kind := parsed.Get("type").String()
	ev := WSEvent{Raw: string(raw), Text: parsed.Get("text").String()}
	switch kind {
	case "message":
		ev.Type = WSMessage
	case "eos":
		ev.Type = WSEndOfStream
	case "eoc":
		ev.Type = WSEndOfCall
	case "timeout":
		ev.Type = WSTimeout
	case "close":
		ev.Type = WSClose
	default:
		ev.Type = WSUnknown
	}
	return ev
}

// WSClient maintains a reconnecting WebSocket connection to
// ws(s)://<host>/ws/{session_id} and delivers decoded events to a handler.
// One WSClient serves one call's session for its lifetime.
type WSClient struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSClient builds a WSClient for sessionID against a backend HTTP
// baseURL, rewriting the scheme to ws/wss and the path to /ws/{session_id}.
func NewWSClient(baseURL, sessionID string) (*WSClient, error) {
	target, err := sessionWSURL(baseURL, sessionID)
	if err != nil {
		return nil, &TransientError{Op: "ws_dial", Err: err}
	}
	return &WSClient{url: target}, nil
}

func sessionWSURL(baseURL, sessionID string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws/" + url.PathEscape(sessionID)
	return parsed.String(), nil
}

// Run connects and reconnects until ctx is canceled or Close is called,
// invoking onEvent for each decoded frame and onDisconnect whenever the
// connection drops (including the final, deliberate close).
func (c *WSClient) Run(ctx context.Context, onEvent func(WSEvent), onDisconnect func(error)) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if onDisconnect != nil {
				onDisconnect(&TransientError{Op: "ws_dial", Err: err})
			}
			if !c.sleepOrDone(ctx, ReconnectDelay) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		readLoop(conn, onEvent)

		c.mu.Lock()
		c.conn = nil
		alreadyClosed := c.closed
		c.mu.Unlock()

		if onDisconnect != nil {
			onDisconnect(nil)
		}
		if alreadyClosed {
			return
		}
		if !c.sleepOrDone(ctx, ReconnectDelay) {
			return
		}
	}
}

func readLoop(conn *websocket.Conn, onEvent func(WSEvent)) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		event := parseWSEvent(raw)
		if event.Type == WSUnknown {
			logging.Warn("backend ws frame not recognized", logging.Field("raw", event.Raw))
		}
		if onEvent != nil {
			onEvent(event)
		}
		if event.Type == WSEndOfCall || event.Type == WSClose {
			return
		}
	}
}

func (c *WSClient) sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close stops the client and closes any live connection; Run returns
// afterward once its current read unblocks.
func (c *WSClient) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
