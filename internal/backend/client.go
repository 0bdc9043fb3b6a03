// Package backend implements the HTTP and WebSocket clients the Call
// Controller uses to talk to the remote AI backend: external interfaces
// whose wire protocol is defined by the backend, not this module. The
// multipart-building and connection-pooling style follows a
// gateway-service pattern of one pooled *http.Client per process, session
// id passed per call rather than baked into the client; gjson picks
// optional fields out of the backend's loosely-typed JSON responses over
// the session_v2/start/commit/rollback/synthesize/transcribe surface.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/arch7tect/sip-gateway/internal/textutil"
)

// DefaultTimeout is the connect/read/write budget for backend requests.
const DefaultTimeout = 60 * time.Second

// Client is the backend HTTP client, one per process (session id is passed
// per call, not baked into the client).
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client against baseURL, optionally authenticating
// with a bearer token (empty disables auth).
func NewClient(baseURL, token string, poolSize int) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    newPooledHTTPClient(poolSize, DefaultTimeout),
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Capabilities checks GET /capabilities at startup; any 2xx is success.
func (c *Client) Capabilities(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/capabilities", nil)
	if err != nil {
		return &TransientError{Op: "capabilities", Err: err}
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Op: "capabilities", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &GenericError{Op: "capabilities", Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// Session is the result of session creation.
type Session struct {
	SessionID string
	Greeting  string
	HasGreeting bool
}

// SessionRequest is the multipart body's embedded JSON.
type SessionRequest struct {
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	CommunicationID *string       `json:"communication_id"`
	Args           []any          `json:"args"`
	Kwargs         map[string]any `json:"kwargs"`
}

// CreateSession issues POST /session_v2 with the JSON body embedded as a
// multipart "body" field.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if req.Args == nil {
		req.Args = []any{}
	}
	if req.Kwargs == nil {
		req.Kwargs = map[string]any{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Session{}, &ProtocolError{Op: "session_v2", Err: err}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	field, err := w.CreateFormField("body")
	if err != nil {
		return Session{}, &ProtocolError{Op: "session_v2", Err: err}
	}
	if _, err := field.Write(payload); err != nil {
		return Session{}, &ProtocolError{Op: "session_v2", Err: err}
	}
	if err := w.Close(); err != nil {
		return Session{}, &ProtocolError{Op: "session_v2", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session_v2", &buf)
	if err != nil {
		return Session{}, &TransientError{Op: "session_v2", Err: err}
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(httpReq)

	body, status, err := c.do(httpReq)
	if err != nil {
		return Session{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return Session{}, statusError("session_v2", status, body)
	}

	result := gjson.ParseBytes(body)
	sessionID := result.Get("session.session_id").String()
	if sessionID == "" {
		return Session{}, &ProtocolError{Op: "session_v2", Err: fmt.Errorf("missing session.session_id in response")}
	}
	greeting := result.Get("greeting")
	return Session{SessionID: sessionID, Greeting: greeting.String(), HasGreeting: greeting.Exists()}, nil
}

// Start issues POST /session/{id}/start.
func (c *Client) Start(ctx context.Context, sessionID, message string, kwargs map[string]any) (json.RawMessage, error) {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.postJSON(ctx, "start", "/session/"+url.PathEscape(sessionID)+"/start", map[string]any{
		"message": message,
		"kwargs":  kwargs,
	})
}

// CommitResult is POST /session/{id}/commit's response.
type CommitResult struct {
	Response    string
	HasResponse bool
	SessionEnds bool
	Raw         json.RawMessage
}

// Commit issues POST /session/{id}/commit.
func (c *Client) Commit(ctx context.Context, sessionID string) (CommitResult, error) {
	raw, err := c.postJSON(ctx, "commit", "/session/"+url.PathEscape(sessionID)+"/commit", map[string]any{})
	if err != nil {
		return CommitResult{}, err
	}
	parsed := gjson.ParseBytes(raw)
	response := parsed.Get("response")
	return CommitResult{
		Response:    response.String(),
		HasResponse: response.Exists(),
		SessionEnds: parsed.Get("metadata.SESSION_ENDS").Bool(),
		Raw:         raw,
	}, nil
}

// Rollback issues POST /session/{id}/rollback.
func (c *Client) Rollback(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.postJSON(ctx, "rollback", "/session/"+url.PathEscape(sessionID)+"/rollback", map[string]any{})
}

// DeleteSession issues DELETE /session/{id}?status=... with a close status
// drawn from the call's derived close-status enumeration.
func (c *Client) DeleteSession(ctx context.Context, sessionID, status string) error {
	target := c.baseURL + "/session/" + url.PathEscape(sessionID) + "?status=" + textutil.URLEncode(status)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return &TransientError{Op: "delete_session", Err: err}
	}
	c.authorize(req)
	body, status2, err := c.do(req)
	if err != nil {
		return err
	}
	if status2 < 200 || status2 >= 300 {
		return statusError("delete_session", status2, body)
	}
	return nil
}

// Transcribe posts wavBytes to POST /transcribe with Content-Type: audio/wav
// and accepts either a bare JSON string or {"text": "..."}.
func (c *Client) Transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(wavBytes))
	if err != nil {
		return "", &TransientError{Op: "transcribe", Err: err}
	}
	req.Header.Set("Content-Type", "audio/wav")
	c.authorize(req)

	body, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", statusError("transcribe", status, body)
	}

	parsed := gjson.ParseBytes(body)
	if parsed.Type == gjson.String {
		return parsed.String(), nil
	}
	if text := parsed.Get("text"); text.Exists() {
		return text.String(), nil
	}
	return "", &ProtocolError{Op: "transcribe", Err: fmt.Errorf("unrecognized transcribe response shape")}
}

// Synthesize issues GET /session/{id}/synthesize?text=...&format=wav and
// returns the raw WAV bytes, following redirects since the backend
// contract does not forbid a synthesize redirect.
func (c *Client) Synthesize(ctx context.Context, sessionID, text, format string) ([]byte, error) {
	if format == "" {
		format = "wav"
	}
	target := c.baseURL + "/session/" + url.PathEscape(sessionID) + "/synthesize?text=" + textutil.URLEncode(text) + "&format=" + format

	for redirects := 0; redirects < 5; redirects++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, &TransientError{Op: "synthesize", Err: err}
		}
		c.authorize(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &TransientError{Op: "synthesize", Err: err}
		}
		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			resp.Body.Close()
			next := textutil.ResolveRedirect(target, location)
			if next == "" {
				return nil, &GenericError{Op: "synthesize", Status: resp.StatusCode, Body: "redirect missing Location"}
			}
			target = next
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &TransientError{Op: "synthesize", Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, statusError("synthesize", resp.StatusCode, body)
		}
		return body, nil
	}
	return nil, &GenericError{Op: "synthesize", Status: 0, Body: "too many redirects"}
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload map[string]any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, statusError(op, status, body)
	}
	return body, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &TransientError{Op: req.URL.Path, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransientError{Op: req.URL.Path, Err: err}
	}
	return body, resp.StatusCode, nil
}

// statusError maps a non-2xx status to the backend error taxonomy: 403 is
// a PermissionError, everything else a GenericError with the body as
// message.
func statusError(op string, status int, body []byte) error {
	if status == http.StatusForbidden {
		return &PermissionError{Op: op, Body: string(body)}
	}
	return &GenericError{Op: op, Status: status, Body: string(body)}
}
