package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateSessionParsesNestedSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session_v2" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session":{"session_id":"abc123"},"greeting":"hello"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 4)
	session, err := c.CreateSession(context.Background(), SessionRequest{
		UserID: "u1", Name: "caller", Type: "sip", ConversationID: "conv1",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.SessionID != "abc123" {
		t.Fatalf("SessionID = %q, want abc123", session.SessionID)
	}
	if !session.HasGreeting || session.Greeting != "hello" {
		t.Fatalf("greeting = %q, %v", session.Greeting, session.HasGreeting)
	}
}

func TestCreateSessionForbiddenMapsToPermissionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("no quota"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 4)
	_, err := c.CreateSession(context.Background(), SessionRequest{UserID: "u1"})
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("err = %v, want *PermissionError", err)
	}
}

func TestCommitExtractsResponseAndSessionEnds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"goodbye","metadata":{"SESSION_ENDS":true}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 4)
	result, err := c.Commit(context.Background(), "sess1")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.Response != "goodbye" || !result.SessionEnds {
		t.Fatalf("result = %+v", result)
	}
}

func TestTranscribeAcceptsBareStringResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Fatal("expected wav body")
		}
		w.Write([]byte(`"transcribed text"`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 4)
	text, err := c.Transcribe(context.Background(), []byte("RIFF...fake wav..."))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "transcribed text" {
		t.Fatalf("text = %q", text)
	}
}

func TestSynthesizeFollowsRedirect(t *testing.T) {
	var finalHits int
	mux := http.NewServeMux()
	mux.HandleFunc("/session/s1/synthesize", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cdn/clip.wav", http.StatusFound)
	})
	mux.HandleFunc("/cdn/clip.wav", func(w http.ResponseWriter, r *http.Request) {
		finalHits++
		w.Write([]byte("RIFFfakewavbytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "", 4)
	data, err := c.Synthesize(context.Background(), "s1", "hello world", "wav")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(data) != "RIFFfakewavbytes" || finalHits != 1 {
		t.Fatalf("data = %q, finalHits = %d", data, finalHits)
	}
}

func TestDeleteSessionEncodesStatusQueryParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 4)
	if err := c.DeleteSession(context.Background(), "s1", "user hangup"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if gotQuery != "status=user%20hangup" {
		t.Fatalf("query = %q", gotQuery)
	}
}
