package callhistory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arch7tect/sip-gateway/internal/logging"
)

const maxIOLen = 500

type recorderMsg struct {
	kind string // "call_create", "call_end", "turn_create", "turn_update", "event"
	turnID     string
	callID     string
	callerURI  string
	sessionID  string
	durationMs float64
	transcript string
	response   string
	status     string
	event      Event
}

// Recorder writes call history asynchronously via a buffered channel so
// the call controller's hot path never blocks on a database round trip.
// All methods are nil-safe.
type Recorder struct {
	store  *Store
	callID string
	ch     chan recorderMsg
	done   chan struct{}
}

// NewRecorder starts a Recorder bound to callID. Callers must call Close.
func NewRecorder(store *Store, callID string) *Recorder {
	r := &Recorder{
		store:  store,
		callID: callID,
		ch:     make(chan recorderMsg, 64),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *Recorder) drain() {
	defer close(r.done)
	ctx := context.Background()
	for msg := range r.ch {
		r.handle(ctx, msg)
	}
}

func (r *Recorder) handle(ctx context.Context, m recorderMsg) {
	var err error
	switch m.kind {
	case "call_create":
		err = r.store.CreateCall(ctx, m.callID, m.sessionID, m.callerURI)
	case "call_end":
		err = r.store.EndCall(ctx, m.callID, m.status)
	case "turn_create":
		err = r.store.CreateTurn(ctx, m.turnID, m.callID)
	case "turn_update":
		err = r.store.UpdateTurn(ctx, m.turnID, m.durationMs, m.transcript, m.response, m.status)
	case "event":
		err = r.store.RecordEvent(ctx, m.event)
	default:
		return
	}
	if err != nil {
		logging.Warn("callhistory write failed", logging.Field("kind", m.kind), logging.Field("error", err.Error()))
	}
}

// CallStarted inserts the parent calls row; call once per call, before
// any turns or events are recorded against it.
func (r *Recorder) CallStarted(sessionID, callerURI string) {
	if r == nil {
		return
	}
	r.ch <- recorderMsg{kind: "call_create", callID: r.callID, sessionID: sessionID, callerURI: callerURI}
}

// CallEnded records the call's final status and ended_at timestamp.
func (r *Recorder) CallEnded(status string) {
	if r == nil {
		return
	}
	r.ch <- recorderMsg{kind: "call_end", callID: r.callID, status: status}
}

// StartTurn begins a new turn and returns its ID.
func (r *Recorder) StartTurn() string {
	if r == nil {
		return ""
	}
	id := uuid.NewString()
	r.ch <- recorderMsg{kind: "turn_create", turnID: id, callID: r.callID}
	return id
}

// EndTurn finalizes a turn.
func (r *Recorder) EndTurn(turnID string, durationMs float64, transcript, response, status string) {
	if r == nil {
		return
	}
	r.ch <- recorderMsg{
		kind:       "turn_update",
		turnID:     turnID,
		durationMs: durationMs,
		transcript: truncate(transcript, maxIOLen),
		response:   truncate(response, maxIOLen),
		status:     status,
	}
}

// RecordEvent records a point-in-time audit event.
func (r *Recorder) RecordEvent(kind, detail string) {
	if r == nil {
		return
	}
	r.ch <- recorderMsg{
		kind: "event",
		event: Event{
			ID:         uuid.NewString(),
			CallID:     r.callID,
			Kind:       kind,
			OccurredAt: time.Now(),
			Detail:     truncate(detail, maxIOLen),
		},
	}
}

// Close drains pending writes and shuts down the background goroutine.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	close(r.ch)
	<-r.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
