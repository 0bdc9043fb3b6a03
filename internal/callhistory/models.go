// Package callhistory persists call/turn/event audit data to PostgreSQL.
// A Call has Turns (one backend start/commit exchange each) and Events
// (VAD/pause transitions, transfer attempts), the call-domain analogue
// of a pipeline-run-and-stage-span observability model.
package callhistory

import "time"

// Call is one telephone call from answer/dial to hangup.
type Call struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	CallerURI   string     `json:"caller_uri,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	FinalStatus string     `json:"final_status,omitempty"`
	TurnCount   int        `json:"turn_count,omitempty"`
}

// Turn is one backend start/commit exchange within a call.
type Turn struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Response   string    `json:"response,omitempty"`
	Status     string    `json:"status"`
}

// Event is a point-in-time occurrence worth auditing: a VAD pause
// classification, a transfer attempt, a backend reconnect.
type Event struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
}
