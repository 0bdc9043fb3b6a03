package main

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arch7tect/sip-gateway/internal/logging"
	"github.com/arch7tect/sip-gateway/internal/player"
	"github.com/arch7tect/sip-gateway/internal/sipcap"
)

// loggingStack is the boundary the Call Controller programs against
// (internal/sipcap.Stack). Real SIP signaling and RTP transport are
// treated as an external collaborator, wired only through this interface;
// this adapter logs every action it would otherwise hand off to a SIP
// user agent, so the binary is runnable end-to-end against a backend
// without depending on an unimplemented protocol stack.
type loggingStack struct {
	nextID atomic.Int64

	mu   sync.Mutex
	last map[string]int
}

func newLoggingStack() *loggingStack {
	return &loggingStack{last: map[string]int{}}
}

func (s *loggingStack) Answer(callID string, statusCode int) error {
	s.setLast(callID, statusCode)
	logging.Info("sip answer", logging.Field("call_id", callID), logging.Field("status", statusCode))
	return nil
}

func (s *loggingStack) Hangup(callID string, statusCode int) error {
	s.setLast(callID, statusCode)
	logging.Info("sip hangup", logging.Field("call_id", callID), logging.Field("status", statusCode))
	return nil
}

func (s *loggingStack) MakeCall(toURI string) (string, error) {
	id := fmt.Sprintf("call-%d", s.nextID.Add(1))
	logging.Info("sip make_call", logging.Field("call_id", id), logging.Field("to_uri", toURI))
	return id, nil
}

func (s *loggingStack) SendREFER(callID string, toURI string) error {
	logging.Info("sip refer", logging.Field("call_id", callID), logging.Field("to_uri", toURI))
	return nil
}

func (s *loggingStack) SendDTMF(callID string, digits string) error {
	logging.Info("sip dtmf", logging.Field("call_id", callID), logging.Field("digits", digits))
	return nil
}

func (s *loggingStack) LastStatusCode(callID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[callID]
}

func (s *loggingStack) setLast(callID string, statusCode int) {
	s.mu.Lock()
	s.last[callID] = statusCode
	s.mu.Unlock()
}

var _ sipcap.Stack = (*loggingStack)(nil)

// loggingSink is the boundary the Smart Player programs against
// (internal/player.Sink). Actual RTP media playback into the SIP leg is out
// of scope for the same reason as loggingStack; this adapter logs playback
// requests so the player's queue/interrupt/order semantics can be exercised
// against a real backend without a media transport.
type loggingSink struct {
	callID string
}

func newLoggingSink(callID string) *loggingSink {
	return &loggingSink{callID: callID}
}

func (s *loggingSink) Play(path string, onDone func()) error {
	logging.Info("media play", logging.Field("call_id", s.callID), logging.Field("path", path))
	go onDone()
	return nil
}

func (s *loggingSink) Stop() {
	logging.Info("media stop", logging.Field("call_id", s.callID))
}

var _ player.Sink = (*loggingSink)(nil)
