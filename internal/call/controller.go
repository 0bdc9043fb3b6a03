package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arch7tect/sip-gateway/internal/audio"
	"github.com/arch7tect/sip-gateway/internal/audioport"
	"github.com/arch7tect/sip-gateway/internal/backend"
	"github.com/arch7tect/sip-gateway/internal/callhistory"
	"github.com/arch7tect/sip-gateway/internal/dynamiccorrection"
	"github.com/arch7tect/sip-gateway/internal/logging"
	"github.com/arch7tect/sip-gateway/internal/metrics"
	"github.com/arch7tect/sip-gateway/internal/player"
	"github.com/arch7tect/sip-gateway/internal/sipcap"
	"github.com/arch7tect/sip-gateway/internal/tts"
	"github.com/arch7tect/sip-gateway/internal/vad"
	"github.com/arch7tect/sip-gateway/internal/vadproc"
)

// SoftHangupRecheck is the deferred re-evaluation delay for the hangup
// drain: the controller never hangs up while the player is active or the
// TTS queue has items, and rechecks on this cadence.
const SoftHangupRecheck = 300 * time.Millisecond

// LongPauseStartWait is the budget a long-pause handler gets to wait for
// a concurrent /start to finish before proceeding.
const LongPauseStartWait = 2 * time.Second

// Errors returned by the public ops, mapped onto the admission layer's
// HTTP status codes.
var (
	ErrCallNotFound     = errors.New("call not found")
	ErrCallNotConfirmed = errors.New("call not confirmed")
	ErrSIPNotReady      = errors.New("sip stack not initialized")
)

// Sink adapts a Call's Player to the SIP media leg; it is the only
// media-facing capability the controller needs beyond sipcap.Stack, kept
// separate because playback and signaling are different concerns.
type Sink = player.Sink

// SynthesizerFactory builds a tts.Synthesizer bound to one call's backend
// session; cmd/gateway supplies this so the controller never constructs
// backend.SynthesizerAdapter directly.
type SynthesizerFactory func(sessionID string) tts.Synthesizer

// Config carries the controller's process-wide policy knobs.
type Config struct {
	VAD                  vadproc.Config
	Correction           dynamiccorrection.Config
	AudioPortCapacity    int
	TTSMaxInflight       int
	InterruptionsAllowed bool
	Streaming            bool
	GreetingDelay        time.Duration
	SIPEarlyEOC          bool
	BackendBaseURL       string
}

// Controller is the process-wide Call Controller: it owns the call
// registry and mediates every call's speculation/commit/rollback/hangup/
// transfer flow against the backend.
type Controller struct {
	cfg     Config
	stack   sipcap.Stack
	backend BackendAPI
	model   vad.Model
	newSink func(callID string) Sink
	newSynth SynthesizerFactory
	history  *callhistory.Store

	ready atomic.Bool

	mu        sync.Mutex
	byCallID  map[string]*Call
	bySession map[string]*Call
}

// NewController wires a controller against the given SIP capability
// stack, backend client, VAD model, and per-call media sink/synthesizer
// factories. history may be nil to disable call-history persistence.
func NewController(cfg Config, stack sipcap.Stack, backendAPI BackendAPI, model vad.Model, newSink func(callID string) Sink, newSynth SynthesizerFactory, history *callhistory.Store) *Controller {
	c := &Controller{
		cfg:       cfg,
		stack:     stack,
		backend:   backendAPI,
		model:     model,
		newSink:   newSink,
		newSynth:  newSynth,
		history:   history,
		byCallID:  make(map[string]*Call),
		bySession: make(map[string]*Call),
	}
	c.ready.Store(true)
	return c
}

// SetReady toggles SIP-stack readiness; the admission layer's POST /call
// returns 503 while this is false. Controllers default to ready so tests
// and callers that never touch SIP registration see no behavior change.
func (c *Controller) SetReady(v bool) { c.ready.Store(v) }

// Ready reports whether the SIP stack is initialized and dialing is safe.
func (c *Controller) Ready() bool { return c.ready.Load() }

// History returns the call-history store, or nil if history persistence
// is disabled.
func (c *Controller) History() *callhistory.Store { return c.history }

func (c *Controller) newCall(callID, sessionID, fromURI string) *Call {
	corrector := dynamiccorrection.New(c.cfg.Correction)
	processor := vadproc.New(c.cfg.VAD, c.model, corrector)

	var history *callhistory.Recorder
	if c.history != nil {
		history = callhistory.NewRecorder(c.history, callID)
		history.CallStarted(sessionID, fromURI)
	}

	call := &Call{
		ID:                   callID,
		FromURI:              fromURI,
		SessionID:            sessionID,
		SampleRate:           c.cfg.VAD.SampleRate,
		Audio:                audioport.New(c.cfg.AudioPortCapacity),
		Player:               player.New(c.newSink(callID)),
		VAD:                  processor,
		History:              history,
		InterruptionsAllowed: c.cfg.InterruptionsAllowed,
		Streaming:            c.cfg.Streaming,
	}
	call.TTS = tts.New(c.newSynth(sessionID), c.cfg.TTSMaxInflight, func() { c.onTTSReady(call) })
	call.Player.SetEndOfStreamObserver(func() { c.onPlaybackDrained(call) })

	c.attachAudio(call)
	return call
}

func (c *Controller) attachAudio(call *Call) {
	call.Audio.SetOnFrameReceived(func(pcm []byte) {
		if !call.InterruptionsAllowed && call.AICanSpeak() {
			return
		}
		events := call.VAD.ProcessPCM16(pcm)
		for _, ev := range events {
			c.handleVADEvent(call, ev)
		}
	})
}

func (c *Controller) register(call *Call) {
	c.mu.Lock()
	c.byCallID[call.ID] = call
	if call.SessionID != "" {
		c.bySession[call.SessionID] = call
	}
	c.mu.Unlock()
	metrics.CallsActive.Inc()
	metrics.CallsTotal.Inc()
}

func (c *Controller) unregister(call *Call) {
	c.mu.Lock()
	delete(c.byCallID, call.ID)
	delete(c.bySession, call.SessionID)
	c.mu.Unlock()
	metrics.CallsActive.Dec()
}

func (c *Controller) byID(callID string) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.byCallID[callID]
	return call, ok
}

func (c *Controller) bySessionID(sessionID string) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.bySession[sessionID]
	return call, ok
}

// Accept implements the accept(from_uri) public op: create a backend
// session, answer the SIP leg, wire the WebSocket, and play any greeting.
func (c *Controller) Accept(ctx context.Context, callID, fromURI string) (string, error) {
	session, err := c.backend.CreateSession(ctx, backend.SessionRequest{
		UserID: fromURI, Name: fromURI, Type: "sip", ConversationID: callID,
	})
	if err != nil {
		return "", fmt.Errorf("accept %s: %w", callID, err)
	}

	call := c.newCall(callID, session.SessionID, fromURI)
	c.register(call)

	if err := c.stack.Answer(callID, 200); err != nil {
		c.teardown(call, "network_error")
		return "", fmt.Errorf("accept %s: answer: %w", callID, err)
	}

	if c.cfg.BackendBaseURL != "" {
		wsClient, err := c.AttachWS(ctx, call, c.cfg.BackendBaseURL)
		if err != nil {
			logging.Warn("accept ws attach failed", logging.Field("call_id", callID), logging.Field("error", err.Error()))
		} else {
			call.WS = wsClient
		}
	}

	if session.HasGreeting && session.Greeting != "" {
		call.TTS.Enqueue(session.Greeting, c.cfg.GreetingDelay.Seconds())
		call.Player.Play()
	}
	return session.SessionID, nil
}

// Dial implements the dial(to_uri, env_info, communication_id) public op.
func (c *Controller) Dial(ctx context.Context, toURI string, envInfo map[string]any, communicationID string) (callID, sessionID string, err error) {
	if !c.Ready() {
		return "", "", ErrSIPNotReady
	}

	kwargs := map[string]any{}
	if envInfo != nil {
		kwargs["env_info"] = envInfo
	}
	var commID *string
	if communicationID != "" {
		commID = &communicationID
	}

	session, err := c.backend.CreateSession(ctx, backend.SessionRequest{
		UserID: toURI, Name: toURI, Type: "sip", ConversationID: toURI, CommunicationID: commID, Kwargs: kwargs,
	})
	if err != nil {
		return "", "", fmt.Errorf("dial %s: %w", toURI, err)
	}

	callID, err = c.stack.MakeCall(toURI)
	if err != nil {
		if delErr := c.backend.DeleteSession(ctx, session.SessionID, "network_error"); delErr != nil {
			logging.Warn("dial cleanup delete_session failed", logging.Field("session_id", session.SessionID), logging.Field("error", delErr.Error()))
		}
		return "", "", fmt.Errorf("dial %s: %w", toURI, err)
	}

	call := c.newCall(callID, session.SessionID, toURI)
	c.register(call)

	if c.cfg.BackendBaseURL != "" {
		wsClient, err := c.AttachWS(ctx, call, c.cfg.BackendBaseURL)
		if err != nil {
			logging.Warn("dial ws attach failed", logging.Field("call_id", callID), logging.Field("error", err.Error()))
		} else {
			call.WS = wsClient
		}
	}

	return callID, session.SessionID, nil
}

// SetTransferTarget implements the set_transfer_target public op.
func (c *Controller) SetTransferTarget(callID, target string, delay time.Duration) error {
	call, ok := c.byID(callID)
	if !ok {
		return fmt.Errorf("set_transfer_target: call %s not found: %w", callID, ErrCallNotFound)
	}
	return c.setTransferTarget(call, target, delay)
}

// SetTransferTargetBySession is the session-id-keyed variant the admission
// layer's POST /transfer/{session_id} uses.
func (c *Controller) SetTransferTargetBySession(sessionID, target string, delay time.Duration) error {
	call, ok := c.bySessionID(sessionID)
	if !ok {
		return ErrCallNotFound
	}
	return c.setTransferTarget(call, target, delay)
}

func (c *Controller) setTransferTarget(call *Call, target string, delay time.Duration) error {
	if call.State() == StateFinished {
		return ErrCallNotConfirmed
	}
	call.SetTransferTarget(target, delay)
	if call.History != nil {
		call.History.RecordEvent("transfer_target_set", target)
	}
	return nil
}

// Hangup implements the hangup() public op: immediate SIP termination,
// bypassing the drain a pause-triggered finish would otherwise wait for.
func (c *Controller) Hangup(callID string) error {
	call, ok := c.byID(callID)
	if !ok {
		return fmt.Errorf("hangup: call %s not found", callID)
	}
	c.teardown(call, "completed")
	return nil
}

func (c *Controller) onTTSReady(call *Call) {
	call.TTS.TryPlay(true, func(path, text string) {
		call.Player.Enqueue(path, true)
		call.Player.Play()
		if d := call.TakeReplyLatency(); d > 0 {
			metrics.E2EDuration.Observe(d.Seconds())
		}
	})
}

func (c *Controller) onPlaybackDrained(call *Call) {
	if call.State() == StateFinished {
		c.attemptHangupDrain(call)
	}
}

func (c *Controller) transcribe(ctx context.Context, call *Call, samples []float32) (string, error) {
	wavBytes := audio.SamplesToWAV(samples, call.SampleRate)
	start := time.Now()
	text, err := c.backend.Transcribe(ctx, wavBytes)
	metrics.StageDuration.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("transcribe", errorKind(err)).Inc()
	}
	return text, err
}

// errorKind maps a backend error onto a coarse label for the errors_total
// metric, falling back to "unknown" for anything not one of
// internal/backend's typed errors.
func errorKind(err error) string {
	switch err.(type) {
	case *backend.TransientError:
		return "transient"
	case *backend.PermissionError:
		return "permission"
	case *backend.ProtocolError:
		return "protocol"
	case *backend.GenericError:
		return "generic"
	default:
		return "unknown"
	}
}
