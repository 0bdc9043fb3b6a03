package call

import (
	"sync"
	"time"

	"github.com/arch7tect/sip-gateway/internal/audioport"
	"github.com/arch7tect/sip-gateway/internal/backend"
	"github.com/arch7tect/sip-gateway/internal/callhistory"
	"github.com/arch7tect/sip-gateway/internal/player"
	"github.com/arch7tect/sip-gateway/internal/tts"
	"github.com/arch7tect/sip-gateway/internal/vadproc"
)

// Call is one telephone call bound to a backend session. The fields that
// cross the realtime/application/WS threads are guarded by mu, a
// per-call generation mutex protecting start_in_flight/commit_in_flight/
// spec_active/short_pause_handled/long_pause_handled/last_unstable_text.
type Call struct {
	ID         string // SIP call id
	FromURI    string
	SessionID  string
	SampleRate int

	Audio  *audioport.Port
	Player *player.Player
	VAD    *vadproc.Processor
	TTS    *tts.Pipeline
	WS     *backend.WSClient

	History *callhistory.Recorder

	InterruptionsAllowed bool
	Streaming            bool

	mu                sync.Mutex
	state             State
	userSpeaking      bool
	finished          bool
	startInFlight     bool
	commitInFlight    bool
	specActive        bool
	shortPauseHandled bool
	longPauseHandled  bool
	lastUnstableText  string
	replyRequestedAt  time.Time

	transferTarget  string
	transferDelay   time.Duration
	transferStarted bool
}

func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState moves the FSM forward. Finished is sticky: once set, further
// SetState calls are ignored.
func (c *Call) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateFinished {
		return
	}
	c.state = s
}

func (c *Call) UserSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userSpeaking
}

func (c *Call) SetUserSpeaking(v bool) {
	c.mu.Lock()
	c.userSpeaking = v
	c.mu.Unlock()
}

func (c *Call) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func (c *Call) SetFinished(v bool) {
	c.mu.Lock()
	c.finished = v
	if v {
		c.state = StateFinished
	}
	c.mu.Unlock()
}

func (c *Call) StartInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startInFlight
}

func (c *Call) SetStartInFlight(v bool) {
	c.mu.Lock()
	c.startInFlight = v
	c.mu.Unlock()
}

// WaitForStartToClear polls startInFlight up to timeout: the long-pause
// handler waits at most a couple seconds for a concurrent start to
// complete. Polling rather than a condition variable keeps the wait
// interruptible by a plain timeout without a dedicated notifier per call.
func (c *Call) WaitForStartToClear(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !c.StartInFlight() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (c *Call) CommitInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitInFlight
}

func (c *Call) SetCommitInFlight(v bool) {
	c.mu.Lock()
	c.commitInFlight = v
	c.mu.Unlock()
}

func (c *Call) SpecActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.specActive
}

func (c *Call) SetSpecActive(v bool) {
	c.mu.Lock()
	c.specActive = v
	c.mu.Unlock()
}

func (c *Call) ShortPauseHandled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shortPauseHandled
}

func (c *Call) SetShortPauseHandled(v bool) {
	c.mu.Lock()
	c.shortPauseHandled = v
	c.mu.Unlock()
}

func (c *Call) LongPauseHandled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.longPauseHandled
}

func (c *Call) SetLongPauseHandled(v bool) {
	c.mu.Lock()
	c.longPauseHandled = v
	c.mu.Unlock()
}

func (c *Call) LastUnstableText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUnstableText
}

func (c *Call) SetLastUnstableText(v string) {
	c.mu.Lock()
	c.lastUnstableText = v
	c.mu.Unlock()
}

func (c *Call) MarkReplyRequested() {
	c.mu.Lock()
	c.replyRequestedAt = time.Now()
	c.mu.Unlock()
}

// TakeReplyLatency returns the elapsed time since the last
// MarkReplyRequested and clears it, so a burst of TTS-ready callbacks for
// one turn only reports the end-to-end latency once, against the first.
func (c *Call) TakeReplyLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	requestedAt := c.replyRequestedAt
	if requestedAt.IsZero() {
		return 0
	}
	c.replyRequestedAt = time.Time{}
	return time.Since(requestedAt)
}

// SetTransferTarget overrides any previously recorded target, unless a
// transfer has already been started.
func (c *Call) SetTransferTarget(target string, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transferStarted {
		return
	}
	c.transferTarget = target
	c.transferDelay = delay
}

// ConsumeTransferTarget returns the recorded target and marks the transfer
// as started so a subsequent hangup drain does not retrigger it.
func (c *Call) ConsumeTransferTarget() (target string, delay time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transferTarget == "" || c.transferStarted {
		return "", 0, false
	}
	c.transferStarted = true
	return c.transferTarget, c.transferDelay, true
}

// AICanSpeak reports whether the AI currently owns the floor: the player
// is active, has queued audio, or a commit is in flight and may soon
// enqueue a reply. Used by the interruption policy.
func (c *Call) AICanSpeak() bool {
	return c.Player.IsActive() || c.Player.HasQueue() || c.TTS.HasQueue() || c.CommitInFlight()
}
