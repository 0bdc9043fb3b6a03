package call

import (
	"context"
	"time"

	"github.com/arch7tect/sip-gateway/internal/logging"
	"github.com/arch7tect/sip-gateway/internal/metrics"
	"github.com/arch7tect/sip-gateway/internal/textutil"
	"github.com/arch7tect/sip-gateway/internal/vadproc"
)

func (c *Controller) handleVADEvent(call *Call, ev vadproc.Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("vad event handler panicked", logging.Field("call_id", call.ID), logging.Field("event", ev.Type.String()), logging.Field("panic", r))
		}
	}()

	switch ev.Type {
	case vadproc.EventSpeechStart:
		c.onSpeechStart(call)
	case vadproc.EventSpeechEnd:
		// Timer bookkeeping lives inside the VAD processor; nothing further
		// to drive here beyond the userSpeaking flag flip.
		call.SetUserSpeaking(false)
	case vadproc.EventShortPause:
		c.onShortPause(call, ev.Audio)
	case vadproc.EventLongPause:
		c.onLongPause(call, ev.Audio)
	case vadproc.EventUserSilenceTimeout:
		c.onUserSilenceTimeout(call)
	}
}

// onSpeechStart implements the speech-start row: return to
// WaitForUser, cancel any AI output in flight, and roll back a live
// speculation that hasn't already been committed.
func (c *Controller) onSpeechStart(call *Call) {
	call.SetUserSpeaking(true)
	call.SetState(StateWaitForUser)
	call.SetShortPauseHandled(false)
	call.SetLongPauseHandled(false)
	call.TTS.Cancel()
	call.Player.Interrupt()
	call.VAD.CancelUserSilenceTimer()

	if call.SpecActive() && !call.CommitInFlight() {
		go func() {
			ctx := context.Background()
			call.SetStartInFlight(true)
			defer call.SetStartInFlight(false)
			if _, err := c.backend.Rollback(ctx, call.SessionID); err != nil {
				metrics.Errors.WithLabelValues("rollback", errorKind(err)).Inc()
				logging.Warn("speech-start rollback failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
			}
			call.SetSpecActive(false)
		}()
	}
}

// onShortPause implements the short-pause row: speculative
// generation on a tentative pause, guarded so it fires at most once per
// segment and never overlaps another in-flight start.
func (c *Controller) onShortPause(call *Call, audio []float32) {
	if call.StartInFlight() || call.ShortPauseHandled() {
		return
	}
	call.SetShortPauseHandled(true)
	go c.runShortPause(call, audio)
}

func (c *Controller) runShortPause(call *Call, samples []float32) {
	ctx := context.Background()

	if call.SpecActive() {
		call.SetStartInFlight(true)
		if _, err := c.backend.Rollback(ctx, call.SessionID); err != nil {
			metrics.Errors.WithLabelValues("rollback", errorKind(err)).Inc()
			logging.Warn("short-pause rollback failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
		}
		call.SetStartInFlight(false)
		call.TTS.Cancel()
		call.Player.Interrupt()
		call.SetSpecActive(false)
	}

	text, err := c.transcribe(ctx, call, samples)
	if err != nil {
		logging.Warn("short-pause transcription failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
		return
	}

	normalized := textutil.Normalize(textutil.RemoveEmojis(text))
	if normalized == "" || normalized == call.LastUnstableText() {
		return
	}
	call.SetLastUnstableText(normalized)

	call.SetStartInFlight(true)
	defer call.SetStartInFlight(false)
	call.MarkReplyRequested()
	startBegan := time.Now()
	_, err = c.backend.Start(ctx, call.SessionID, text, nil)
	metrics.StageDuration.WithLabelValues("start").Observe(time.Since(startBegan).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("start", errorKind(err)).Inc()
		logging.Warn("short-pause start failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
		return
	}
	call.SetSpecActive(true)
	call.SetState(StateSpeculativeGenerate)
	if call.History != nil {
		call.History.RecordEvent("short_pause_start", text)
	}
}

// onLongPause implements the long-pause row: finalize whatever
// speculation is live (or start one from scratch) and commit.
func (c *Controller) onLongPause(call *Call, audio []float32) {
	if call.LongPauseHandled() {
		return
	}
	call.SetLongPauseHandled(true)
	go c.runLongPause(call, audio)
}

func (c *Controller) runLongPause(call *Call, samples []float32) {
	ctx := context.Background()
	call.SetCommitInFlight(true)
	defer call.SetCommitInFlight(false)

	call.WaitForStartToClear(LongPauseStartWait)

	turnStart := time.Now()
	var turnID string
	if call.History != nil {
		turnID = call.History.StartTurn()
	}
	transcript := call.LastUnstableText()

	if !call.SpecActive() {
		text, err := c.transcribe(ctx, call, samples)
		if err != nil {
			logging.Warn("long-pause transcription failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
			if call.History != nil {
				call.History.EndTurn(turnID, msSince(turnStart), transcript, "", "transcribe_failed")
			}
			return
		}
		transcript = text
		call.SetStartInFlight(true)
		call.MarkReplyRequested()
		startBegan := time.Now()
		_, err = c.backend.Start(ctx, call.SessionID, text, nil)
		metrics.StageDuration.WithLabelValues("start").Observe(time.Since(startBegan).Seconds())
		call.SetStartInFlight(false)
		if err != nil {
			metrics.Errors.WithLabelValues("start", errorKind(err)).Inc()
			logging.Warn("long-pause start failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
			if call.History != nil {
				call.History.EndTurn(turnID, msSince(turnStart), transcript, "", "start_failed")
			}
			return
		}
		call.SetSpecActive(true)
	}

	call.SetState(StateCommitGenerate)
	commitBegan := time.Now()
	result, err := c.backend.Commit(ctx, call.SessionID)
	metrics.StageDuration.WithLabelValues("commit").Observe(time.Since(commitBegan).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("commit", errorKind(err)).Inc()
		logging.Warn("long-pause commit failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
		if call.History != nil {
			call.History.EndTurn(turnID, msSince(turnStart), transcript, "", "commit_failed")
		}
		return
	}
	call.SetSpecActive(false)

	if !call.Streaming && result.HasResponse && result.Response != "" {
		call.TTS.Enqueue(result.Response, 0)
		call.Player.Play()
	}
	if call.History != nil {
		call.History.RecordEvent("commit", result.Response)
		call.History.EndTurn(turnID, msSince(turnStart), transcript, result.Response, "completed")
	}

	if result.SessionEnds {
		call.SetFinished(true)
	} else {
		call.SetState(StateWaitForUser)
	}
	c.attemptHangupDrain(call)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// onUserSilenceTimeout implements the user-silence-timeout row.
func (c *Controller) onUserSilenceTimeout(call *Call) {
	call.SetFinished(true)
	if call.History != nil {
		call.History.RecordEvent("user_silence_timeout", "")
	}
	c.attemptHangupDrain(call)
}
