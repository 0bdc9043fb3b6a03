package call

import (
	"context"
	"strings"
	"time"

	"github.com/arch7tect/sip-gateway/internal/logging"
	"github.com/arch7tect/sip-gateway/internal/sipcap"
)

// attemptHangupDrain implements the hangup drain: never hang up while the
// player is active or the TTS queue has items; reschedule a soft-hangup
// recheck otherwise.
func (c *Controller) attemptHangupDrain(call *Call) {
	if !call.Finished() {
		return
	}
	if call.Player.IsActive() || call.Player.HasQueue() || call.TTS.HasQueue() {
		time.AfterFunc(SoftHangupRecheck, func() { c.attemptHangupDrain(call) })
		return
	}
	c.finalizeHangup(call)
}

func (c *Controller) finalizeHangup(call *Call) {
	if target, delay, ok := call.ConsumeTransferTarget(); ok {
		c.performTransfer(call, target, delay)
		return
	}
	status := deriveCloseStatus(c.stack.LastStatusCode(call.ID))
	c.teardown(call, status)
}

// performTransfer implements transfer semantics: a "dtmf:<digits>" target
// dials DTMF then hangs up after delay; any other
// target issues a SIP REFER and waits for the final notify (delivered via
// OnTransferStatus) before hanging up the original leg.
func (c *Controller) performTransfer(call *Call, target string, delay time.Duration) {
	if digits, ok := strings.CutPrefix(target, "dtmf:"); ok {
		if err := c.stack.SendDTMF(call.ID, digits); err != nil {
			logging.Warn("dtmf transfer failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
			return
		}
		time.AfterFunc(delay, func() {
			c.teardown(call, "transferred")
		})
		return
	}

	if err := c.stack.SendREFER(call.ID, target); err != nil {
		logging.Warn("refer transfer failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
		return
	}
	// Completion is driven by OnTransferStatus's final notify.
}

func (c *Controller) teardown(call *Call, status string) {
	ctx := context.Background()

	call.TTS.Cancel()
	call.TTS.Close()
	call.Player.Interrupt()
	call.VAD.Finalize()
	call.Audio.Close()
	if call.WS != nil {
		call.WS.Close()
	}

	if call.SessionID != "" {
		if err := c.backend.DeleteSession(ctx, call.SessionID, status); err != nil {
			logging.Warn("delete_session failed", logging.Field("call_id", call.ID), logging.Field("session_id", call.SessionID), logging.Field("error", err.Error()))
		}
	}
	if err := c.stack.Hangup(call.ID, 200); err != nil {
		logging.Warn("sip hangup failed", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
	}
	if call.History != nil {
		call.History.RecordEvent("call_ended", status)
		call.History.CallEnded(status)
		call.History.Close()
	}

	c.unregister(call)
}

// deriveCloseStatus maps the SIP dialog's last status code to a derived
// close status enum. The exact SIP-code table is a judgment call; status
// ranges follow the common SIP final-response classes.
func deriveCloseStatus(sipStatus int) string {
	switch sipStatus {
	case 0:
		return "network_error"
	case 486, 600:
		return "busy"
	case 603:
		return "declined"
	case 487:
		return "canceled"
	case 480, 408:
		return "noanswer"
	case 404:
		return "not_found"
	}
	if sipStatus >= 200 && sipStatus < 300 {
		return "completed"
	}
	return "unknown"
}

// OnStateChange implements sipcap.EventSink: a SIP-side disconnect tears
// the call down with a status derived from the dialog's last known code.
func (c *Controller) OnStateChange(callID string, state sipcap.CallState) {
	if state != sipcap.StateDisconnected {
		return
	}
	call, ok := c.byID(callID)
	if !ok {
		return
	}
	c.teardown(call, deriveCloseStatus(c.stack.LastStatusCode(callID)))
}

// OnMediaState implements sipcap.EventSink; media-active/inactive toggles
// carry no controller-level action beyond what the audio port already
// observes through frame delivery.
func (c *Controller) OnMediaState(callID string, active bool) {}

// OnTransferStatus implements sipcap.EventSink: a final 2xx notify
// completes a REFER-based transfer.
func (c *Controller) OnTransferStatus(callID string, statusCode int, final bool) {
	if !final {
		return
	}
	call, ok := c.byID(callID)
	if !ok {
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		c.teardown(call, "transferred")
	}
}

// OnDTMF implements sipcap.EventSink; inbound DTMF is out of scope for the
// conversational control plane.
func (c *Controller) OnDTMF(callID string, digits string) {}
