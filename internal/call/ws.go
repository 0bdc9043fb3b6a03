package call

import (
	"context"

	"github.com/arch7tect/sip-gateway/internal/backend"
	"github.com/arch7tect/sip-gateway/internal/logging"
)

// AttachWS starts a reconnecting backend WebSocket for call and dispatches
// decoded frames by message type. The caller owns the returned client's
// lifetime and should Close it during teardown.
func (c *Controller) AttachWS(ctx context.Context, call *Call, baseURL string) (*backend.WSClient, error) {
	client, err := backend.NewWSClient(baseURL, call.SessionID)
	if err != nil {
		return nil, err
	}
	go client.Run(ctx, func(ev backend.WSEvent) {
		c.handleWSEvent(call, ev)
	}, func(err error) {
		if err != nil {
			logging.Warn("backend ws disconnected", logging.Field("call_id", call.ID), logging.Field("error", err.Error()))
		}
	})
	return client, nil
}

func (c *Controller) handleWSEvent(call *Call, ev backend.WSEvent) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("ws event handler panicked", logging.Field("call_id", call.ID), logging.Field("session_id", call.SessionID), logging.Field("panic", r))
		}
	}()

	switch ev.Type {
	case backend.WSMessage:
		c.handleWSMessage(call, ev.Text)
	case backend.WSEndOfStream:
		if call.State() == StateFinished {
			c.attemptHangupDrain(call)
		}
	case backend.WSEndOfCall:
		if c.cfg.SIPEarlyEOC && call.State() != StateSpeculativeGenerate {
			call.SetFinished(true)
			c.attemptHangupDrain(call)
		}
	case backend.WSTimeout:
		logging.Info("backend ws timeout", logging.Field("call_id", call.ID))
	case backend.WSClose:
		logging.Info("backend ws closed by peer", logging.Field("call_id", call.ID))
	default:
		logging.Warn("backend ws frame not recognized, treating as message", logging.Field("call_id", call.ID), logging.Field("raw", ev.Raw))
		c.handleWSMessage(call, ev.Text)
	}
}

// handleWSMessage implements streamed-reply handling: drop text while the
// caller is speaking, otherwise enqueue it for synthesis
// when running in streaming mode. Non-streaming mode only ever enqueues
// the final commit response, handled in runLongPause.
func (c *Controller) handleWSMessage(call *Call, text string) {
	if text == "" || call.UserSpeaking() {
		return
	}
	if !call.Streaming {
		return
	}
	call.TTS.Enqueue(text, 0)
	call.Player.Play()
}
