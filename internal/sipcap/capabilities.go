// Package sipcap defines a narrow capability set in place of dynamic
// dispatch on SIP callbacks: a capability set implemented by the Call
// Controller, with the SIP stack adapter forwarding narrow events only
// (state-change, media-state, transfer-status, DTMF). SIP signaling and
// RTP transport themselves stay out of this module's scope; this package
// only names the boundary the Call Controller programs against.
// Vocabulary follows a pjsua-style onCallState/onCallMediaState split
// and the INVITE/ACK/BYE/REFER message set a SIP user agent library
// exposes, without reimplementing either's protocol handling.
package sipcap

// EventSink receives narrow, already-classified events from the SIP stack
// adapter. The Call Controller implements this; the adapter never calls
// back into controller internals directly.
type EventSink interface {
	OnStateChange(callID string, state CallState)
	OnMediaState(callID string, active bool)
	OnTransferStatus(callID string, statusCode int, final bool)
	OnDTMF(callID string, digits string)
}

// CallState mirrors the small set of SIP dialog states the controller
// cares about; anything finer-grained stays inside the (out of scope) SIP
// stack adapter.
type CallState int

const (
	StateCalling CallState = iota
	StateConfirmed
	StateDisconnected
)

// Stack is the set of outbound actions the Call Controller may invoke on
// the SIP stack. Implementations of Stack own the actual SIP/RTP transport
// and are out of scope for this module; a test double implementing Stack
// is enough to exercise the Call Controller.
type Stack interface {
	Answer(callID string, statusCode int) error
	Hangup(callID string, statusCode int) error
	MakeCall(toURI string) (callID string, err error)
	SendREFER(callID string, toURI string) error
	SendDTMF(callID string, digits string) error
	LastStatusCode(callID string) int
}
