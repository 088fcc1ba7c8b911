package nat64

import "fmt"

// TCPState is a NAT64 TCP session's state (spec.md §3, modeled on RFC
// 6146 Section 3.5.2's abbreviated state machine). The FSM here is a
// pure function over a transition table, in the same shape as the BFD
// control-plane FSM this module is grounded on: no side effects, no
// Session dependency, trivially testable against the RFC table.
type TCPState uint8

const (
	TCPStateV4Init TCPState = iota
	TCPStateV6Init
	TCPStateEstablished
	TCPStateV4FinRcv
	TCPStateV6FinRcv
	TCPStateV4V6FinRcv
	TCPStateTrans
)

var tcpStateNames = [...]string{
	"V4_INIT", "V6_INIT", "ESTABLISHED", "V4_FIN_RCV", "V6_FIN_RCV", "V4V6_FIN_RCV", "TRANS",
}

// String returns the RFC 6146-style state name.
func (s TCPState) String() string {
	if int(s) < len(tcpStateNames) {
		return tcpStateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// TCPEvent is a stimulus applied to the TCP state machine (spec.md §8:
// "every state and every stimulus (SYN4/SYN6/FIN4/FIN6/RST/timer)").
type TCPEvent uint8

const (
	TCPEventSYN4 TCPEvent = iota
	TCPEventSYN6
	TCPEventFIN4
	TCPEventFIN6
	TCPEventRST
	// TCPEventData is any segment carrying no SYN/FIN/RST bit: ordinary
	// data, or a bare ACK.
	TCPEventData
	TCPEventTimer
)

var tcpEventNames = [...]string{"SYN4", "SYN6", "FIN4", "FIN6", "RST", "Data", "Timer"}

// String returns the event's name.
func (e TCPEvent) String() string {
	if int(e) < len(tcpEventNames) {
		return tcpEventNames[e]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(e))
}

// stateEvent is the transition table key.
type stateEvent struct {
	state TCPState
	event TCPEvent
}

// tcpTransitions implements RFC 6146 Section 3.5.2's abbreviated table
// (spec.md §4.2): "V6_INIT on IPv6 SYN; V4_INIT on IPv4 SYN with no
// session; ESTABLISHED on matching SYN in the opposite direction;
// V*_FIN_RCV on FIN; TRANS on RST or on both-sides FIN." Pairs absent
// from this table leave the state unchanged (self-loop) -- a
// retransmitted SYN or an out-of-order FIN while already in the matching
// *_FIN_RCV state does not regress the session.
var tcpTransitions = map[stateEvent]TCPState{
	{TCPStateV4Init, TCPEventSYN6}: TCPStateEstablished,
	{TCPStateV4Init, TCPEventRST}:  TCPStateTrans,

	{TCPStateV6Init, TCPEventSYN4}: TCPStateEstablished,
	{TCPStateV6Init, TCPEventRST}:  TCPStateTrans,

	{TCPStateEstablished, TCPEventFIN4}: TCPStateV4FinRcv,
	{TCPStateEstablished, TCPEventFIN6}: TCPStateV6FinRcv,
	{TCPStateEstablished, TCPEventRST}:  TCPStateTrans,

	{TCPStateV4FinRcv, TCPEventFIN6}: TCPStateV4V6FinRcv,
	{TCPStateV4FinRcv, TCPEventRST}:  TCPStateTrans,

	{TCPStateV6FinRcv, TCPEventFIN4}: TCPStateV4V6FinRcv,
	{TCPStateV6FinRcv, TCPEventRST}:  TCPStateTrans,

	{TCPStateV4V6FinRcv, TCPEventRST}: TCPStateTrans,

	{TCPStateTrans, TCPEventSYN4}: TCPStateEstablished,
	{TCPStateTrans, TCPEventSYN6}: TCPStateEstablished,
}

// ApplyTCPEvent returns the state that follows applying event to state,
// and whether the transition is legal. Transitions not present in the
// table are ordinarily self-loops: the state is unchanged (spec.md §5:
// "the TCP state machine therefore tolerates out-of-order SYN/FIN
// observation ... rather than sequence numbers"). The one exception is
// TCPEventData arriving while still in V4_INIT or V6_INIT -- a data
// segment with neither side's connection-opening SYN ever observed --
// which RFC 6146 Section 3.5.2 does not admit from either state; the
// caller must treat that as an illegal transition rather than forward
// the segment.
func ApplyTCPEvent(state TCPState, event TCPEvent) (TCPState, bool) {
	if next, ok := tcpTransitions[stateEvent{state, event}]; ok {
		return next, true
	}
	if event == TCPEventData && (state == TCPStateV4Init || state == TCPStateV6Init) {
		return state, false
	}
	return state, true
}

// IsTerminal reports whether a TCPEventTimer firing while in state should
// remove the session (spec.md §4.2: "timer for each state uses a
// per-state timeout"). TRANS and V4V6_FIN_RCV only ever leave by timer
// expiry or RST/SYN (already modeled above); a timer event in any state
// always means "this session's deadline passed" at the store layer, so
// IsTerminal exists only to document that Timer is not in the transition
// table above -- expiry is handled by Store.Expire, not by ApplyTCPEvent.
func IsTerminal(state TCPState) bool {
	return state == TCPStateTrans || state == TCPStateV4V6FinRcv
}
