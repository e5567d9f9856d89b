// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tcpfsm implements the per-peer TCP state machine of spec.md §4.2:
// a single symmetric FSM definition driven independently for each side of a
// connection, transitions derived from observed packet flags and
// seq/ack_seq relations rather than socket ownership. Grounded on
// folonet/src/state/tcp_fsm.rs's rust_fsm state_machine! definition and its
// check_send_input/check_receive_input derivation rules.
package tcpfsm

// State is one node of the TCP peer state machine.
type State int

const (
	StateClosed State = iota
	StateListen
	StateListenReceiveSyn
	StateSynSent
	StateSynSentReceiveSyn
	StateReceiveSynAckReceiveSynAck
	StateSynReceived
	StateEstablished
	StateCloseWait
	StateLastAck
	StateFinWait1
	StateFinWait1ReceiveFin
	StateFinWait2
	StateFinWait2ReceiveFin
	StateClosing
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateListen:
		return "Listen"
	case StateListenReceiveSyn:
		return "ListenReceiveSyn"
	case StateSynSent:
		return "SynSent"
	case StateSynSentReceiveSyn:
		return "SynSentReceiveSyn"
	case StateReceiveSynAckReceiveSynAck:
		return "ReceiveSynAckReceiveSynAck"
	case StateSynReceived:
		return "SynReceived"
	case StateEstablished:
		return "Established"
	case StateCloseWait:
		return "CloseWait"
	case StateLastAck:
		return "LastAck"
	case StateFinWait1:
		return "FinWait1"
	case StateFinWait1ReceiveFin:
		return "FinWait1ReceiveFin"
	case StateFinWait2:
		return "FinWait2"
	case StateFinWait2ReceiveFin:
		return "FinWait2ReceiveFin"
	case StateClosing:
		return "Closing"
	case StateTimeWait:
		return "TimeWait"
	default:
		return "Unknown"
	}
}

// Input is one transition trigger, derived from an observed packet by
// checkSendInput/checkReceiveInput rather than supplied directly by a
// caller.
type Input int

const (
	InputPassiveOpen Input = iota
	InputSendSyn
	InputReceiveSyn
	InputSendSynAck
	InputReceiveSynAck
	InputSendAckForSyn
	InputRecvAckForSyn
	InputSendFin
	InputReceiveFin
	InputRecvAckForFin
	InputSendAckForFin
	InputTimeExpired
)

type transitionKey struct {
	from  State
	input Input
}

// transitions is the TCP peer FSM of spec.md §4.2, transliterated from
// folonet/src/state/tcp_fsm.rs's state_machine! block.
var transitions = map[transitionKey]State{
	{StateClosed, InputPassiveOpen}: StateListen,
	{StateClosed, InputSendSyn}:     StateSynSent,

	{StateListen, InputReceiveSyn}:         StateListenReceiveSyn,
	{StateListenReceiveSyn, InputSendSynAck}: StateSynReceived,

	{StateSynSent, InputReceiveSyn}:     StateSynSentReceiveSyn,
	{StateSynSent, InputReceiveSynAck}:  StateReceiveSynAckReceiveSynAck,
	{StateSynSentReceiveSyn, InputSendAckForSyn}:       StateSynReceived,
	{StateReceiveSynAckReceiveSynAck, InputSendAckForSyn}: StateEstablished,

	{StateSynReceived, InputRecvAckForSyn}: StateEstablished,

	{StateEstablished, InputSendFin}:    StateFinWait1,
	{StateEstablished, InputReceiveFin}: StateCloseWait,

	{StateCloseWait, InputSendFin}: StateLastAck,

	{StateLastAck, InputRecvAckForFin}: StateClosed,

	{StateFinWait1, InputRecvAckForFin}: StateFinWait2,
	{StateFinWait1, InputReceiveFin}:    StateFinWait1ReceiveFin,
	{StateFinWait1ReceiveFin, InputSendAckForFin}: StateClosing,

	{StateFinWait2, InputReceiveFin}:              StateFinWait2ReceiveFin,
	{StateFinWait2ReceiveFin, InputSendAckForFin}: StateTimeWait,

	{StateClosing, InputRecvAckForFin}: StateTimeWait,

	{StateTimeWait, InputTimeExpired}: StateClosed,
}

// consume applies input to from, returning the resulting state and whether
// the transition was valid. An invalid transition leaves the state
// unchanged, mirroring rust_fsm's StateMachine::consume returning
// TransitionImpossibleError, which folonet/src/state/tcp_fsm.rs discards
// with `let _ = fsm.consume(e)`.
func consume(from State, input Input) (State, bool) {
	to, ok := transitions[transitionKey{from, input}]
	if !ok {
		return from, false
	}
	return to, true
}
