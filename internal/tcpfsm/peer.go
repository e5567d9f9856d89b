// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tcpfsm

import (
	"sync"
	"time"

	"github.com/loheagn/folonet/internal/notify"
)

// Direction says which side of a connection a given packet traveled,
// relative to the peer holding the FSM (folonet/src/endpoint.rs's
// Direction, derived by folonet/src/state/mod.rs's PacketMsg::direction).
type Direction int

const (
	// DirectionSent is a packet this peer originated.
	DirectionSent Direction = iota
	// DirectionReceived is a packet this peer is on the receiving end of.
	DirectionReceived
)

// specialKind distinguishes the two packet kinds whose sequence number the
// FSM must remember to match a later ACK against.
type specialKind int

const (
	specialSYN specialKind = iota
	specialFIN
)

type specialPacket struct {
	kind specialKind
	seq  uint32
}

// timeWaitDuration is the TCP TIME_WAIT period (spec.md §4.2): 60 seconds
// after entering TimeWait, the FSM self-transitions to Closed.
const timeWaitDuration = 60 * time.Second

// PeerFSM is one side's half of a connection's symmetric TCP state machine
// (folonet/src/state/tcp_fsm.rs's TcpFsmState): it remembers the one
// outstanding SYN or FIN it has sent and received so it can recognize the
// ACK that answers it, since transitions are derived purely from observed
// flags and seq/ack_seq relations, not from owning a socket.
type PeerFSM struct {
	mu sync.Mutex

	state   State
	sent    *specialPacket
	recvd   *specialPacket
	twTimer *time.Timer
}

// NewPeerFSM creates a peer FSM. passive is true for the side that accepts
// the connection (the backend): it starts in Listen via an implicit
// PassiveOpen, mirroring Endpoint::is_server_side() driving
// TcpFsmState::new in the original.
func NewPeerFSM(passive bool) *PeerFSM {
	p := &PeerFSM{state: StateClosed}
	if passive {
		p.state, _ = consume(p.state, InputPassiveOpen)
	}
	return p
}

// NewEstablishedPeerFSM creates a peer FSM already in Established. Used by
// internal/flowstate: since the datapath publishes nothing for a flow before
// its first TCP FIN (spec.md §4.1 step 6), a flow's per-peer FSMs are never constructed
// until the handshake that preceded them is already complete and
// unobserved, so they start from the state that handshake would have
// reached rather than replaying it from Closed/Listen.
func NewEstablishedPeerFSM() *PeerFSM {
	return &PeerFSM{state: StateEstablished}
}

// State returns the peer's current state.
func (p *PeerFSM) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsClosed reports whether the peer has reached the terminal Closed state
// (either having never opened, or having completed a full close).
func (p *PeerFSM) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateClosed
}

// HandlePacket derives the peer's FSM inputs from evt (a TCP TaggedEvent)
// observed traveling in direction dir relative to this peer, applies them,
// and — if the transition lands in TimeWait — schedules the 60-second
// self-expiry that folonet/src/state/tcp_fsm.rs performs with an inline
// tokio::time::sleep. onExpire, if non-nil, runs after the scheduled
// TimeExpired transition fires.
func (p *PeerFSM) HandlePacket(evt notify.TaggedEvent, dir Direction, onExpire func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, in := range p.checkInput(evt, dir) {
		p.state, _ = consume(p.state, in)
	}

	switch {
	case evt.IsFIN():
		sp := &specialPacket{kind: specialFIN, seq: evt.Seq}
		p.record(dir, sp)
	case evt.IsSYN():
		sp := &specialPacket{kind: specialSYN, seq: evt.Seq}
		p.record(dir, sp)
	}

	if p.state == StateTimeWait && p.twTimer == nil {
		p.twTimer = time.AfterFunc(timeWaitDuration, func() {
			p.mu.Lock()
			p.state, _ = consume(p.state, InputTimeExpired)
			p.twTimer = nil
			p.mu.Unlock()
			if onExpire != nil {
				onExpire()
			}
		})
	}
}

func (p *PeerFSM) record(dir Direction, sp *specialPacket) {
	if dir == DirectionSent {
		p.sent = sp
	} else {
		p.recvd = sp
	}
}

// checkInput dispatches to checkSendInput/checkReceiveInput per direction,
// mirroring TcpFsmState::check_input.
func (p *PeerFSM) checkInput(evt notify.TaggedEvent, dir Direction) []Input {
	if dir == DirectionSent {
		return p.checkSendInput(evt)
	}
	return p.checkReceiveInput(evt)
}

// checkSendInput mirrors TcpFsmState::check_send_input: inputs derived from
// a packet this peer sent.
func (p *PeerFSM) checkSendInput(evt notify.TaggedEvent) []Input {
	var inputs []Input

	if evt.IsACK() && p.recvd != nil {
		switch p.recvd.kind {
		case specialFIN:
			if p.recvd.seq+1 == evt.AckSeq {
				inputs = append(inputs, InputSendAckForFin)
			}
		case specialSYN:
			if p.recvd.seq+1 == evt.AckSeq {
				inputs = append(inputs, InputSendAckForSyn)
			}
		}
	}

	if evt.IsSYN() {
		if evt.IsACK() {
			inputs = append(inputs, InputSendSynAck)
		} else {
			inputs = append(inputs, InputSendSyn)
		}
	}

	if evt.IsFIN() {
		inputs = append(inputs, InputSendFin)
	}

	return inputs
}

// checkReceiveInput mirrors TcpFsmState::check_receive_input: inputs
// derived from a packet this peer received.
func (p *PeerFSM) checkReceiveInput(evt notify.TaggedEvent) []Input {
	var inputs []Input

	if evt.IsACK() && p.sent != nil {
		switch p.sent.kind {
		case specialFIN:
			if p.sent.seq+1 == evt.AckSeq {
				inputs = append(inputs, InputRecvAckForFin)
			}
		case specialSYN:
			if p.sent.seq+1 == evt.AckSeq {
				if evt.IsSYN() {
					inputs = append(inputs, InputReceiveSynAck)
				} else {
					inputs = append(inputs, InputRecvAckForSyn)
				}
			}
		}
	}

	if evt.IsSYN() {
		inputs = append(inputs, InputReceiveSyn)
	}

	if evt.IsFIN() {
		inputs = append(inputs, InputReceiveFin)
	}

	return inputs
}
