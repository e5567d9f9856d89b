// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tcpfsm

import (
	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/loheagn/folonet/internal/notify"
)

// Connection is the symmetric, per-flow FSM of spec.md §4.2: one
// PeerFSM tracking the connection's initiator (from) and one tracking its
// responder (to), both driven by every Notification observed for the
// flow regardless of which direction it traveled in. Grounded on
// folonet/src/state/tcp_fsm.rs's ConnectionState.
type Connection struct {
	from, to endpoint.Endpoint
	Client   *PeerFSM
	Server   *PeerFSM
}

// NewConnection creates a Connection for the flow from->to. from is the
// active opener, to the passive acceptor (spec.md §4.2's client/server
// roles, matching folonet/src/endpoint.rs's Endpoint::is_server_side
// driving which side starts in Listen).
func NewConnection(from, to endpoint.Endpoint) *Connection {
	return &Connection{
		from:   from,
		to:     to,
		Client: NewPeerFSM(false),
		Server: NewPeerFSM(true),
	}
}

// NewEstablishedConnection creates a Connection whose peers start in
// Established rather than Closed/Listen — see NewEstablishedPeerFSM. This
// is the constructor internal/flowstate actually uses for live flows.
func NewEstablishedConnection(from, to endpoint.Endpoint) *Connection {
	return &Connection{
		from:   from,
		to:     to,
		Client: NewEstablishedPeerFSM(),
		Server: NewEstablishedPeerFSM(),
	}
}

// HandleTCP feeds a TaggedEvent sent by observedFrom to both peer FSMs, each resolving its own Direction relative to its
// fixed identity endpoint (folonet/src/state/mod.rs's PacketMsg::direction).
// onExpire is invoked (once per peer) if that peer's FSM completes its
// scheduled TimeWait->Closed self-transition.
func (c *Connection) HandleTCP(observedFrom endpoint.Endpoint, evt notify.TaggedEvent, onExpire func()) {
	clientDir := DirectionReceived
	if observedFrom == c.from {
		clientDir = DirectionSent
	}
	serverDir := DirectionReceived
	if observedFrom == c.to {
		serverDir = DirectionSent
	}

	c.Client.HandlePacket(evt, clientDir, onExpire)
	c.Server.HandlePacket(evt, serverDir, onExpire)
}

// Closed reports whether both peers have reached the terminal Closed
// state — the Close condition of spec.md §4.2 that triggers Shared Maps
// reclamation in internal/flowstate.
func (c *Connection) Closed() bool {
	return c.Client.IsClosed() && c.Server.IsClosed()
}
