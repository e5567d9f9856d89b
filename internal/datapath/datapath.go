// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package datapath implements folonet's fast path (spec.md §4.1): the
// per-frame DNAT+SNAT transform and Flow Table lookup/installation that,
// on a real deployment, would run in-kernel at an XDP hook. Here it runs
// as ordinary Go code driven by internal/datapath's capture loop
// (mdlayher/packet AF_PACKET sockets standing in for the kernel hook), but
// the contract — bounded, single-pass, never blocking — is unchanged: no
// unbounded loops over packet contents, every table operation is a single
// map op, and the only side channel out is a non-blocking ring publish.
package datapath

import (
	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/loheagn/folonet/internal/netutil"
	"github.com/loheagn/folonet/internal/notify"
	"github.com/loheagn/folonet/internal/sharedmaps"
)

// Action is the fast path's per-frame verdict (spec.md §4.1's public
// contract).
type Action int

const (
	ActionPass Action = iota
	ActionTransmit
	ActionDrop
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionTransmit:
		return "transmit"
	case ActionDrop:
		return "drop"
	case ActionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// coldStartPortLow and coldStartPortHigh bound the registered service-port
// band of spec.md §4.1 step 4: a miss against the Backend Table for a
// destination port inside this band triggers a cold-start notification;
// outside it, the packet is simply passed to the host stack.
const (
	coldStartPortLow  = 8000
	coldStartPortHigh = 9999
)

// Engine runs Process for every captured frame. It is the single
// consumer+producer of the Shared Maps and the two notification rings on
// the datapath side; internal/engine constructs one Engine per attached
// interface (sharing the same Tables and rings across interfaces).
type Engine struct {
	Tables       *sharedmaps.Tables
	PacketEvents *notify.PacketEventRing
	ColdStarts   *notify.ColdStartRing
}

// NewEngine wires an Engine to its Shared Maps and notification rings.
func NewEngine(tables *sharedmaps.Tables, packetEvents *notify.PacketEventRing, coldStarts *notify.ColdStartRing) *Engine {
	return &Engine{Tables: tables, PacketEvents: packetEvents, ColdStarts: coldStarts}
}

// Process runs spec.md §4.1's algorithm once over frame, arriving on the
// interface identified by ifindex.
func (e *Engine) Process(frame []byte, ifindex uint32) Action {
	eth, ok := parseEthernet(frame)
	if !ok || eth.etherType != ethTypeIPv4 {
		return ActionPass
	}

	ip, ok := parseIPv4(frame, ethHdrLen)
	if !ok {
		return ActionPass
	}

	var hdr l4
	switch ip.proto {
	case ipProtoTCP:
		hdr, ok = parseTCP(frame, ip.start+ip.hdrLen)
	case ipProtoUDP:
		hdr, ok = parseUDP(frame, ip.start+ip.hdrLen)
	default:
		return ActionPass
	}
	if !ok {
		return ActionPass
	}

	e.learnMAC(ip.srcIP, eth.srcMac)
	e.learnMAC(ip.dstIP, eth.dstMac)

	srcEp := endpoint.Endpoint{IP: ip.srcIP, Port: hdr.srcPort}
	dstEp := endpoint.Endpoint{IP: ip.dstIP, Port: hdr.dstPort}
	declared := endpoint.Flow{From: srcEp, To: dstEp}

	out, found := e.Tables.Flow.Lookup(declared)
	if !found {
		action, created := e.createFlow(declared, dstEp, ifindex)
		if !created {
			return action
		}
		out, _ = e.Tables.Flow.Lookup(declared)
	}

	if ip.proto == ipProtoTCP {
		e.publishTCPEvent(declared, out, hdr)
	}

	e.tickDoorbell(declared.To, out.From)

	rewrite(frame, ip, hdr, out, e.resolveMAC(ifindex))

	return ActionTransmit
}

// resolveMAC builds a macResolver that checks the IP->MAC Table first and,
// on a miss, falls back to the kernel's neighbor table via
// netutil.ResolveNeighborMAC (spec.md §3's IP->MAC Table is seeded and
// learned, but a freshly-seen backend address may not have been learned or
// configured yet). A resolved fallback is written back into the table so
// later frames hit the fast path directly.
func (e *Engine) resolveMAC(ifindex uint32) macResolver {
	return func(ip uint32) (endpoint.Mac, bool) {
		if mac, ok := e.Tables.IPMAC.Lookup(ip); ok {
			return mac, true
		}
		hw, ok := netutil.ResolveNeighborMAC(int(ifindex), endpoint.Endpoint{IP: ip}.NetIP())
		if !ok {
			return 0, false
		}
		mac, err := endpoint.MacFromBytes(hw)
		if err != nil {
			return 0, false
		}
		e.Tables.IPMAC.Set(ip, mac)
		return mac, true
	}
}

// createFlow implements spec.md §4.1 step 4: on a Flow Table miss, resolve
// the backend, allocate a local port and source IP, and install the
// forward+reverse pair. Returns (action, false) when the packet must be
// dropped or passed without ever reaching Flow Table lookup again.
func (e *Engine) createFlow(declared endpoint.Flow, dstEp endpoint.Endpoint, ifindex uint32) (Action, bool) {
	backend, ok := e.Tables.Backend.Lookup(dstEp)
	if !ok {
		if dstEp.Port >= coldStartPortLow && dstEp.Port <= coldStartPortHigh {
			e.ColdStarts.Publish(dstEp)
			return ActionDrop, false
		}
		return ActionPass, false
	}

	port, ok := e.Tables.Ports.Acquire()
	if !ok {
		return ActionDrop, false
	}

	localIP, ok := e.Tables.LocalIP.Lookup(ifindex)
	if !ok {
		_ = e.Tables.Ports.Release(port)
		return ActionDrop, false
	}

	from := endpoint.Endpoint{IP: localIP, Port: port}
	out := endpoint.Flow{From: from, To: backend}

	if err := e.Tables.Flow.InsertPair(declared, out); err != nil {
		_ = e.Tables.Ports.Release(port)
		return ActionAbort, false
	}

	return ActionTransmit, true
}

// publishTCPEvent implements spec.md §4.1 step 6's Packet-Event Ring publish,
// widened just enough to make the FSM in internal/flowstate reachable at
// Closed: a FIN always publishes and also marks the connection (both
// directions, via the Closing Table) as mid-close; once marked, every
// subsequent packet for that connection publishes too, since a graceful
// close's handshake-completing final ACK carries no FIN of its own and
// would otherwise never reach the FSM. A connection with no FIN seen yet
// never reaches this branch's ACK-publish arm, so ordinary established-flow
// data traffic is never placed on the ring.
func (e *Engine) publishTCPEvent(declared, out endpoint.Flow, hdr l4) {
	closing := e.Tables.Closing.Get(declared)
	if !hdr.isFIN() && !closing {
		return
	}
	if hdr.isFIN() && !closing {
		_ = e.Tables.Closing.Mark(declared)
		_ = e.Tables.Closing.Mark(out.Reverse())
	}

	evt := notify.NewTCPEvent(packFlags(hdr), hdr.ackSeq, hdr.seq)
	e.PacketEvents.Publish(notify.Notification{
		LocalIn:  declared.From,
		LocalOut: out.From,
		Flow:     declared,
		Event:    evt,
	})
}

func (e *Engine) learnMAC(ip uint32, mac [6]byte) {
	m, err := endpoint.MacFromBytes(mac[:])
	if err != nil {
		return
	}
	e.Tables.IPMAC.LearnIfAbsent(ip, m)
}

// tickDoorbell implements spec.md §4.1 step 7: if the declared tuple's
// destination or the output tuple's source is armed, mark its Performance
// Table entry. The Doorbell
// Table itself is only ever written by the Cold-Start Controller's idle
// monitor (internal/coldstart); the datapath only reads it.
func (e *Engine) tickDoorbell(declaredTo, outFrom endpoint.Endpoint) {
	if e.Tables.Doorbell.Get(declaredTo) {
		_ = e.Tables.Performance.Mark(declaredTo)
	}
	if e.Tables.Doorbell.Get(outFrom) {
		_ = e.Tables.Performance.Mark(outFrom)
	}
}

func packFlags(hdr l4) notify.PacketFlag {
	var f notify.PacketFlag
	if hdr.isSYN() {
		f |= notify.FlagSYN
	}
	if hdr.isFIN() {
		f |= notify.FlagFIN
	}
	if hdr.isACK() {
		f |= notify.FlagACK
	}
	return f
}
