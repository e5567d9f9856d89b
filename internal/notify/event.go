// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package notify implements folonet's kernel<->userspace notification
// channel (spec.md §4.4): the Packet-Event Ring and Cold-Start Ring. Both
// are fixed-size, pod-copyable record rings with a non-blocking producer
// (the datapath, which may drop on a full ring) and a blocking consumer
// (the Flow State Engine / Cold-Start Controller).
//
// A real XDP deployment backs these with BPF ring buffers the kernel
// populates directly; here the producer is Go code too, so a buffered
// channel gives the same drop-on-full / block-on-drain contract without
// needing cilium/ebpf's ringbuf reader (which exists to read maps a kernel
// program writes into, not ones userspace writes into itself).
package notify

import (
	"github.com/loheagn/folonet/internal/endpoint"
)

// EventTag identifies the payload packed into a TaggedEvent, matching
// folonet-common's Event::type_id encoding.
type EventTag uint8

const (
	TagTCP EventTag = 1
	TagUDP EventTag = 2
)

// PacketFlag is the TCP flag bitset carried in a TaggedEvent's TCP payload,
// matching folonet-common's PacketFlag bitflags.
type PacketFlag uint32

const (
	FlagSYN PacketFlag = 0b0000_0001
	FlagFIN PacketFlag = 0b0000_0010
	FlagACK PacketFlag = 0b0000_0100
)

// TaggedEvent is the 128-bit wire encoding of spec.md §4.4: the high 8 bits
// are the type tag, and for TCP the remaining bits pack `flag:32 |
// ack_seq:32 | seq:32`. UDP events carry no payload.
type TaggedEvent struct {
	Tag    EventTag
	Flag   PacketFlag
	AckSeq uint32
	Seq    uint32
}

// NewTCPEvent builds a TaggedEvent carrying a TCP packet's flags and
// sequence numbers, as produced by internal/datapath for every FIN it
// observes (spec.md §4.1 step 6) and for every later packet of a connection
// its Closing Table has marked.
func NewTCPEvent(flag PacketFlag, ackSeq, seq uint32) TaggedEvent {
	return TaggedEvent{Tag: TagTCP, Flag: flag, AckSeq: ackSeq, Seq: seq}
}

// NewUDPEvent builds a tag-only TaggedEvent for UDP traffic.
func NewUDPEvent() TaggedEvent {
	return TaggedEvent{Tag: TagUDP}
}

// IsSYN, IsFIN and IsACK mirror folonet-common's Packet::is_syn/is_fin/is_ack.
func (e TaggedEvent) IsSYN() bool { return e.Flag&FlagSYN != 0 }
func (e TaggedEvent) IsFIN() bool { return e.Flag&FlagFIN != 0 }
func (e TaggedEvent) IsACK() bool { return e.Flag&FlagACK != 0 }

// Pack encodes e into the high/low 64-bit halves of its 128-bit wire form:
// tag occupies bits 127-120, flag bits 95-64, ack_seq bits 63-32, seq bits
// 31-0 (folonet-common/src/event.rs's `From<&Event> for u128`).
func (e TaggedEvent) Pack() (hi, lo uint64) {
	hi = uint64(e.Tag)<<56 | uint64(e.Flag)
	lo = uint64(e.AckSeq)<<32 | uint64(e.Seq)
	return hi, lo
}

// UnpackTaggedEvent reverses Pack.
func UnpackTaggedEvent(hi, lo uint64) TaggedEvent {
	return TaggedEvent{
		Tag:    EventTag(hi >> 56),
		Flag:   PacketFlag(uint32(hi)),
		AckSeq: uint32(lo >> 32),
		Seq:    uint32(lo),
	}
}

// Notification is the fixed-size record carried on the Packet-Event Ring
// (spec.md §4.4's wire format): the declared in/out tuples of the packet
// that triggered it, the observed Flow, and the TaggedEvent describing
// what was seen.
type Notification struct {
	LocalIn  endpoint.Endpoint
	LocalOut endpoint.Endpoint
	Flow     endpoint.Flow
	Event    TaggedEvent
}
