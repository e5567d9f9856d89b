// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package datapath

import "encoding/binary"

const (
	ethHdrLen    = 14
	ethTypeIPv4  = 0x0800
	ethSrcOffset = 6
	ethDstOffset = 0

	ipProtoTCP = 6
	ipProtoUDP = 17

	minIPv4HdrLen = 20
	minTCPHdrLen  = 20
	udpHdrLen     = 8

	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagACK = 0x10
)

// ethernet is a bounds-checked view into frame's Ethernet header.
type ethernet struct {
	dstMac, srcMac [6]byte
	etherType      uint16
}

func parseEthernet(frame []byte) (ethernet, bool) {
	if len(frame) < ethHdrLen {
		return ethernet{}, false
	}
	var e ethernet
	copy(e.dstMac[:], frame[0:6])
	copy(e.srcMac[:], frame[6:12])
	e.etherType = binary.BigEndian.Uint16(frame[12:14])
	return e, true
}

// ipv4 is a bounds-checked view into frame's IPv4 header, recording where
// it starts and how long it is (including options) so the L4 header can
// be located.
type ipv4 struct {
	start, hdrLen int
	proto         uint8
	srcIP, dstIP  uint32
}

func parseIPv4(frame []byte, start int) (ipv4, bool) {
	if len(frame) < start+minIPv4HdrLen {
		return ipv4{}, false
	}
	ihl := int(frame[start]&0x0f) * 4
	if ihl < minIPv4HdrLen || len(frame) < start+ihl {
		return ipv4{}, false
	}
	return ipv4{
		start:  start,
		hdrLen: ihl,
		proto:  frame[start+9],
		srcIP:  binary.BigEndian.Uint32(frame[start+12 : start+16]),
		dstIP:  binary.BigEndian.Uint32(frame[start+16 : start+20]),
	}, true
}

// l4 is a bounds-checked, protocol-agnostic view of the TCP or UDP header
// needed by the fast path: ports, and for TCP, flags and sequence numbers.
type l4 struct {
	start          int
	isTCP          bool
	srcPort        uint16
	dstPort        uint16
	checksumOffset int
	flags          uint8
	seq, ackSeq    uint32
}

func parseTCP(frame []byte, start int) (l4, bool) {
	if len(frame) < start+minTCPHdrLen {
		return l4{}, false
	}
	return l4{
		start:          start,
		isTCP:          true,
		srcPort:        binary.BigEndian.Uint16(frame[start : start+2]),
		dstPort:        binary.BigEndian.Uint16(frame[start+2 : start+4]),
		seq:            binary.BigEndian.Uint32(frame[start+4 : start+8]),
		ackSeq:         binary.BigEndian.Uint32(frame[start+8 : start+12]),
		flags:          frame[start+13],
		checksumOffset: start + 16,
	}, true
}

func parseUDP(frame []byte, start int) (l4, bool) {
	if len(frame) < start+udpHdrLen {
		return l4{}, false
	}
	return l4{
		start:          start,
		isTCP:          false,
		srcPort:        binary.BigEndian.Uint16(frame[start : start+2]),
		dstPort:        binary.BigEndian.Uint16(frame[start+2 : start+4]),
		checksumOffset: start + 6,
	}, true
}

func (h l4) isFIN() bool { return h.isTCP && h.flags&tcpFlagFIN != 0 }
func (h l4) isSYN() bool { return h.isTCP && h.flags&tcpFlagSYN != 0 }
func (h l4) isACK() bool { return h.isTCP && h.flags&tcpFlagACK != 0 }
