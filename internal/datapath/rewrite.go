// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package datapath

import (
	"encoding/binary"

	"github.com/loheagn/folonet/internal/endpoint"
)

// macResolver looks up the MAC address known for an IPv4 address, as
// internal/sharedmaps.IPMACTable does.
type macResolver func(ip uint32) (endpoint.Mac, bool)

// rewrite applies spec.md §4.1 step 8 / §6's packet rewrite contract
// in-place: IPv4 src/dst, L4 src/dst ports, incremental IPv4 and L4
// checksums, and the Ethernet addresses (src <- old dst, dst <-
// IP->MAC[out.To.IP] if known, else the original src MAC).
func rewrite(frame []byte, ip ipv4, hdr l4, out endpoint.Flow, resolveMAC macResolver) {
	rewriteIP(frame, ip, hdr, ip.srcIP, out.From.IP, true)
	rewriteIP(frame, ip, hdr, ip.dstIP, out.To.IP, false)
	rewritePort(frame, hdr, hdr.srcPort, out.From.Port, true)
	rewritePort(frame, hdr, hdr.dstPort, out.To.Port, false)

	var dstMac, origSrcMac [6]byte
	copy(dstMac[:], frame[ethDstOffset:ethDstOffset+6])
	copy(origSrcMac[:], frame[ethSrcOffset:ethSrcOffset+6])
	newDst := origSrcMac
	if mac, ok := resolveMAC(out.To.IP); ok {
		newDst = [6]byte(mac.Bytes())
	}
	srcMac := dstMac // src <- old dst (spec.md §6)
	copy(frame[ethSrcOffset:ethSrcOffset+6], srcMac[:])
	copy(frame[ethDstOffset:ethDstOffset+6], newDst[:])
}

func rewriteIP(frame []byte, ip ipv4, hdr l4, oldIP, newIP uint32, isSrc bool) {
	if oldIP == newIP {
		return
	}
	offset := ip.start + 16
	if isSrc {
		offset = ip.start + 12
	}
	binary.BigEndian.PutUint32(frame[offset:offset+4], newIP)

	ipCsum := binary.BigEndian.Uint16(frame[ip.start+10 : ip.start+12])
	ipCsum = updateChecksum32(ipCsum, oldIP, newIP)
	binary.BigEndian.PutUint16(frame[ip.start+10:ip.start+12], ipCsum)

	l4Csum := binary.BigEndian.Uint16(frame[hdr.checksumOffset : hdr.checksumOffset+2])
	l4Csum = updateChecksum32(l4Csum, oldIP, newIP)
	binary.BigEndian.PutUint16(frame[hdr.checksumOffset:hdr.checksumOffset+2], l4Csum)
}

func rewritePort(frame []byte, hdr l4, oldPort, newPort uint16, isSrc bool) {
	if oldPort == newPort {
		return
	}
	offset := hdr.start
	if !isSrc {
		offset = hdr.start + 2
	}
	binary.BigEndian.PutUint16(frame[offset:offset+2], newPort)

	csum := binary.BigEndian.Uint16(frame[hdr.checksumOffset : hdr.checksumOffset+2])
	csum = updateChecksum16(csum, oldPort, newPort)
	binary.BigEndian.PutUint16(frame[hdr.checksumOffset:hdr.checksumOffset+2], csum)
}
