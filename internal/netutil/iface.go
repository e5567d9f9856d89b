// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netutil

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// InterfaceInfo is what the datapath needs to know about an attached NIC:
// its kernel ifindex (used as the Local-IP-per-Interface Table key) and its
// primary IPv4 address (used as the SNAT source IP on flow creation).
type InterfaceInfo struct {
	Name    string
	Index   int
	LocalIP net.IP
}

// ResolveInterface looks up ifaceName and returns its index and primary
// IPv4 address, read from the kernel via netlink rather than parsed out of
// /proc or shelled-out `ip addr`.
func ResolveInterface(ifaceName string) (InterfaceInfo, error) {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return InterfaceInfo{}, fmt.Errorf("netutil: lookup interface %q: %w", ifaceName, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return InterfaceInfo{}, fmt.Errorf("netutil: list addresses on %q: %w", ifaceName, err)
	}
	if len(addrs) == 0 {
		return InterfaceInfo{}, fmt.Errorf("netutil: interface %q has no IPv4 address", ifaceName)
	}

	return InterfaceInfo{
		Name:    ifaceName,
		Index:   link.Attrs().Index,
		LocalIP: addrs[0].IP.To4(),
	}, nil
}

// ResolveNeighborMAC opportunistically resolves ip's link-layer address via
// the kernel's neighbor (ARP) table, supplementing the datapath's own
// observed-frame learning (spec.md §4.1) and the ip_mac_list config.
func ResolveNeighborMAC(ifindex int, ip net.IP) (net.HardwareAddr, bool) {
	neighs, err := netlink.NeighList(ifindex, netlink.FAMILY_V4)
	if err != nil {
		return nil, false
	}
	for _, n := range neighs {
		if n.IP.Equal(ip) && len(n.HardwareAddr) == 6 {
			return n.HardwareAddr, true
		}
	}
	return nil, false
}
