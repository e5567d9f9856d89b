// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sharedmaps

import (
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/loheagn/folonet/internal/endpoint"
)

// FlowFlagTable backs the Closing Table, an implementation-internal Shared
// Map not itself named by spec.md §3: Flow -> a single byte marking that a
// TCP FIN has been observed somewhere on this connection. spec.md §4.1 step
// 6 gates Packet-Event Ring publishes on "the L4 header carries a TCP FIN",
// but a graceful close's final handshake-completing ACK never carries one —
// without also publishing that ACK, neither tcpfsm peer in
// internal/flowstate ever reaches Closed, and spec.md's own happy-path
// teardown scenario never reclaims. original_source/folonet/src/state/tcp.rs
// forwards every TCP packet to the connection state machine with no FIN
// filter at all; the Closing Table lets the datapath stay close to spec.md's
// literal FIN-gated wording while still widening it exactly enough, once a
// connection has entered its close sequence, to let that connection's
// remaining packets through (see DESIGN.md's "FIN-only gating" entry).
type FlowFlagTable struct {
	m *ebpf.Map
}

func newFlowFlagTable(name string, maxEntries uint32) (*FlowFlagTable, error) {
	m, err := newMap(name, ebpf.Hash, uint32(unsafe.Sizeof(endpoint.Flow{})), 1, maxEntries)
	if err != nil {
		return nil, err
	}
	return &FlowFlagTable{m: m}, nil
}

// Mark records that observed's connection has seen a FIN.
func (t *FlowFlagTable) Mark(observed endpoint.Flow) error {
	var v uint8 = 1
	return t.m.Update(&observed, &v, ebpf.UpdateAny)
}

// Get reports whether observed's connection has seen a FIN yet.
func (t *FlowFlagTable) Get(observed endpoint.Flow) bool {
	var v uint8
	if err := t.m.Lookup(&observed, &v); err != nil {
		return false
	}
	return v != 0
}

// Delete clears observed's entry, once the connection has been reclaimed.
func (t *FlowFlagTable) Delete(observed endpoint.Flow) error {
	err := t.m.Delete(&observed)
	if isNotExist(err) {
		return nil
	}
	return err
}

// Close releases the underlying map.
func (t *FlowFlagTable) Close() error { return t.m.Close() }
