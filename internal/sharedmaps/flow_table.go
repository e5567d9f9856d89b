// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sharedmaps

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/loheagn/folonet/internal/endpoint"
)

// FlowTable is the Flow Table of spec.md §3: Flow -> Flow, mapping an
// observed packet's tuple to the tuple it should be rewritten to. Every
// accepted connection owns exactly two entries, one per direction
// (Invariant 1): forward maps client->vservice to local->backend, and the
// reverse entry maps backend->local to vservice->client.
type FlowTable struct {
	m *ebpf.Map
	// mu serializes the two-map-op forward+reverse insert/delete so the
	// pair appears atomic to concurrent datapath goroutines (the
	// underlying ebpf.Map already guarantees atomicity of each
	// individual key's update/lookup/delete).
	mu sync.Mutex
}

func newFlowTable(maxEntries uint32) (*FlowTable, error) {
	m, err := newMap("flow_table", ebpf.LRUHash,
		uint32(unsafe.Sizeof(endpoint.Flow{})), uint32(unsafe.Sizeof(endpoint.Flow{})), maxEntries)
	if err != nil {
		return nil, err
	}
	return &FlowTable{m: m}, nil
}

// Lookup returns the rewrite target for an observed flow, if one exists.
func (t *FlowTable) Lookup(observed endpoint.Flow) (endpoint.Flow, bool) {
	var out endpoint.Flow
	if err := t.m.Lookup(&observed, &out); err != nil {
		return endpoint.Flow{}, false
	}
	return out, true
}

// InsertPair installs both directions of a connection: observedFwd rewrites
// to rewriteFwd, and the mirrored reverse pair (rewriteFwd.Reverse() ->
// observedFwd.Reverse()) handles the return path. If the reverse insert
// fails, the forward entry is rolled back so a half-installed connection
// never lingers in the table (Invariant 1).
func (t *FlowTable) InsertPair(observedFwd, rewriteFwd endpoint.Flow) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.m.Update(&observedFwd, &rewriteFwd, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("sharedmaps: insert forward flow: %w", err)
	}

	observedRev := rewriteFwd.Reverse()
	rewriteRev := observedFwd.Reverse()
	if err := t.m.Update(&observedRev, &rewriteRev, ebpf.UpdateAny); err != nil {
		_ = t.m.Delete(&observedFwd)
		return fmt.Errorf("sharedmaps: insert reverse flow: %w", err)
	}
	return nil
}

// DeletePair removes both directions of the connection addressed by
// observedFwd. Used once internal/flowstate has observed Close on both
// peers (spec.md §9's reclamation ordering: FSM gone, then port returned,
// then these entries deleted).
func (t *FlowTable) DeletePair(observedFwd endpoint.Flow) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rewriteFwd, ok := t.lookupLocked(observedFwd)
	if !ok {
		return nil
	}
	observedRev := rewriteFwd.Reverse()

	_ = t.m.Delete(&observedFwd)
	_ = t.m.Delete(&observedRev)
	return nil
}

func (t *FlowTable) lookupLocked(observed endpoint.Flow) (endpoint.Flow, bool) {
	var out endpoint.Flow
	if err := t.m.Lookup(&observed, &out); err != nil {
		return endpoint.Flow{}, false
	}
	return out, true
}

// Close releases the underlying map.
func (t *FlowTable) Close() error { return t.m.Close() }
