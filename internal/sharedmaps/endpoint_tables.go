// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sharedmaps

import (
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/loheagn/folonet/internal/endpoint"
)

// BackendTable is the Backend Table of spec.md §3: virtual service Endpoint
// -> currently-provisioned backend Endpoint. Populated by
// internal/coldstart once a backend has finished starting, consulted by
// internal/datapath on every Flow Table miss.
type BackendTable struct {
	m *ebpf.Map
}

func newBackendTable(maxEntries uint32) (*BackendTable, error) {
	m, err := newMap("backend_table", ebpf.Hash,
		uint32(unsafe.Sizeof(endpoint.Endpoint{})), uint32(unsafe.Sizeof(endpoint.Endpoint{})), maxEntries)
	if err != nil {
		return nil, err
	}
	return &BackendTable{m: m}, nil
}

// Lookup returns the backend currently assigned to vservice, if any.
func (t *BackendTable) Lookup(vservice endpoint.Endpoint) (endpoint.Endpoint, bool) {
	var out endpoint.Endpoint
	if err := t.m.Lookup(&vservice, &out); err != nil {
		return endpoint.Endpoint{}, false
	}
	return out, true
}

// Set installs or replaces the backend assigned to vservice.
func (t *BackendTable) Set(vservice, backend endpoint.Endpoint) error {
	return t.m.Update(&vservice, &backend, ebpf.UpdateAny)
}

// Delete removes vservice's backend assignment, once the backend has been
// stopped for being idle (spec.md §4.3's teardown path).
func (t *BackendTable) Delete(vservice endpoint.Endpoint) error {
	err := t.m.Delete(&vservice)
	if isNotExist(err) {
		return nil
	}
	return err
}

// Close releases the underlying map.
func (t *BackendTable) Close() error { return t.m.Close() }

// IPMACTable is the IP->MAC Table of spec.md §3, seeded from the
// ip_mac_list config section and opportunistically extended by the
// datapath's passive Ethernet-source learning (spec.md §4.1).
type IPMACTable struct {
	m *ebpf.Map
}

func newIPMACTable(maxEntries uint32) (*IPMACTable, error) {
	m, err := newMap("ip_mac_table", ebpf.Hash, 4, 8, maxEntries)
	if err != nil {
		return nil, err
	}
	return &IPMACTable{m: m}, nil
}

// Lookup returns the MAC address known for ip, if any.
func (t *IPMACTable) Lookup(ip uint32) (endpoint.Mac, bool) {
	var out endpoint.Mac
	if err := t.m.Lookup(&ip, &out); err != nil {
		return 0, false
	}
	return out, true
}

// Set installs or replaces the MAC known for ip. Used both for config-seeded
// entries and for the datapath's opportunistic learning: learning is
// idempotent last-writer-wins, so a plain upsert (rather than a
// compare-and-swap) is all spec.md §4.1 requires.
func (t *IPMACTable) Set(ip uint32, mac endpoint.Mac) error {
	return t.m.Update(&ip, &mac, ebpf.UpdateAny)
}

// LearnIfAbsent inserts mac for ip only if the table has no entry for ip
// yet, avoiding needless map writes on the fast path once an address has
// been learned once.
func (t *IPMACTable) LearnIfAbsent(ip uint32, mac endpoint.Mac) {
	if _, ok := t.Lookup(ip); ok {
		return
	}
	_ = t.Set(ip, mac)
}

// Close releases the underlying map.
func (t *IPMACTable) Close() error { return t.m.Close() }

// LocalIPTable is the Local-IP-per-Interface Table of spec.md §3: kernel
// ifindex -> the IPv4 address the datapath should use as SNAT source when
// rewriting a packet destined to that interface.
type LocalIPTable struct {
	m *ebpf.Map
}

func newLocalIPTable(maxEntries uint32) (*LocalIPTable, error) {
	m, err := newMap("local_ip_table", ebpf.Hash, 4, 4, maxEntries)
	if err != nil {
		return nil, err
	}
	return &LocalIPTable{m: m}, nil
}

// Lookup returns the local IPv4 address configured for ifindex.
func (t *LocalIPTable) Lookup(ifindex uint32) (uint32, bool) {
	var out uint32
	if err := t.m.Lookup(&ifindex, &out); err != nil {
		return 0, false
	}
	return out, true
}

// Set installs the local IPv4 address for ifindex, read at startup from
// netutil.ResolveInterface.
func (t *LocalIPTable) Set(ifindex uint32, ip uint32) error {
	return t.m.Update(&ifindex, &ip, ebpf.UpdateAny)
}

// Close releases the underlying map.
func (t *LocalIPTable) Close() error { return t.m.Close() }

// EndpointByteTable backs both the Doorbell Table and the Performance
// Table of spec.md §3: Endpoint -> a single byte of state. The idle monitor
// in internal/coldstart arms and clears the Doorbell and reads-and-clears
// the Performance byte on each sampling window; the datapath only reads
// the Doorbell, and marks a virtual service's Performance byte on each
// packet it forwards while that service's doorbell is armed.
type EndpointByteTable struct {
	m *ebpf.Map
}

func newEndpointByteTable(name string, maxEntries uint32) (*EndpointByteTable, error) {
	m, err := newMap(name, ebpf.Hash, uint32(unsafe.Sizeof(endpoint.Endpoint{})), 1, maxEntries)
	if err != nil {
		return nil, err
	}
	return &EndpointByteTable{m: m}, nil
}

// Mark sets the byte for ep to 1, e.g. when the datapath forwards a packet
// for an armed virtual service.
func (t *EndpointByteTable) Mark(ep endpoint.Endpoint) error {
	var v uint8 = 1
	return t.m.Update(&ep, &v, ebpf.UpdateAny)
}

// Get reads whether ep is currently marked, without clearing it. Used by
// the datapath to test the Doorbell Table (only the idle monitor ever
// arms or disarms it; the datapath only ever reads it).
func (t *EndpointByteTable) Get(ep endpoint.Endpoint) bool {
	var v uint8
	if err := t.m.Lookup(&ep, &v); err != nil {
		return false
	}
	return v != 0
}

// ReadAndClear returns whether ep was marked since the last call, then
// clears the entry (sets it back to 0) so the next sampling window starts
// from a clean slate. Absence of an entry counts as "not marked".
func (t *EndpointByteTable) ReadAndClear(ep endpoint.Endpoint) bool {
	var v uint8
	if err := t.m.Lookup(&ep, &v); err != nil {
		return false
	}
	var zero uint8
	_ = t.m.Update(&ep, &zero, ebpf.UpdateAny)
	return v != 0
}

// Delete removes ep's entry entirely, once its backend has been torn down.
func (t *EndpointByteTable) Delete(ep endpoint.Endpoint) error {
	err := t.m.Delete(&ep)
	if isNotExist(err) {
		return nil
	}
	return err
}

// Close releases the underlying map.
func (t *EndpointByteTable) Close() error { return t.m.Close() }
