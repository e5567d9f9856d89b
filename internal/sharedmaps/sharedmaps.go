// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sharedmaps implements folonet's Shared Maps (spec.md §3): the
// kernel/userspace-shared state that would, on a real XDP deployment, live
// in BPF maps pinned under /sys/fs/bpf. Each table here is a standalone
// *ebpf.Map created with cilium/ebpf's pure-userspace map type (no attached
// program, no bytecode required) so the same map object can in principle be
// pinned and shared with a real XDP program later, while today it is read
// and written only by Go code in this process: internal/datapath's fast
// path, plus internal/engine, internal/coldstart and internal/flowstate.
//
// Every table is a thin, type-safe wrapper in the style of the teacher's
// internal/ebpf/maps.Manager: a *ebpf.Map plus the marshal/unmarshal of our
// own fixed-size key/value types (internal/endpoint). None of the eBPF
// per-key atomicity guarantees are needed for correctness here (there is no
// kernel side concurrently mutating these maps), but keeping the same
// Map-backed shape means the sizing and entry-count invariants from
// spec.md §3 are enforced by the same MaxEntries/KeySize/ValueSize
// mechanism a real deployment would use.
package sharedmaps

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// Tables bundles every Shared Map the datapath and control tier need.
// Constructed once by internal/engine at startup and passed down to
// internal/datapath, internal/coldstart and internal/flowstate.
type Tables struct {
	Flow        *FlowTable
	Backend     *BackendTable
	IPMAC       *IPMACTable
	LocalIP     *LocalIPTable
	Ports       *ServicePortPool
	Doorbell    *EndpointByteTable
	Performance *EndpointByteTable
	Closing     *FlowFlagTable
}

// Config sizes the tables; defaults match spec.md §3's suggested bounds.
type Config struct {
	MaxFlows    uint32 // default 1024
	MaxBackends uint32 // default 256
	MaxIPMAC    uint32 // default 1024
	MaxIfaces   uint32 // default 16
	PortLow     uint16 // default 10000
	PortHigh    uint16 // default 59999 (inclusive)
}

// DefaultConfig returns the sizing spec.md §3 suggests.
func DefaultConfig() Config {
	return Config{
		MaxFlows:    1024,
		MaxBackends: 256,
		MaxIPMAC:    1024,
		MaxIfaces:   16,
		PortLow:     10000,
		PortHigh:    59999,
	}
}

// New creates every Shared Map. Maps are never pinned to bpffs here (there
// is no kernel program to share them with in this build), but each is a
// real standalone ebpf.Map object, not a plain Go map, so the same sizing
// and entry-count discipline a kernel deployment requires is enforced from
// day one.
func New(cfg Config) (*Tables, error) {
	flow, err := newFlowTable(cfg.MaxFlows)
	if err != nil {
		return nil, fmt.Errorf("sharedmaps: flow table: %w", err)
	}
	backend, err := newBackendTable(cfg.MaxBackends)
	if err != nil {
		return nil, fmt.Errorf("sharedmaps: backend table: %w", err)
	}
	ipmac, err := newIPMACTable(cfg.MaxIPMAC)
	if err != nil {
		return nil, fmt.Errorf("sharedmaps: ip-mac table: %w", err)
	}
	localIP, err := newLocalIPTable(cfg.MaxIfaces)
	if err != nil {
		return nil, fmt.Errorf("sharedmaps: local-ip table: %w", err)
	}
	ports, err := newServicePortPool(cfg.PortLow, cfg.PortHigh)
	if err != nil {
		return nil, fmt.Errorf("sharedmaps: service-port pool: %w", err)
	}
	doorbell, err := newEndpointByteTable("doorbell", cfg.MaxBackends)
	if err != nil {
		return nil, fmt.Errorf("sharedmaps: doorbell table: %w", err)
	}
	perf, err := newEndpointByteTable("performance", cfg.MaxBackends)
	if err != nil {
		return nil, fmt.Errorf("sharedmaps: performance table: %w", err)
	}
	closing, err := newFlowFlagTable("closing_table", cfg.MaxFlows)
	if err != nil {
		return nil, fmt.Errorf("sharedmaps: closing table: %w", err)
	}

	return &Tables{
		Flow:        flow,
		Backend:     backend,
		IPMAC:       ipmac,
		LocalIP:     localIP,
		Ports:       ports,
		Doorbell:    doorbell,
		Performance: perf,
		Closing:     closing,
	}, nil
}

// Close releases every underlying map's kernel-side resources.
func (t *Tables) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{t.Flow, t.Backend, t.IPMAC, t.LocalIP, t.Ports, t.Doorbell, t.Performance, t.Closing} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newMap(name string, typ ebpf.MapType, keySize, valueSize, maxEntries uint32) (*ebpf.Map, error) {
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       name,
		Type:       typ,
		KeySize:    keySize,
		ValueSize:  valueSize,
		MaxEntries: maxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("create map %q: %w", name, err)
	}
	return m, nil
}

// isNotExist reports whether err is cilium/ebpf's key-not-found sentinel.
func isNotExist(err error) bool {
	return err == ebpf.ErrKeyNotExist
}
