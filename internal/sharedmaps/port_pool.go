// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sharedmaps

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// ServicePortPool is the Service-Port Pool of spec.md §3: a bounded FIFO of
// source ports (default range 10000-59999) the datapath draws from when it
// needs a fresh SNAT source port for a new connection to a backend, and
// returns to once the connection closes (Invariant 2: a port is never
// handed out twice while in use; Invariant 3: pool exhaustion is a hard
// failure, not silently recycled).
//
// Backed by a real BPF_MAP_TYPE_QUEUE (ebpf.Queue) rather than a plain Go
// slice+mutex, so draining/refilling goes through the same kernel-atomic
// map operations spec.md's other tables use, keeping the pool eligible to
// be shared with a kernel-side datapath later.
type ServicePortPool struct {
	m    *ebpf.Map
	low  uint16
	high uint16
}

func newServicePortPool(low, high uint16) (*ServicePortPool, error) {
	if high < low {
		return nil, fmt.Errorf("sharedmaps: port pool range %d-%d is empty", low, high)
	}
	count := uint32(high-low) + 1

	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "service_port_pool",
		Type:       ebpf.Queue,
		KeySize:    0,
		ValueSize:  2,
		MaxEntries: count,
	})
	if err != nil {
		return nil, fmt.Errorf("create map %q: %w", "service_port_pool", err)
	}

	pool := &ServicePortPool{m: m, low: low, high: high}
	for p := uint32(low); p <= uint32(high); p++ {
		port := uint16(p)
		if err := pool.m.Update(nil, &port, ebpf.UpdateAny); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("sharedmaps: seed port pool: %w", err)
		}
	}
	return pool, nil
}

// Acquire pops a free port from the pool. The second return is false when
// the pool is exhausted (spec.md §8 scenario: port exhaustion).
func (p *ServicePortPool) Acquire() (uint16, bool) {
	var port uint16
	if err := p.m.LookupAndDelete(nil, &port); err != nil {
		return 0, false
	}
	return port, true
}

// Release returns a port to the pool once its connection has closed. A
// push into an already-full pool (a double-release bug) returns an error
// rather than silently growing the pool past MaxEntries.
func (p *ServicePortPool) Release(port uint16) error {
	if err := p.m.Update(nil, &port, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("sharedmaps: release port %d: %w", port, err)
	}
	return nil
}

// Close releases the underlying map.
func (p *ServicePortPool) Close() error { return p.m.Close() }
