// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"fmt"
	"sync"

	"github.com/loheagn/folonet/internal/config"
	"github.com/loheagn/folonet/internal/provisioner"
)

// roundRobinManager is a reference implementation of the external "server
// manager" RPC (spec.md §6), used when folonetd is run without a
// --provisioner flag: it implements provisioner.Backend by round-robining
// over each configured service's servers list, so a single folonetd
// process is a complete, runnable system with no companion process
// required. A real deployment's server manager presumably does far more
// (actual process/container lifecycle); this stands in for it exactly the
// way the teacher's SimKernel stands in for a real kernel.
type roundRobinManager struct {
	mu      sync.Mutex
	next    map[string]int
	servers map[string][]string
}

func newRoundRobinManager(services []config.ResolvedService) *roundRobinManager {
	servers := make(map[string][]string, len(services))
	for _, s := range services {
		eps := make([]string, len(s.Servers))
		for i, e := range s.Servers {
			eps[i] = e.String()
		}
		servers[s.LocalEndpoint.String()] = eps
	}
	return &roundRobinManager{next: make(map[string]int), servers: servers}
}

// StartServer implements provisioner.Backend: it "starts" the next server
// in localEndpoint's configured rotation. An endpoint with no configured
// service (or one with zero servers, which Validate already rejects)
// reports active=false, matching spec.md §4.3 step 1's drop path.
func (m *roundRobinManager) StartServer(localEndpoint string) (provisioner.StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eps, ok := m.servers[localEndpoint]
	if !ok || len(eps) == 0 {
		return provisioner.StartResult{Active: false}, nil
	}

	i := m.next[localEndpoint] % len(eps)
	m.next[localEndpoint] = i + 1
	return provisioner.StartResult{
		Active:         true,
		Name:           fmt.Sprintf("%s#%d", localEndpoint, i),
		ServerEndpoint: eps[i],
	}, nil
}

// StopServer implements provisioner.Backend. The reference manager keeps
// no per-session state to release (a real one would stop a process or
// container here), so this is a no-op.
func (m *roundRobinManager) StopServer(localEndpoint string) error {
	return nil
}
