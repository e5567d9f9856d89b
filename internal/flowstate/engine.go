// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowstate

import (
	"context"
	"sync"

	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/loheagn/folonet/internal/logging"
	"github.com/loheagn/folonet/internal/notify"
	"github.com/loheagn/folonet/internal/sharedmaps"
)

// Engine drains the Packet-Event Ring and dispatches each Notification to
// the Worker responsible for its virtual service (spec.md §2's Flow State
// Engine). internal/coldstart registers a Worker right after it installs a
// Backend Table entry (spec.md §4.3 step 2's backend-before-worker
// ordering); a flow created in between reaches its Worker only through a
// later FIN-triggered Notification.
type Engine struct {
	tables *sharedmaps.Tables
	ring   *notify.PacketEventRing
	log    *logging.Logger

	mu      sync.RWMutex
	workers map[uint64]*Worker
}

// NewEngine builds an Engine bound to tables and ring.
func NewEngine(tables *sharedmaps.Tables, ring *notify.PacketEventRing) *Engine {
	return &Engine{
		tables:  tables,
		ring:    ring,
		log:     logging.Default().With("component", "flowstate"),
		workers: make(map[uint64]*Worker),
	}
}

// RegisterWorker installs a Worker for vservice, or returns the existing
// one if the cold-start Endpoint was already seen (the idempotence
// spec.md §8 requires for a duplicate Cold-Start Ring entry).
func (e *Engine) RegisterWorker(vservice endpoint.Endpoint, isTCP bool) *Worker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.workers[vservice.Key()]; ok {
		return w
	}
	w := newWorker(vservice, isTCP)
	e.workers[vservice.Key()] = w
	return w
}

// RemoveWorker drops the Worker for vservice, once its backend has been
// torn down by the idle monitor.
func (e *Engine) RemoveWorker(vservice endpoint.Endpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.workers, vservice.Key())
}

// HasWorker reports whether vservice currently has a registered Worker.
func (e *Engine) HasWorker(vservice endpoint.Endpoint) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.workers[vservice.Key()]
	return ok
}

func (e *Engine) workerFor(vservice endpoint.Endpoint) (*Worker, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workers[vservice.Key()]
	return w, ok
}

// Run drains the Packet-Event Ring until ctx is canceled, dispatching each
// Notification to its service's Worker. A Notification for a virtual
// service with no registered Worker is logged and dropped (it can only
// happen if a FIN arrives after the Worker has already been reclaimed).
func (e *Engine) Run(ctx context.Context) {
	for {
		n, ok := e.ring.Drain(ctx)
		if !ok {
			return
		}
		e.dispatch(n)
	}
}

// dispatch resolves the Notification's virtual service and hands it to
// that service's Worker. The vservice Endpoint lives in a different field
// depending on which leg of the connection produced the record: on the
// client->vservice leg it is the declared destination (n.Flow.To); on the
// backend->client return leg the declared destination is instead the
// gateway's per-connection local port, and the vservice address only
// reappears once the SNAT rewrite restores it as the apparent source
// (n.LocalOut). Both are tried since a single Notification can't carry a
// direction flag without widening the wire record.
func (e *Engine) dispatch(n notify.Notification) {
	if w, ok := e.workerFor(n.Flow.To); ok {
		w.handle(n, e.tables, e.log)
		return
	}
	if w, ok := e.workerFor(n.LocalOut); ok {
		w.handle(n, e.tables, e.log)
		return
	}
	e.log.Warn("notification for unknown service worker", "flow", n.Flow, "local_out", n.LocalOut)
}
