// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowstate implements spec.md §4.2's Flow State Engine: one
// mailbox-style Worker per configured virtual service, each driving a
// per-flow symmetric tcpfsm.Connection keyed by the flow's
// direction-insensitive canonical identity. Grounded on
// _examples/original_source/folonet/src/worker.rs's MsgWorker<T> — a
// single-owner mailbox plus background task, generalized here from "one
// flow's worker" to "one service's worker, many flows".
package flowstate

import (
	"sync"

	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/loheagn/folonet/internal/logging"
	"github.com/loheagn/folonet/internal/notify"
	"github.com/loheagn/folonet/internal/sharedmaps"
	"github.com/loheagn/folonet/internal/tcpfsm"
)

// Worker owns every live per-flow Connection for one virtual service. Its
// map is mutated both by the Engine goroutine draining the Packet-Event
// Ring and by TimeWait expiry callbacks, so mu guards every access.
type Worker struct {
	localEndpoint endpoint.Endpoint
	isTCP         bool

	mu    sync.Mutex
	conns map[[2]uint64]*tcpfsm.Connection
}

func newWorker(localEndpoint endpoint.Endpoint, isTCP bool) *Worker {
	return &Worker{
		localEndpoint: localEndpoint,
		isTCP:         isTCP,
		conns:         make(map[[2]uint64]*tcpfsm.Connection),
	}
}

// FlowCount reports the number of live per-flow FSMs this worker owns.
func (w *Worker) FlowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.conns)
}

// handle feeds one Notification to its flow's Connection (creating it on
// first sight, per the FIN-only-notification design resolution recorded in
// DESIGN.md: a live Connection is always constructed already Established),
// then reclaims the flow's Shared Maps state if both peers have reached
// Closed, in the canonical order spec.md §9 fixes: FSM-gone, then
// port-returned, then Flow Table entries deleted.
//
// A real connection's two directions carry entirely different declared
// Flow tuples — client->vservice on the way in, backend->local on the way
// back — so neither n.Flow.CanonicalKey() nor n.LocalOut alone identifies
// the same connection from both sides. resolveLeg recovers the true
// client/backend/local identities from the Flow Table entry the datapath
// already installed, using this worker's own vservice address (the one
// fact distinguishing which leg a given Notification traveled on) as the
// discriminant.
func (w *Worker) handle(n notify.Notification, tables *sharedmaps.Tables, log *logging.Logger) {
	if !w.isTCP {
		// UDP flows carry no FSM; spec.md scopes their reclamation to an
		// idle timeout (Non-goal here), so a UDP worker never reaches this
		// branch in practice since the datapath only publishes TCP events.
		return
	}

	l, ok := w.resolveLeg(n, tables)
	if !ok {
		log.Warn("dropping notification for unresolvable flow", "flow", n.Flow, "service", w.localEndpoint)
		return
	}

	key := endpoint.Flow{From: l.client, To: l.backend}.CanonicalKey()

	w.mu.Lock()
	conn, ok := w.conns[key]
	if !ok {
		conn = tcpfsm.NewEstablishedConnection(l.client, l.backend)
		w.conns[key] = conn
	}
	w.mu.Unlock()

	conn.HandleTCP(n.Flow.From, n.Event, func() {
		w.maybeReclaim(key, conn, n, l, tables, log)
	})

	w.maybeReclaim(key, conn, n, l, tables, log)
}

// leg carries the real client/backend identities a Notification's
// direction resolves to, plus the gateway's per-connection local endpoint
// (the one whose port must return to the Service-Port Pool on reclaim).
type leg struct {
	client, backend, local endpoint.Endpoint
}

// resolveLeg looks up the Flow Table entry n.Flow addresses to recover
// whichever of the client/backend pair isn't directly named by n.Flow.From,
// and to tell which leg this is (forward or reverse) by checking which
// side of the tuple equals w.localEndpoint.
func (w *Worker) resolveLeg(n notify.Notification, tables *sharedmaps.Tables) (leg, bool) {
	out, found := tables.Flow.Lookup(n.Flow)
	if !found {
		return leg{}, false
	}

	switch w.localEndpoint {
	case n.Flow.To:
		// client -> vservice: the packet's declared source is the real
		// client, and the rewrite target is the chosen backend.
		return leg{client: n.Flow.From, backend: out.To, local: n.LocalOut}, true
	case n.LocalOut:
		// backend -> local: the packet's declared source is the backend,
		// and the rewrite target restores the real client address.
		return leg{client: out.To, backend: n.Flow.From, local: n.Flow.To}, true
	default:
		return leg{}, false
	}
}

func (w *Worker) maybeReclaim(key [2]uint64, conn *tcpfsm.Connection, n notify.Notification, l leg, tables *sharedmaps.Tables, log *logging.Logger) {
	if !conn.Closed() {
		return
	}

	w.mu.Lock()
	_, stillPresent := w.conns[key]
	if stillPresent {
		delete(w.conns, key)
	}
	w.mu.Unlock()
	if !stillPresent {
		return // already reclaimed by a concurrent call
	}

	if err := tables.Ports.Release(l.local.Port); err != nil {
		log.Warn("failed to return port to pool on flow close", "port", l.local.Port, "error", err)
	}
	if out, ok := tables.Flow.Lookup(n.Flow); ok {
		_ = tables.Closing.Delete(n.Flow)
		_ = tables.Closing.Delete(out.Reverse())
	}
	if err := tables.Flow.DeletePair(n.Flow); err != nil {
		log.Warn("failed to delete flow table entries on close", "flow", n.Flow, "error", err)
	}
}
