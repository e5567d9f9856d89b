// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package coldstart implements spec.md §4.3's Cold-Start Controller: for
// every unique Endpoint seen on the Cold-Start Ring, provision a backend via
// the external server manager, install it into the Shared Maps, and run an
// idle-monitor loop that tears the backend back down once it goes quiet.
//
// Grounded directly on spec.md §4.3's algorithm text; the one piece of
// structuring idiom borrowed from elsewhere in the retrieval pack is the
// per-session goroutine + context.CancelFunc bookkeeping style the teacher
// uses for its own long-running background loops.
package coldstart

import (
	"context"
	"sync"
	"time"

	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/loheagn/folonet/internal/flowstate"
	"github.com/loheagn/folonet/internal/logging"
	"github.com/loheagn/folonet/internal/notify"
	"github.com/loheagn/folonet/internal/provisioner"
	"github.com/loheagn/folonet/internal/sharedmaps"
)

// DefaultWindow is the idle-monitor sampling period D spec.md §4.3
// suggests.
const DefaultWindow = 15 * time.Second

// ServiceLookup answers whether vservice's flows run the TCP FSM, per the
// is_tcp flag SPEC_FULL.md §2 carries from the loaded config. Cold-started
// endpoints outside this set (no configured service matches) default to
// TCP, since every scenario in spec.md §8 is TCP.
type ServiceLookup func(vservice endpoint.Endpoint) (isTCP bool)

// Controller drains the Cold-Start Ring and runs one provisioning session
// per virtual service Endpoint.
type Controller struct {
	tables *sharedmaps.Tables
	ring   *notify.ColdStartRing
	client *provisioner.Client
	engine *flowstate.Engine
	log    *logging.Logger
	window time.Duration
	isTCP  ServiceLookup

	mu     sync.Mutex
	active map[uint64]context.CancelFunc
}

// NewController wires a Controller to its dependencies. isTCP may be nil,
// in which case every cold-started service is treated as TCP.
func NewController(tables *sharedmaps.Tables, ring *notify.ColdStartRing, client *provisioner.Client, engine *flowstate.Engine, isTCP ServiceLookup) *Controller {
	if isTCP == nil {
		isTCP = func(endpoint.Endpoint) bool { return true }
	}
	return &Controller{
		tables: tables,
		ring:   ring,
		client: client,
		engine: engine,
		log:    logging.Default().With("component", "coldstart"),
		window: DefaultWindow,
		isTCP:  isTCP,
		active: make(map[uint64]context.CancelFunc),
	}
}

// SetWindow overrides the idle-monitor sampling period, mainly for tests
// that can't wait out the suggested 15s default.
func (c *Controller) SetWindow(d time.Duration) {
	c.window = d
}

// Run drains the Cold-Start Ring until ctx is canceled, launching one
// provisioning session per distinct Endpoint received. A duplicate
// notification for an Endpoint already mid-session (or already live) is a
// no-op: spec.md §5 notes the datapath keeps re-notifying while a cold
// start is in flight, which this dedup absorbs without re-provisioning.
func (c *Controller) Run(ctx context.Context) {
	for {
		vservice, ok := c.ring.Drain(ctx)
		if !ok {
			return
		}
		c.start(ctx, vservice)
	}
}

func (c *Controller) start(ctx context.Context, vservice endpoint.Endpoint) {
	key := vservice.Key()

	c.mu.Lock()
	if _, exists := c.active[key]; exists {
		c.mu.Unlock()
		return
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	c.active[key] = cancel
	c.mu.Unlock()

	go c.session(sessionCtx, vservice)
}

// session implements spec.md §4.3 steps 1-3 for one virtual service: start
// the backend, install it, then idle-monitor until it's reclaimed or ctx is
// canceled.
func (c *Controller) session(ctx context.Context, vservice endpoint.Endpoint) {
	defer c.forget(vservice)

	result, err := c.client.StartServer(ctx, vservice.String())
	if err != nil {
		c.log.Warn("StartServer failed", "vservice", vservice, "error", err)
		return
	}
	if !result.Active {
		c.log.Info("server manager declined to start a backend", "vservice", vservice)
		return
	}

	backend, err := endpoint.Parse(result.ServerEndpoint)
	if err != nil {
		c.log.Warn("StartServer returned an unparseable server_endpoint", "vservice", vservice, "server_endpoint", result.ServerEndpoint, "error", err)
		return
	}

	// Backend-before-worker: the Backend Table entry is written first and
	// the Worker registered right after. A packet landing in the gap can
	// already install a Flow Table entry against this backend; the Flow
	// State Engine only looks the Worker up when a Packet-Event
	// Notification arrives, and the datapath publishes none for a flow
	// until that flow carries a FIN.
	if err := c.tables.Backend.Set(vservice, backend); err != nil {
		c.log.Warn("failed to install backend table entry", "vservice", vservice, "backend", backend, "error", err)
		return
	}
	c.engine.RegisterWorker(vservice, c.isTCP(vservice))
	c.log.Info("cold start complete", "vservice", vservice, "backend", backend, "name", result.Name)

	c.monitor(ctx, vservice)
}

// monitor implements spec.md §4.3 step 3's sampled liveness probe: arm the
// doorbell, sleep one window, then check whether the datapath marked the
// performance counter during that window. Two consecutive empty windows
// (spec.md §8's idle-reclaim scenario) tear the backend down; a single
// empty window alone is not enough, since the very first window can start
// mid-flight of the opening handshake before any data has crossed yet.
func (c *Controller) monitor(ctx context.Context, vservice endpoint.Endpoint) {
	emptyWindows := 0
	for {
		_ = c.tables.Doorbell.Mark(vservice)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.window):
		}

		active := c.tables.Performance.ReadAndClear(vservice)
		_ = c.tables.Doorbell.Delete(vservice)

		if !active {
			emptyWindows++
			if emptyWindows >= 2 {
				c.teardown(ctx, vservice)
				return
			}
			continue
		}
		emptyWindows = 0
	}
}

// teardown implements spec.md §4.3's reclaim path: stop the backend, then
// remove it from every Shared Map and from the Flow State Engine, in that
// order (the Worker is only removed once nothing can write another Flow
// Table entry against the now-stopped backend).
func (c *Controller) teardown(ctx context.Context, vservice endpoint.Endpoint) {
	if err := c.client.StopServer(ctx, vservice.String()); err != nil {
		c.log.Warn("StopServer failed", "vservice", vservice, "error", err)
	}
	if err := c.tables.Backend.Delete(vservice); err != nil {
		c.log.Warn("failed to delete backend table entry on teardown", "vservice", vservice, "error", err)
	}
	_ = c.tables.Doorbell.Delete(vservice)
	_ = c.tables.Performance.Delete(vservice)
	c.engine.RemoveWorker(vservice)
	c.log.Info("idle backend reclaimed", "vservice", vservice)
}

func (c *Controller) forget(vservice endpoint.Endpoint) {
	c.mu.Lock()
	cancel, ok := c.active[vservice.Key()]
	delete(c.active, vservice.Key())
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Active reports whether vservice currently has a live provisioning or
// idle-monitor session, for tests and diagnostics.
func (c *Controller) Active(vservice endpoint.Endpoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[vservice.Key()]
	return ok
}
