// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package coldstart

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/loheagn/folonet/internal/flowstate"
	"github.com/loheagn/folonet/internal/notify"
	"github.com/loheagn/folonet/internal/provisioner"
	"github.com/loheagn/folonet/internal/sharedmaps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeManager is a minimal in-memory stand-in for the external server
// manager RPC (spec.md §6), grounded on provisioner_test.go's fakeBackend.
type fakeManager struct {
	mu       sync.Mutex
	active   bool
	endpoint string
	starts   int
	stops    []string
}

func newFakeManager(active bool) *fakeManager {
	return &fakeManager{active: active, endpoint: "10.0.0.200:80"}
}

func (f *fakeManager) StartServer(localEndpoint string) (provisioner.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if !f.active {
		return provisioner.StartResult{Active: false}, nil
	}
	return provisioner.StartResult{Active: true, Name: "backend-1", ServerEndpoint: f.endpoint}, nil
}

func (f *fakeManager) StopServer(localEndpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, localEndpoint)
	return nil
}

func (f *fakeManager) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeManager) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops)
}

func newTestClient(t *testing.T, manager *fakeManager) *provisioner.Client {
	t.Helper()
	router := mux.NewRouter()
	provisioner.NewHandlers(manager).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return provisioner.NewClient(srv.URL)
}

func newTestTables(t *testing.T) *sharedmaps.Tables {
	t.Helper()
	tables, err := sharedmaps.New(sharedmaps.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tables.Close() })
	return tables
}

// waitUntil polls cond until it's true or the deadline passes, failing the
// test otherwise; used since the Controller's work happens on its own
// goroutine.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestControllerProvisionsBackendAndRegistersWorker(t *testing.T) {
	tables := newTestTables(t)
	manager := newFakeManager(true)
	client := newTestClient(t, manager)
	ring := notify.NewColdStartRing(4)
	engine := flowstate.NewEngine(tables, notify.NewPacketEventRing(4))

	ctrl := NewController(tables, ring, client, engine, nil)
	ctrl.SetWindow(time.Hour) // keep the idle monitor from firing mid-test

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ctrl.Run(ctx)

	vservice, err := endpoint.New("10.0.0.100", 8080)
	require.NoError(t, err)
	ring.Publish(vservice)

	waitUntil(t, time.Second, func() bool { return engine.HasWorker(vservice) })

	backend, found := tables.Backend.Lookup(vservice)
	require.True(t, found)
	assert.Equal(t, "10.0.0.200:80", backend.String())
}

func TestControllerDropsOnInactiveServerManager(t *testing.T) {
	tables := newTestTables(t)
	manager := newFakeManager(false)
	client := newTestClient(t, manager)
	ring := notify.NewColdStartRing(4)
	engine := flowstate.NewEngine(tables, notify.NewPacketEventRing(4))

	ctrl := NewController(tables, ring, client, engine, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ctrl.Run(ctx)

	vservice, err := endpoint.New("10.0.0.100", 8080)
	require.NoError(t, err)
	ring.Publish(vservice)

	waitUntil(t, time.Second, func() bool { return manager.startCount() > 0 })
	time.Sleep(20 * time.Millisecond)

	assert.False(t, engine.HasWorker(vservice))
	_, found := tables.Backend.Lookup(vservice)
	assert.False(t, found)
}

func TestControllerDuplicateNotificationDoesNotReprovision(t *testing.T) {
	tables := newTestTables(t)
	manager := newFakeManager(true)
	client := newTestClient(t, manager)
	ring := notify.NewColdStartRing(4)
	engine := flowstate.NewEngine(tables, notify.NewPacketEventRing(4))

	ctrl := NewController(tables, ring, client, engine, nil)
	ctrl.SetWindow(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ctrl.Run(ctx)

	vservice, err := endpoint.New("10.0.0.100", 8080)
	require.NoError(t, err)
	ring.Publish(vservice)
	waitUntil(t, time.Second, func() bool { return engine.HasWorker(vservice) })

	ring.Publish(vservice)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, manager.startCount())
}

// TestControllerIdleReclaimAfterTwoEmptyWindows covers spec.md §8 scenario
// 3: the Performance Table must stay empty across two consecutive windows
// (not just one) before the backend is torn down, since a single window can
// legitimately straddle the tail end of the opening handshake.
func TestControllerIdleReclaimAfterTwoEmptyWindows(t *testing.T) {
	tables := newTestTables(t)
	manager := newFakeManager(true)
	client := newTestClient(t, manager)
	ring := notify.NewColdStartRing(4)
	engine := flowstate.NewEngine(tables, notify.NewPacketEventRing(4))

	ctrl := NewController(tables, ring, client, engine, nil)
	ctrl.SetWindow(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ctrl.Run(ctx)

	vservice, err := endpoint.New("10.0.0.100", 8080)
	require.NoError(t, err)
	ring.Publish(vservice)
	waitUntil(t, time.Second, func() bool { return engine.HasWorker(vservice) })

	waitUntil(t, time.Second, func() bool { return manager.stopCount() > 0 })
	assert.False(t, engine.HasWorker(vservice))
	_, found := tables.Backend.Lookup(vservice)
	assert.False(t, found)
}

// TestControllerSurvivesActiveTraffic drives several windows with simulated
// traffic (Performance Table marked the way internal/datapath's
// tickDoorbell would) and checks the backend is not reclaimed.
func TestControllerSurvivesActiveTraffic(t *testing.T) {
	tables := newTestTables(t)
	manager := newFakeManager(true)
	client := newTestClient(t, manager)
	ring := notify.NewColdStartRing(4)
	engine := flowstate.NewEngine(tables, notify.NewPacketEventRing(4))

	ctrl := NewController(tables, ring, client, engine, nil)
	ctrl.SetWindow(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ctrl.Run(ctx)

	vservice, err := endpoint.New("10.0.0.100", 8080)
	require.NoError(t, err)
	ring.Publish(vservice)
	waitUntil(t, time.Second, func() bool { return engine.HasWorker(vservice) })

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = tables.Performance.Mark(vservice)
			}
		}
	}()

	time.Sleep(120 * time.Millisecond)
	assert.True(t, engine.HasWorker(vservice))
	assert.Equal(t, 0, manager.stopCount())
}
