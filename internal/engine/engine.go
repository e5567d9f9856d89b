// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package engine wires every other folonet package into one running
// process: from an already-loaded config, build the Shared Maps, attach the datapath capture
// loop, and start the Flow State Engine and Cold-Start Controller's
// background tasks. Grounded on the teacher's cmd/flywall-sim's
// runServer-style top-level wiring, generalized from one hand-built
// simulation server into a package other callers (cmd/folonetd, tests) can
// construct and drive directly.
package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/loheagn/folonet/internal/coldstart"
	"github.com/loheagn/folonet/internal/config"
	"github.com/loheagn/folonet/internal/datapath"
	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/loheagn/folonet/internal/flowstate"
	"github.com/loheagn/folonet/internal/logging"
	"github.com/loheagn/folonet/internal/metrics"
	"github.com/loheagn/folonet/internal/netutil"
	"github.com/loheagn/folonet/internal/notify"
	"github.com/loheagn/folonet/internal/provisioner"
	"github.com/loheagn/folonet/internal/sharedmaps"
)

// ringCapacity sizes both notification rings; spec.md §4.4 suggests
// "256 KiB x 10"-scale generosity, which for our fixed-size Notification
// and Endpoint records comes out comfortably above this count of pending
// records.
const ringCapacity = 4096

// Options configures one Engine, gathered from cmd/folonetd's CLI flags.
type Options struct {
	// Iface is the attached interface (the --iface flag, default "lima0").
	Iface string
	// ProvisionerURL, if set, is the external server manager's base URL
	// (spec.md §6's RPC). If empty, Engine starts an embedded reference
	// manager that round-robins over each configured service's servers
	// list, so a standalone folonetd is runnable without any companion
	// process.
	ProvisionerURL string
}

// Engine owns every long-lived component folonetd starts at boot and stops
// at shutdown.
type Engine struct {
	cfg  *config.Config
	opts Options
	log  *logging.Logger

	tables       *sharedmaps.Tables
	packetEvents *notify.PacketEventRing
	coldStarts   *notify.ColdStartRing

	dp      *datapath.Engine
	capture *datapath.Capture
	fs      *flowstate.Engine
	cs      *coldstart.Controller
	client  *provisioner.Client
	metrics *metrics.Metrics

	refManager *http.Server // non-nil only when no ProvisionerURL was given

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds every component and seeds the Shared Maps startup owns: the
// Local-IP-per-Interface Table (the attached interface's own ifindex and
// address, read via netutil.ResolveInterface) and the IP->MAC Table (the
// config's ip_mac_list seed list). It deliberately never writes the Backend
// Table — spec.md §2 starts backends strictly on demand, on a Flow Table
// miss reaching the Cold-Start Controller, so the config's per-service
// servers list is only ever consulted by the (embedded or external) server
// manager, never installed directly.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	log := logging.Default().With("component", "engine")

	tables, err := sharedmaps.New(sharedmaps.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("engine: build shared maps: %w", err)
	}

	if err := seedIPMAC(tables, cfg); err != nil {
		_ = tables.Close()
		return nil, err
	}

	services, err := cfg.Resolve()
	if err != nil {
		_ = tables.Close()
		return nil, fmt.Errorf("engine: resolve services: %w", err)
	}

	ifaceName := opts.Iface
	if ifaceName == "" {
		ifaceName = "lima0"
	}
	netIface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		_ = tables.Close()
		return nil, fmt.Errorf("engine: lookup interface %q: %w", ifaceName, err)
	}
	ifaceInfo, err := netutil.ResolveInterface(ifaceName)
	if err != nil {
		_ = tables.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	localIP := binary.BigEndian.Uint32(ifaceInfo.LocalIP)
	if err := tables.LocalIP.Set(uint32(ifaceInfo.Index), localIP); err != nil {
		_ = tables.Close()
		return nil, fmt.Errorf("engine: seed local-ip table: %w", err)
	}

	packetEvents := notify.NewPacketEventRing(ringCapacity)
	coldStarts := notify.NewColdStartRing(ringCapacity)

	dp := datapath.NewEngine(tables, packetEvents, coldStarts)
	capture, err := datapath.NewCapture(netIface, dp)
	if err != nil {
		_ = tables.Close()
		return nil, fmt.Errorf("engine: attach capture to %q: %w", ifaceName, err)
	}

	fs := flowstate.NewEngine(tables, packetEvents)

	client, refManager, err := buildProvisionerClient(opts.ProvisionerURL, services, log)
	if err != nil {
		_ = capture.Close()
		_ = tables.Close()
		return nil, err
	}

	cs := coldstart.NewController(tables, coldStarts, client, fs, serviceLookup(services))

	return &Engine{
		cfg:          cfg,
		opts:         opts,
		log:          log,
		tables:       tables,
		packetEvents: packetEvents,
		coldStarts:   coldStarts,
		dp:           dp,
		capture:      capture,
		fs:           fs,
		cs:           cs,
		client:       client,
		metrics:      metrics.NewMetrics(),
		refManager:   refManager,
	}, nil
}

// Metrics returns the Prometheus collector cmd/folonetd registers on its
// /metrics endpoint.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Start launches the capture loop, the Flow State Engine's ring drain, the
// Cold-Start Controller's ring drain, and a small metrics sampler, all
// running until ctx is canceled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(4)
	go func() {
		defer e.wg.Done()
		if err := e.capture.Run(ctx); err != nil {
			e.log.Error("capture loop stopped", "error", err)
		}
	}()
	go func() {
		defer e.wg.Done()
		e.fs.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.cs.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		sampleRingMetrics(ctx, e.metrics, e.packetEvents, e.coldStarts, ringSampleInterval)
	}()
}

// Stop cancels every background task, waits for them to exit, and releases
// the Shared Maps' kernel-side resources. Per spec.md §5's cancellation
// rule, any in-flight FSM is simply discarded rather than drained to
// completion.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	_ = e.capture.Close()
	if e.refManager != nil {
		_ = e.refManager.Close()
	}
	return e.tables.Close()
}

func seedIPMAC(tables *sharedmaps.Tables, cfg *config.Config) error {
	entries, err := cfg.ResolveIPMACList()
	if err != nil {
		return fmt.Errorf("engine: resolve ip_mac_list: %w", err)
	}
	for _, e := range entries {
		if err := tables.IPMAC.Set(e.IP, e.MAC); err != nil {
			return fmt.Errorf("engine: seed ip-mac table: %w", err)
		}
	}
	return nil
}

// serviceLookup builds a coldstart.ServiceLookup from the config's per-
// service is_tcp flag (DESIGN.md's Open Question 2 resolution).
func serviceLookup(services []config.ResolvedService) coldstart.ServiceLookup {
	isTCP := make(map[uint64]bool, len(services))
	for _, s := range services {
		isTCP[s.LocalEndpoint.Key()] = s.IsTCP
	}
	return func(vservice endpoint.Endpoint) bool {
		v, ok := isTCP[vservice.Key()]
		if !ok {
			return true
		}
		return v
	}
}

// buildProvisionerClient returns a provisioner.Client pointed either at an
// externally-configured server manager, or at a freshly started embedded
// reference one bound to an ephemeral loopback port.
func buildProvisionerClient(url string, services []config.ResolvedService, log *logging.Logger) (*provisioner.Client, *http.Server, error) {
	if url != "" {
		return provisioner.NewClient(url), nil, nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("engine: start embedded server manager: %w", err)
	}

	router := mux.NewRouter()
	provisioner.NewHandlers(newRoundRobinManager(services)).RegisterRoutes(router)
	srv := &http.Server{Handler: router}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Warn("embedded server manager stopped", "error", err)
		}
	}()

	return provisioner.NewClient("http://" + ln.Addr().String()), srv, nil
}

// ringSampleInterval is how often sampleRingMetrics turns the rings'
// cumulative drop counters into Prometheus counter increments.
const ringSampleInterval = 2 * time.Second

func sampleRingMetrics(ctx context.Context, m *metrics.Metrics, packetEvents *notify.PacketEventRing, coldStarts *notify.ColdStartRing, interval time.Duration) {
	var lastPacketDrops, lastColdStartDrops uint64
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if d := packetEvents.Dropped(); d > lastPacketDrops {
			m.PacketEventsDropped.Add(float64(d - lastPacketDrops))
			lastPacketDrops = d
		}
		if d := coldStarts.Dropped(); d > lastColdStartDrops {
			m.ColdStartsDropped.Add(float64(d - lastColdStartDrops))
			lastColdStartDrops = d
		}
	}
}
