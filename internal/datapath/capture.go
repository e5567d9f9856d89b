// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package datapath

import (
	"context"
	"fmt"
	"net"

	"github.com/loheagn/folonet/internal/logging"
	"github.com/mdlayher/packet"
)

// maxFrameLen is a generous upper bound for a captured Ethernet frame
// (well above any realistic MTU plus header overhead), keeping the read
// buffer a fixed size rather than growing unboundedly per spec.md §5's
// "no allocation" datapath-tier contract.
const maxFrameLen = 65536

// Capture attaches an AF_PACKET raw socket to iface and feeds every frame
// through engine.Process, transmitting back out the same interface on
// ActionTransmit and otherwise discarding the frame (ActionPass is left to
// the kernel's normal stack delivery, which already received its own copy
// of the frame independently of this raw socket).
//
// This stands in for the kernel XDP hook a real deployment attaches to:
// mdlayher/packet's raw socket gives userspace the same "one frame at a
// time, no context switch surprises" read/write loop an XDP program's
// ring would, without requiring a compiled eBPF object.
type Capture struct {
	conn   *packet.Conn
	iface  *net.Interface
	engine *Engine
}

// NewCapture opens a raw AF_PACKET socket on iface and binds it to engine.
func NewCapture(iface *net.Interface, engine *Engine) (*Capture, error) {
	conn, err := packet.Listen(iface, packet.Raw, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("datapath: open raw socket on %s: %w", iface.Name, err)
	}
	return &Capture{conn: conn, iface: iface, engine: engine}, nil
}

// Run reads frames until ctx is canceled or a read error occurs.
func (c *Capture) Run(ctx context.Context) error {
	log := logging.Default().With("component", "datapath.capture", "iface", c.iface.Name)
	buf := make([]byte, maxFrameLen)

	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()

	for {
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("datapath: read from %s: %w", c.iface.Name, err)
		}

		frame := buf[:n]
		switch action := c.engine.Process(frame, uint32(c.iface.Index)); action {
		case ActionTransmit:
			if _, err := c.conn.WriteTo(frame, &packet.Addr{HardwareAddr: c.iface.HardwareAddr}); err != nil {
				log.Warn("transmit failed", "error", err)
			}
		case ActionAbort:
			log.Warn("aborted processing frame")
		}
	}
}

// Close releases the raw socket.
func (c *Capture) Close() error { return c.conn.Close() }
