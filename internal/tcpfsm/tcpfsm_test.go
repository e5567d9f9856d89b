// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tcpfsm

import (
	"testing"
	"time"

	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/loheagn/folonet/internal/notify"
	"github.com/stretchr/testify/require"
)

func TestPeerFSMFullHandshakeViaSyntheticInputs(t *testing.T) {
	client := NewPeerFSM(false)
	server := NewPeerFSM(true)
	require.Equal(t, StateClosed, client.State())
	require.Equal(t, StateListen, server.State())

	syn := notify.NewTCPEvent(notify.FlagSYN, 0, 100)
	client.HandlePacket(syn, DirectionSent, nil)
	require.Equal(t, StateSynSent, client.State())
	server.HandlePacket(syn, DirectionReceived, nil)
	require.Equal(t, StateListenReceiveSyn, server.State())

	synAck := notify.NewTCPEvent(notify.FlagSYN|notify.FlagACK, 101, 200)
	server.HandlePacket(synAck, DirectionSent, nil)
	require.Equal(t, StateSynReceived, server.State())
	client.HandlePacket(synAck, DirectionReceived, nil)
	require.Equal(t, StateReceiveSynAckReceiveSynAck, client.State())

	ack := notify.NewTCPEvent(notify.FlagACK, 201, 101)
	client.HandlePacket(ack, DirectionSent, nil)
	require.Equal(t, StateEstablished, client.State())
	server.HandlePacket(ack, DirectionReceived, nil)
	require.Equal(t, StateEstablished, server.State())
}

func TestConnectionGracefulCloseClosesServerLeavesClientInTimeWait(t *testing.T) {
	clientEp, _ := endpoint.New("10.0.0.1", 40000)
	serverEp, _ := endpoint.New("10.0.0.200", 80)

	conn := NewEstablishedConnection(clientEp, serverEp)
	require.False(t, conn.Closed())

	// Client FINs first.
	fin1 := notify.NewTCPEvent(notify.FlagFIN|notify.FlagACK, 500, 1000)
	conn.HandleTCP(clientEp, fin1, nil)
	require.Equal(t, StateFinWait1, conn.Client.State())
	require.Equal(t, StateCloseWait, conn.Server.State())

	// Server ACKs the client's FIN, then sends its own FIN.
	ackForFin1 := notify.NewTCPEvent(notify.FlagACK, 1001, 600)
	conn.HandleTCP(serverEp, ackForFin1, nil)
	require.Equal(t, StateFinWait2, conn.Client.State())

	fin2 := notify.NewTCPEvent(notify.FlagFIN|notify.FlagACK, 1001, 601)
	conn.HandleTCP(serverEp, fin2, nil)
	require.Equal(t, StateFinWait2ReceiveFin, conn.Client.State())
	require.Equal(t, StateLastAck, conn.Server.State())

	// Client ACKs the server's FIN: client -> TimeWait, server -> Closed.
	ackForFin2 := notify.NewTCPEvent(notify.FlagACK, 602, 1001)
	conn.HandleTCP(clientEp, ackForFin2, nil)
	require.Equal(t, StateTimeWait, conn.Client.State())
	require.True(t, conn.Server.IsClosed())

	// Not yet fully closed: client is waiting out TimeWait.
	require.False(t, conn.Closed())
}

func TestConnectionTimeWaitExpiresToClosed(t *testing.T) {
	clientEp, _ := endpoint.New("10.0.0.1", 40000)
	serverEp, _ := endpoint.New("10.0.0.200", 80)

	conn := NewEstablishedConnection(clientEp, serverEp)

	done := make(chan struct{})
	onExpire := func() { close(done) }

	// Force the client peer directly into TimeWait by replaying the close
	// sequence, this time capturing the expiry callback.
	conn.HandleTCP(clientEp, notify.NewTCPEvent(notify.FlagFIN|notify.FlagACK, 500, 1000), onExpire)
	conn.HandleTCP(serverEp, notify.NewTCPEvent(notify.FlagACK, 1001, 600), onExpire)
	conn.HandleTCP(serverEp, notify.NewTCPEvent(notify.FlagFIN|notify.FlagACK, 1001, 601), onExpire)
	conn.HandleTCP(clientEp, notify.NewTCPEvent(notify.FlagACK, 602, 1001), onExpire)
	require.Equal(t, StateTimeWait, conn.Client.State())

	// The real TimeWait delay is 60s; rather than sleep the test suite,
	// drive the underlying transition directly to prove TimeExpired closes
	// the peer, and confirm the scheduled timer is the mechanism wired up
	// (it will fire on its own after 60s in production).
	require.NotNil(t, conn.Client)
	conn.Client.mu.Lock()
	armed := conn.Client.twTimer != nil
	conn.Client.mu.Unlock()
	require.True(t, armed)
	to, ok := consume(StateTimeWait, InputTimeExpired)
	require.True(t, ok)
	require.Equal(t, StateClosed, to)
	select {
	case <-done:
		t.Fatal("onExpire should not fire before the 60s TimeWait timer elapses")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectionHalfCloseWithoutFinalAckStaysInFinWait1(t *testing.T) {
	clientEp, _ := endpoint.New("10.0.0.1", 40000)
	serverEp, _ := endpoint.New("10.0.0.200", 80)

	conn := NewEstablishedConnection(clientEp, serverEp)

	fin := notify.NewTCPEvent(notify.FlagFIN|notify.FlagACK, 500, 1000)
	conn.HandleTCP(clientEp, fin, nil)

	require.Equal(t, StateFinWait1, conn.Client.State())
	require.False(t, conn.Closed())
}

func TestConsumeInvalidTransitionIsNoOp(t *testing.T) {
	to, ok := consume(StateClosed, InputRecvAckForFin)
	require.False(t, ok)
	require.Equal(t, StateClosed, to)
}
