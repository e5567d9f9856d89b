// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sharedmaps

import (
	"testing"

	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/stretchr/testify/require"
)

func mustEndpoint(t *testing.T, ip string, port uint16) endpoint.Endpoint {
	t.Helper()
	e, err := endpoint.New(ip, port)
	require.NoError(t, err)
	return e
}

func TestFlowTableInsertPairInstallsBothDirections(t *testing.T) {
	ft, err := newFlowTable(64)
	require.NoError(t, err)
	defer ft.Close()

	client := mustEndpoint(t, "10.0.0.1", 40000)
	vservice := mustEndpoint(t, "10.0.0.100", 8080)
	backend := mustEndpoint(t, "10.0.0.2", 9090)

	observedFwd := endpoint.Flow{From: client, To: vservice}
	rewriteFwd := endpoint.Flow{From: client, To: backend}

	require.NoError(t, ft.InsertPair(observedFwd, rewriteFwd))

	got, ok := ft.Lookup(observedFwd)
	require.True(t, ok)
	require.Equal(t, rewriteFwd, got)

	observedRev := endpoint.Flow{From: backend, To: client}
	gotRev, ok := ft.Lookup(observedRev)
	require.True(t, ok)
	require.Equal(t, endpoint.Flow{From: vservice, To: client}, gotRev)
}

func TestFlowTableDeletePairRemovesBothDirections(t *testing.T) {
	ft, err := newFlowTable(64)
	require.NoError(t, err)
	defer ft.Close()

	client := mustEndpoint(t, "10.0.0.1", 40000)
	vservice := mustEndpoint(t, "10.0.0.100", 8080)
	backend := mustEndpoint(t, "10.0.0.2", 9090)

	observedFwd := endpoint.Flow{From: client, To: vservice}
	rewriteFwd := endpoint.Flow{From: client, To: backend}
	require.NoError(t, ft.InsertPair(observedFwd, rewriteFwd))

	require.NoError(t, ft.DeletePair(observedFwd))

	_, ok := ft.Lookup(observedFwd)
	require.False(t, ok)

	observedRev := endpoint.Flow{From: backend, To: client}
	_, ok = ft.Lookup(observedRev)
	require.False(t, ok)
}

func TestFlowTableLookupMissReturnsFalse(t *testing.T) {
	ft, err := newFlowTable(64)
	require.NoError(t, err)
	defer ft.Close()

	unknown := endpoint.Flow{
		From: mustEndpoint(t, "10.0.0.9", 1234),
		To:   mustEndpoint(t, "10.0.0.100", 8080),
	}
	_, ok := ft.Lookup(unknown)
	require.False(t, ok)
}

func TestBackendTableSetLookupDelete(t *testing.T) {
	bt, err := newBackendTable(16)
	require.NoError(t, err)
	defer bt.Close()

	vservice := mustEndpoint(t, "10.0.0.100", 8080)
	backend := mustEndpoint(t, "10.0.0.2", 9090)

	_, ok := bt.Lookup(vservice)
	require.False(t, ok)

	require.NoError(t, bt.Set(vservice, backend))
	got, ok := bt.Lookup(vservice)
	require.True(t, ok)
	require.Equal(t, backend, got)

	require.NoError(t, bt.Delete(vservice))
	_, ok = bt.Lookup(vservice)
	require.False(t, ok)

	// Deleting an already-absent entry is not an error.
	require.NoError(t, bt.Delete(vservice))
}

func TestIPMACTableLearnIfAbsentDoesNotOverwrite(t *testing.T) {
	mt, err := newIPMACTable(16)
	require.NoError(t, err)
	defer mt.Close()

	ip := mustEndpoint(t, "10.0.0.1", 0).IP
	first, err := endpoint.MacFromBytes([]byte{0x02, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	second, err := endpoint.MacFromBytes([]byte{0x02, 0, 0, 0, 0, 2})
	require.NoError(t, err)

	mt.LearnIfAbsent(ip, first)
	mt.LearnIfAbsent(ip, second)

	got, ok := mt.Lookup(ip)
	require.True(t, ok)
	require.Equal(t, first, got)

	// An explicit Set (config-seeded) always overwrites.
	require.NoError(t, mt.Set(ip, second))
	got, ok = mt.Lookup(ip)
	require.True(t, ok)
	require.Equal(t, second, got)
}

func TestLocalIPTableSetLookup(t *testing.T) {
	lt, err := newLocalIPTable(8)
	require.NoError(t, err)
	defer lt.Close()

	ip := mustEndpoint(t, "192.168.1.1", 0).IP
	require.NoError(t, lt.Set(2, ip))

	got, ok := lt.Lookup(2)
	require.True(t, ok)
	require.Equal(t, ip, got)

	_, ok = lt.Lookup(3)
	require.False(t, ok)
}

func TestEndpointByteTableMarkReadAndClear(t *testing.T) {
	bt, err := newEndpointByteTable("test_byte_table", 8)
	require.NoError(t, err)
	defer bt.Close()

	ep := mustEndpoint(t, "10.0.0.2", 9090)

	// Absent entry counts as not-marked.
	require.False(t, bt.ReadAndClear(ep))

	require.NoError(t, bt.Mark(ep))
	require.True(t, bt.ReadAndClear(ep))

	// ReadAndClear clears the mark, so the next read sees no activity.
	require.False(t, bt.ReadAndClear(ep))
}

func TestServicePortPoolFIFOAndExhaustion(t *testing.T) {
	pool, err := newServicePortPool(10000, 10002)
	require.NoError(t, err)
	defer pool.Close()

	p1, ok := pool.Acquire()
	require.True(t, ok)
	p2, ok := pool.Acquire()
	require.True(t, ok)
	p3, ok := pool.Acquire()
	require.True(t, ok)
	require.Equal(t, []uint16{10000, 10001, 10002}, []uint16{p1, p2, p3})

	// Pool exhausted: spec.md §8's port-exhaustion scenario.
	_, ok = pool.Acquire()
	require.False(t, ok)

	require.NoError(t, pool.Release(p2))
	got, ok := pool.Acquire()
	require.True(t, ok)
	require.Equal(t, p2, got)
}
