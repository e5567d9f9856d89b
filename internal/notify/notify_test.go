// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/loheagn/folonet/internal/endpoint"
	"github.com/stretchr/testify/require"
)

func TestTaggedEventPackRoundTrip(t *testing.T) {
	e := NewTCPEvent(FlagSYN|FlagACK, 128, 129)
	hi, lo := e.Pack()

	got := UnpackTaggedEvent(hi, lo)
	require.Equal(t, e, got)
	require.True(t, got.IsSYN())
	require.True(t, got.IsACK())
	require.False(t, got.IsFIN())
}

func TestTaggedEventTagOccupiesTopByte(t *testing.T) {
	e := NewTCPEvent(FlagFIN, 0, 0)
	hi, _ := e.Pack()
	require.Equal(t, uint64(TagTCP), hi>>56)
}

func TestRingPublishNonBlockingDropsOnFull(t *testing.T) {
	r := NewRing[int](2)
	require.True(t, r.Publish(1))
	require.True(t, r.Publish(2))
	require.False(t, r.Publish(3))
	require.Equal(t, uint64(1), r.Dropped())
	require.Equal(t, 2, r.Len())
}

func TestRingDrainReceivesPublishedValue(t *testing.T) {
	r := NewRing[int](4)
	require.True(t, r.Publish(42))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, ok := r.Drain(ctx)
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestRingDrainRespectsContextCancellation(t *testing.T) {
	r := NewRing[int](1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := r.Drain(ctx)
	require.False(t, ok)
}

func TestPacketEventRingCarriesNotifications(t *testing.T) {
	r := NewPacketEventRing(4)

	client, _ := endpoint.New("10.0.0.1", 40000)
	vservice, _ := endpoint.New("10.0.0.100", 8080)
	n := Notification{
		LocalIn:  client,
		LocalOut: vservice,
		Flow:     endpoint.Flow{From: client, To: vservice},
		Event:    NewTCPEvent(FlagFIN|FlagACK, 10, 20),
	}
	require.True(t, r.Publish(n))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := r.Drain(ctx)
	require.True(t, ok)
	require.Equal(t, n, got)
}

func TestColdStartRingCarriesEndpoints(t *testing.T) {
	r := NewColdStartRing(2)
	vservice, _ := endpoint.New("10.0.0.100", 8080)
	require.True(t, r.Publish(vservice))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := r.Drain(ctx)
	require.True(t, ok)
	require.Equal(t, vservice, got)
}
