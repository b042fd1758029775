// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/ssdsim/disk"
	"github.com/dswarbrick/ssdsim/simcore"
)

func runAllTransport(eng *simcore.Engine) {
	for eng.Pending() > 0 {
		eng.RunOne()
	}
}

// A write through the FIFO lands in the backing store, and done fires
// exactly once with a tick no earlier than the request's start.
func TestFIFOWriteReachesUpstream(t *testing.T) {
	eng := simcore.NewEngine()
	store := disk.NewMemoryStore(4096)
	up := &StoreUpstream{Store: store, Eng: eng}
	f := NewFIFO(eng, up, 4096, 64, func(bytes uint64) simcore.Tick { return simcore.Tick(bytes) })

	var fired int
	var completedAt simcore.Tick
	f.Write(0, []byte("0123456789"), 0, func(now simcore.Tick) {
		fired++
		completedAt = now
	})
	runAllTransport(eng)

	require.Equal(t, 1, fired)
	require.GreaterOrEqual(t, completedAt, simcore.Tick(0))

	got := make([]byte, 10)
	require.NoError(t, store.ReadAt(0, got))
	require.Equal(t, []byte("0123456789"), got)
}

// A request larger than one transfer unit is split into multiple chunks,
// each of which is inserted and transferred, but done fires only once, for
// the last chunk.
func TestFIFOSplitsLargeRequestIntoChunks(t *testing.T) {
	eng := simcore.NewEngine()
	store := disk.NewMemoryStore(4096)
	up := &StoreUpstream{Store: store, Eng: eng}
	f := NewFIFO(eng, up, 4096, 16, func(bytes uint64) simcore.Tick { return simcore.Tick(bytes) })

	buf := make([]byte, 40)
	for i := range buf {
		buf[i] = byte(i)
	}
	var fired int
	f.Write(0, buf, 0, func(now simcore.Tick) { fired++ })
	runAllTransport(eng)
	require.Equal(t, 1, fired)

	got := make([]byte, 40)
	require.NoError(t, store.ReadAt(0, got))
	require.Equal(t, buf, got)
}

// A zero-length request completes immediately with no upstream traffic.
func TestFIFOZeroLengthCompletesImmediately(t *testing.T) {
	eng := simcore.NewEngine()
	store := disk.NewMemoryStore(4096)
	up := &StoreUpstream{Store: store, Eng: eng}
	f := NewFIFO(eng, up, 4096, 16, func(bytes uint64) simcore.Tick { return simcore.Tick(bytes) })

	var fired int
	f.Read(0, nil, 42, func(now simcore.Tick) {
		fired++
		require.Equal(t, simcore.Tick(42), now)
	})
	require.Equal(t, 1, fired)
}

// Pipeline usage never exceeds its configured capacity, even mid-flight.
func TestFIFOUsageStaysWithinCapacity(t *testing.T) {
	eng := simcore.NewEngine()
	store := disk.NewMemoryStore(4096)
	up := &StoreUpstream{Store: store, Eng: eng}
	f := NewFIFO(eng, up, 64, 16, func(bytes uint64) simcore.Tick { return simcore.Tick(bytes) })

	buf := make([]byte, 256)
	f.Write(0, buf, 0, func(now simcore.Tick) {})
	require.LessOrEqual(t, f.write.Usage(), uint64(64))
	runAllTransport(eng)
	require.Equal(t, uint64(0), f.write.Usage())
}

// StoreUpstream with a nonzero Latency delays completion by exactly that
// many ticks.
func TestStoreUpstreamLatency(t *testing.T) {
	eng := simcore.NewEngine()
	store := disk.NewMemoryStore(4096)
	up := &StoreUpstream{Store: store, Eng: eng, Latency: 500}

	var completedAt simcore.Tick
	up.Read(0, make([]byte, 4), 1000, func(now simcore.Tick) { completedAt = now })
	runAllTransport(eng)
	require.Equal(t, simcore.Tick(1500), completedAt)
}
