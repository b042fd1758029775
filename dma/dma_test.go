// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package dma

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/ssdsim/disk"
	"github.com/dswarbrick/ssdsim/simcore"
)

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// A transfer that fits entirely within the first PRP page resolves to a
// single segment.
func TestPRPEngineSinglePage(t *testing.T) {
	e := &PRPEngine{PageSize: 4096}
	segs, status := e.Resolve(nil, Descriptor{PRP1: 4096}, 2048)
	require.Equal(t, StatusOK, status)
	require.Equal(t, []Segment{{HostAddr: 4096, Length: 2048}}, segs)
}

// A two-page transfer starting mid-page uses PRP1 for the remainder of its
// page and PRP2 for the rest.
func TestPRPEngineTwoPageSplit(t *testing.T) {
	e := &PRPEngine{PageSize: 4096}
	segs, status := e.Resolve(nil, Descriptor{PRP1: 4096 + 3000, PRP2: 8192}, 2000)
	require.Equal(t, StatusOK, status)
	require.Equal(t, []Segment{
		{HostAddr: 4096 + 3000, Length: 1096},
		{HostAddr: 8192, Length: 904},
	}, segs)
}

// A transfer larger than one page walks PRP2 as a PRP list.
func TestPRPEngineListWalk(t *testing.T) {
	pageSize := uint32(4096)
	e := &PRPEngine{PageSize: pageSize}
	host := disk.NewMemoryStore(1 << 20)

	listAddr := int64(pageSize) * 2
	entry0 := make([]byte, 8)
	putLE64(entry0, uint64(pageSize)*10)
	entry1 := make([]byte, 8)
	putLE64(entry1, uint64(pageSize)*11)
	require.NoError(t, host.WriteAt(listAddr, entry0))
	require.NoError(t, host.WriteAt(listAddr+8, entry1))

	desc := Descriptor{PRP1: uint64(pageSize), PRP2: uint64(listAddr)}
	segs, status := e.Resolve(host, desc, pageSize*2)
	require.Equal(t, StatusOK, status)
	require.Equal(t, []Segment{
		{HostAddr: uint64(pageSize), Length: pageSize},
		{HostAddr: uint64(pageSize) * 10, Length: pageSize},
	}, segs)
}

// A zero PRP1 is an invalid descriptor.
func TestPRPEngineRejectsZeroPRP1(t *testing.T) {
	e := &PRPEngine{PageSize: 4096}
	_, status := e.Resolve(nil, Descriptor{}, 100)
	require.Equal(t, StatusInvalidField, status)
}

func makeSGLDataBlock(addr uint64, length uint32) [16]byte {
	var d [16]byte
	putLE64(d[0:8], addr)
	putLE32(d[8:12], length)
	d[15] = byte(sglDataBlock) << 4
	return d
}

// A single data-block SGL descriptor resolves to one segment.
func TestSGLEngineSingleDataBlock(t *testing.T) {
	e := &SGLEngine{}
	desc := Descriptor{SGL1: makeSGLDataBlock(8192, 512)}
	segs, status := e.Resolve(nil, desc, 512)
	require.Equal(t, StatusOK, status)
	require.Equal(t, []Segment{{HostAddr: 8192, Length: 512}}, segs)
}

// A data-block descriptor shorter than the requested size is rejected.
func TestSGLEngineRejectsShortChain(t *testing.T) {
	e := &SGLEngine{}
	desc := Descriptor{SGL1: makeSGLDataBlock(8192, 256)}
	_, status := e.Resolve(nil, desc, 512)
	require.Equal(t, StatusInvalidSGL, status)
}

// fakeUpstream records every Read/Write call and completes synchronously.
type fakeUpstream struct {
	writes []Segment
	reads  []Segment
}

func (f *fakeUpstream) Write(addr uint64, buf []byte, now simcore.Tick, done func(now simcore.Tick)) {
	f.writes = append(f.writes, Segment{HostAddr: addr, Length: uint32(len(buf))})
	done(now + 1)
}

func (f *fakeUpstream) Read(addr uint64, buf []byte, now simcore.Tick, done func(now simcore.Tick)) {
	f.reads = append(f.reads, Segment{HostAddr: addr, Length: uint32(len(buf))})
	done(now + 1)
}

// Move issues one upstream call per segment and fires done once, at the
// latest completion tick, after every segment finishes.
func TestMoveSplitsAcrossSegments(t *testing.T) {
	up := &fakeUpstream{}
	segs := []Segment{{HostAddr: 0, Length: 4}, {HostAddr: 100, Length: 6}}
	buf := make([]byte, 10)

	var fired int
	var finishAt simcore.Tick
	Move(up, segs, buf, true, 5, func(now simcore.Tick) {
		fired++
		finishAt = now
	})

	require.Equal(t, 1, fired)
	require.Equal(t, simcore.Tick(6), finishAt)
	require.Len(t, up.writes, 2)
	require.Empty(t, up.reads)
}

// Move panics if the segment lengths don't sum to the buffer size —
// a programmer error, not a host-facing status.
func TestMovePanicsOnLengthMismatch(t *testing.T) {
	up := &fakeUpstream{}
	segs := []Segment{{HostAddr: 0, Length: 4}}
	require.Panics(t, func() {
		Move(up, segs, make([]byte, 10), false, 0, func(simcore.Tick) {})
	})
}
