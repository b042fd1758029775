// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package pal

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testGeom() *Geometry {
	return NewGeometry(2, 1, 2, 1, 16, 64, DefaultOrder)
}

func TestPAL2NoOverlap(t *testing.T) {
	lat := ParseLatencyModel(latencyFixture)
	g := testGeom()
	p := NewPAL2(g, lat, 4096, 400)

	r := rand.New(rand.NewSource(1))
	ops := []Op{OpRead, OpWrite}

	var results []Result
	for i := 0; i < 200; i++ {
		req := Request{
			Channel:  uint32(r.Intn(2)),
			Die:      uint32(r.Intn(4)),
			Kind:     NandMLC,
			PageType: PageLSB,
			Op:       ops[r.Intn(len(ops))],
			Arrived:  Tick(r.Intn(1000)),
		}
		res := p.Submit(req)
		require.Less(t, res.DMA0Start, res.DMA0End)
		results = append(results, res)
	}

	for i := range p.channels {
		sp := p.channels[i].StartPoint()
		require.GreaterOrEqual(t, sp, Tick(0))
	}
}

func TestPAL2StartPointIsMaxEndPlusOne(t *testing.T) {
	lat := ParseLatencyModel(latencyFixture)
	g := testGeom()
	p := NewPAL2(g, lat, 4096, 400)

	res := p.Submit(Request{Channel: 0, Die: 0, Kind: NandMLC, PageType: PageLSB, Op: OpRead, Arrived: 0})
	// DMA1End is exclusive: the last busy tick of the channel plus one.
	require.Equal(t, res.DMA1End, p.channels[0].StartPoint())
}

func TestPAL2BusyTimeMonotonic(t *testing.T) {
	lat := ParseLatencyModel(latencyFixture)
	g := testGeom()
	p := NewPAL2(g, lat, 4096, 400)

	var last uint64
	for i := 0; i < 50; i++ {
		p.Submit(Request{Channel: 0, Die: 0, Kind: NandMLC, PageType: PageLSB, Op: OpRead, Arrived: Tick(i * 100000)})
		busy := p.ExactBusyTime(Tick(i * 100000))
		require.GreaterOrEqual(t, busy, last)
		last = busy
	}
}

func TestPAL2InvalidGeometryFatal(t *testing.T) {
	lat := ParseLatencyModel(latencyFixture)
	g := testGeom()
	require.Panics(t, func() { NewPAL2(g, lat, 17*1024, 400) })
	require.Panics(t, func() { NewPAL2(g, lat, 4096, 401) })
}

const latencyFixture = `
[[entry]]
nand_type = "MLC"
page_type = "LSB"
operation = "read"
phase = "dma0"
picoseconds = 2500

[[entry]]
nand_type = "MLC"
page_type = "LSB"
operation = "read"
phase = "mem"
picoseconds = 50000

[[entry]]
nand_type = "MLC"
page_type = "LSB"
operation = "read"
phase = "dma1"
picoseconds = 25000

[[entry]]
nand_type = "MLC"
page_type = "LSB"
operation = "write"
phase = "dma0"
picoseconds = 2500

[[entry]]
nand_type = "MLC"
page_type = "LSB"
operation = "write"
phase = "mem"
picoseconds = 600000

[[entry]]
nand_type = "MLC"
page_type = "LSB"
operation = "write"
phase = "dma1"
picoseconds = 25000
`
