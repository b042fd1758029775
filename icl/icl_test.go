// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package icl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/ssdsim/disk"
	"github.com/dswarbrick/ssdsim/ftl"
	"github.com/dswarbrick/ssdsim/pal"
	"github.com/dswarbrick/ssdsim/simcore"
)

const lineSize = 4096

func newTestCache(t *testing.T, cfg Config) (*Cache, *simcore.Engine) {
	t.Helper()
	geom := pal.NewGeometry(1, 1, 1, 1, 8, 16, pal.DefaultOrder)
	lat := pal.ParseLatencyModel(hybridLatencyFixture)
	p2 := pal.NewPAL2(geom, lat, lineSize, 400)
	mapper := ftl.NewMapper(geom, p2, pal.NandMLC, 0.1, ftl.Greedy)
	media := disk.NewMemoryStore(int64(geom.TotalPages()) * lineSize)
	eng := simcore.NewEngine()

	cfg.Sets, cfg.Ways, cfg.LineSize = 1, 4, lineSize
	if cfg.DRAM == nil {
		cfg.DRAM = &SimpleMemory{FixedPs: 1000, BandwidthBps: 1e10}
	}
	c := NewCache(eng, mapper, media, cfg)
	return c, eng
}

func runAll(eng *simcore.Engine) {
	for eng.Pending() > 0 {
		eng.RunOne()
	}
}

// Write then read returns the written data with zero NAND operations if the
// line stays resident (spec.md §8 invariant 5).
func TestReadAfterWrite(t *testing.T) {
	c, eng := newTestCache(t, Config{ReadEnable: true, WriteEnable: true})

	want := make([]byte, lineSize)
	for i := range want {
		want[i] = 0xAB
	}
	status := c.Write(5, want, 0, func(now pal.Tick) {})
	require.Equal(t, StatusOK, status)
	runAll(eng)

	got := make([]byte, lineSize)
	var done bool
	c.Read(5, got, eng.Now(), func(now pal.Tick) { done = true })
	runAll(eng)

	require.True(t, done)
	require.Equal(t, want, got)
	require.Equal(t, uint64(0), c.stats.Get("icl.read.miss"))
}

// A prefetch never invalidates a dirty line (spec.md §8 invariant 6).
func TestPrefetchNeverEvictsDirtyLine(t *testing.T) {
	prefetch := NewPrefetchTrigger(true, 1, 0.1, lineSize*4, 2)
	c, eng := newTestCache(t, Config{ReadEnable: true, WriteEnable: true, Prefetch: prefetch})

	buf := make([]byte, lineSize)
	// Fill every way in the single set with dirty lines.
	for i := pal.LPN(0); i < 4; i++ {
		c.Write(i, buf, 0, func(now pal.Tick) {})
	}
	runAll(eng)

	for i := range c.sets[0].lines {
		require.True(t, c.sets[0].lines[i].dirty())
	}

	// Firing the trigger at lpn 3 targets lpn 4 and 5 for prefetch, neither
	// of which is already resident — with every way already holding a
	// dirty line, maybePrefetch must skip rather than evict one to make
	// room.
	c.maybePrefetch(3, eng.Now())

	for i := range c.sets[0].lines {
		require.True(t, c.sets[0].lines[i].dirty(), "prefetch must not clobber a dirty line")
	}
}

// Flushing the full LPN range drains every dirty line through the FTL.
func TestFlushDrainsDirtyLines(t *testing.T) {
	c, eng := newTestCache(t, Config{ReadEnable: true, WriteEnable: true})

	buf := make([]byte, lineSize)
	c.Write(1, buf, 0, func(now pal.Tick) {})
	c.Write(2, buf, 0, func(now pal.Tick) {})
	runAll(eng)

	var flushed bool
	c.Flush(0, 128, eng.Now(), func(now pal.Tick) { flushed = true })
	runAll(eng)

	require.True(t, flushed)
	for i := range c.sets[0].lines {
		require.False(t, c.sets[0].lines[i].dirty())
	}
}

const hybridLatencyFixture = `
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

[[entry]]
nand_type = "MLC"
page_type = "CSB"
operation = "read"
phase = "dma0"
picoseconds = 2500

[[entry]]
nand_type = "MLC"
page_type = "CSB"
operation = "read"
phase = "mem"
picoseconds = 50000

[[entry]]
nand_type = "MLC"
page_type = "CSB"
operation = "read"
phase = "dma1"
picoseconds = 25000

[[entry]]
nand_type = "MLC"
page_type = "CSB"
operation = "write"
phase = "dma0"
picoseconds = 2500

[[entry]]
nand_type = "MLC"
page_type = "CSB"
operation = "write"
phase = "mem"
picoseconds = 600000

[[entry]]
nand_type = "MLC"
page_type = "CSB"
operation = "write"
phase = "dma1"
picoseconds = 25000
`
