// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package ftl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/ssdsim/pal"
)

const hybridFTLLatencyFixture = `
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

// newTestHybridMapper builds a tiny single-plane, 4-block, 4-page-per-block
// geometry so a single virtual block's worth of writes (4 pages) exhausts
// exactly one log block, and the whole plane (4 data blocks) exhausts after
// exactly 4 virtual block numbers worth of writes.
func newTestHybridMapper(maxLogBlocksPerVBN int) *HybridMapper {
	geom := pal.NewGeometry(1, 1, 1, 1, 4, 4, pal.DefaultOrder)
	lat := pal.ParseLatencyModel(hybridFTLLatencyFixture)
	pal2 := pal.NewPAL2(geom, lat, 4096, 400)
	return NewHybridMapper(geom, pal2, pal.NandMLC, maxLogBlocksPerVBN)
}

// Read-after-write within the log returns the just-written page, before any
// merge has happened.
func TestHybridReadAfterWriteInLog(t *testing.T) {
	h := newTestHybridMapper(4)

	ppn, _, ok := h.Write(0, 0)
	require.True(t, ok)
	require.NotEqual(t, pal.InvalidPPN, ppn)

	gotPPN, _, ok := h.Read(0, 0)
	require.True(t, ok)
	require.Equal(t, ppn, gotPPN)
}

// Reading an LPN that was never written fails.
func TestHybridReadUnwrittenLPN(t *testing.T) {
	h := newTestHybridMapper(4)
	_, _, ok := h.Read(0, 0)
	require.False(t, ok)
}

// Filling a single log block in logical order with maxLogBlocksPerVBN=1
// triggers a switch merge once the block is full, and the merged LPNs
// resolve straight out of the promoted data block afterward.
func TestHybridSwitchMergeOnFullLog(t *testing.T) {
	h := newTestHybridMapper(1)

	for lpn := pal.LPN(0); lpn < 4; lpn++ {
		_, _, ok := h.Write(lpn, 0)
		require.True(t, ok)
	}

	switchN, partialN, fullN := h.MergeStats()
	require.Equal(t, uint64(1), switchN)
	require.Equal(t, uint64(0), partialN)
	require.Equal(t, uint64(0), fullN)

	_, dataBlockAssigned := h.dataBlock[0]
	require.True(t, dataBlockAssigned)
	require.Empty(t, h.logBlocks[0])

	for lpn := pal.LPN(0); lpn < 4; lpn++ {
		_, ok := h.logOf[lpn]
		require.False(t, ok, "merged LPNs must no longer be shadowed in the log")
		_, _, ok2 := h.Read(lpn, 0)
		require.True(t, ok2)
	}
}

// Trim removes a log-shadowed LPN's mapping and records a stat.
func TestHybridTrimRemovesLogShadow(t *testing.T) {
	h := newTestHybridMapper(4)
	_, _, ok := h.Write(1, 0)
	require.True(t, ok)

	h.Trim(1, 2)

	_, stillShadowed := h.logOf[1]
	require.False(t, stillShadowed)
	require.Equal(t, uint64(1), h.stats.Get("ftl.hybrid.trims"))
}

// Exhausting every block in the single plane (by forcing a switch merge per
// virtual block, consuming all 4 physical blocks as data blocks) leaves the
// next write with nothing to allocate: Write must report ok=false rather
// than panic, and record the out-of-capacity stat.
func TestHybridWriteOutOfCapacity(t *testing.T) {
	h := newTestHybridMapper(1)

	for vbn := pal.LPN(0); vbn < 4; vbn++ {
		base := vbn * 4
		for off := pal.LPN(0); off < 4; off++ {
			_, _, ok := h.Write(base+off, 0)
			require.True(t, ok)
		}
	}

	_, _, ok := h.Write(16, 0) // vbn 4: every physical block is now a data block
	require.False(t, ok)
	require.Equal(t, uint64(1), h.stats.Get("ftl.hybrid.out_of_capacity"))
}

// Stats exposes the same (names, values, reset) trio Mapper uses.
func TestHybridStatsRegistry(t *testing.T) {
	h := newTestHybridMapper(4)
	_, _, ok := h.Write(0, 0)
	require.True(t, ok)
	require.Equal(t, uint64(1), h.Stats().Get("ftl.hybrid.writes"))
}
