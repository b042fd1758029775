// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// PAL2: the channel/die timeline scheduler. Three-phase (DMA0/MEM/DMA1)
// operation scheduling against per-channel and per-die free-slot maps, per
// spec.md §4.3.

package pal

import (
	"fmt"

	"github.com/dswarbrick/ssdsim/stats"
)

// Request describes one NAND operation arriving at a given channel/die.
type Request struct {
	Channel  uint32
	Die      uint32 // flat index, see Geometry.DieIndex
	Kind     NandKind
	PageType PageType
	Op       Op
	Arrived  Tick
}

// Result carries the scheduled timing of a completed Submit call.
type Result struct {
	DMA0Start, DMA0End Tick
	MemStart, MemEnd   Tick
	DMA1Start, DMA1End Tick
	Finished           Tick
	ConflictDMA0       bool
	ConflictMEM        bool
	ConflictDMA1       bool
}

// PAL2 is the timeline scheduler for one device's full channel/die grid.
type PAL2 struct {
	geom     *Geometry
	latency  *LatencyModel
	channels []*FreeSlotMap
	dies     []*FreeSlotMap
	merged   *MergedTimeSlots
	ops      *OpTimeStamps
	stats    *stats.Registry

	pageSize  uint32
	dmaSpeed  uint32 // MHz
}

// maxIterations bounds the DMA0/MEM/DMA1 conflict-resolution loops; a real
// fixed point is always reached in a finite number of steps because each
// retry strictly increases dma0From, so exceeding this is a scheduler
// invariant violation rather than a legitimate outcome.
const maxIterations = 1 << 20

// NewPAL2 validates device geometry/timing and constructs a scheduler. Per
// spec.md §4.3, a NAND page size above 16KiB, a DMA speed not divisible by
// 50MHz, or an unsupported NAND type are all fatal at init.
func NewPAL2(geom *Geometry, latency *LatencyModel, pageSize uint32, dmaSpeedMHz uint32) *PAL2 {
	if pageSize > 16*1024 {
		panic(fmt.Sprintf("pal: NAND page size %d exceeds 16KiB maximum", pageSize))
	}
	if dmaSpeedMHz == 0 || dmaSpeedMHz%50 != 0 {
		panic(fmt.Sprintf("pal: DMA speed %dMHz is not divisible by 50MHz", dmaSpeedMHz))
	}

	numChannels := geom.Sizes[DimChannel]
	numDies := geom.Sizes[DimChannel] * geom.Sizes[DimPackage] * geom.Sizes[DimDie]

	p := &PAL2{
		geom:     geom,
		latency:  latency,
		channels: make([]*FreeSlotMap, numChannels),
		dies:     make([]*FreeSlotMap, numDies),
		merged:   NewMergedTimeSlots(),
		ops:      NewOpTimeStamps(),
		stats:    stats.NewRegistry(),
		pageSize: pageSize,
		dmaSpeed: dmaSpeedMHz,
	}
	for i := range p.channels {
		p.channels[i] = NewFreeSlotMap()
	}
	for i := range p.dies {
		p.dies[i] = NewFreeSlotMap()
	}
	return p
}

// Stats exposes the (names, values, reset) trio per spec.md §1.
func (p *PAL2) Stats() *stats.Registry { return p.stats }

// ExactBusyTime returns the union-of-MEM-spans busy time as of now
// (spec.md §8 property 2: monotonically non-decreasing).
func (p *PAL2) ExactBusyTime(now Tick) uint64 { return p.merged.ExactBusyTime(now) }

// OpBusyTime returns the per-operation busy time as of now.
func (p *PAL2) OpBusyTime(op Op, now Tick) uint64 { return p.ops.BusyTime(op, now) }

func max(a, b Tick) Tick {
	if a > b {
		return a
	}
	return b
}

// Submit schedules one three-phase NAND operation and returns its timing.
// This implements the algorithm of spec.md §4.3 verbatim: resolve DMA0
// against the channel, MEM against the die (which must cover the full
// DMA0..DMA1 span), and DMA1 again against the channel, iterating until
// all three agree.
func (p *PAL2) Submit(req Request) Result {
	profile := p.latency.Profile(req.Kind)
	latDMA0 := profile.Lookup(req.Op, req.PageType, PhaseDMA0)
	latMEM := profile.Lookup(req.Op, req.PageType, PhaseMEM)
	latDMA1 := profile.Lookup(req.Op, req.PageType, PhaseDMA1)
	var latAnti Tick
	if profile.ReserveAntiCollision {
		latAnti = profile.AntiCollisionPs
	}

	chanMap := p.channels[req.Channel]
	dieMap := p.dies[req.Die]

	var res Result
	dma0From := req.Arrived
	var tDMA0, tMEM Tick

	for iter := 0; ; iter++ {
		if iter > maxIterations {
			panic("pal: PAL2.Submit: DMA0/MEM conflict resolution did not converge")
		}
		var hit0, hitMem bool
		tDMA0, hit0 = chanMap.FindFree(latDMA0, dma0From)
		if !hit0 {
			res.ConflictDMA0 = true
			p.stats.Add("pal2.conflict.dma0", 1)
		}
		if tDMA0 > dma0From {
			dma0From = tDMA0
		}
		tMEM, hitMem = dieMap.FindFree(latDMA0+latMEM, dma0From)
		if !hitMem {
			res.ConflictMEM = true
			p.stats.Add("pal2.conflict.mem", 1)
		}
		if tMEM == tDMA0 {
			break
		}
		dma0From = tMEM
	}

	var tMemV, dma1Start Tick
	for iter := 0; ; iter++ {
		if iter > maxIterations {
			panic("pal: PAL2.Submit: DMA1 conflict resolution did not converge")
		}
		dma1From := dma0From + latDMA0 + latMEM
		dma1Found, hitDMA1 := chanMap.FindFree(latDMA1+latAnti, dma1From)
		if !hitDMA1 {
			res.ConflictDMA1 = true
			p.stats.Add("pal2.conflict.dma1", 1)
		}
		if dma1Found > dma1From {
			res.ConflictDMA1 = true
			dma1From = dma1Found
		}
		totalSpan := (dma1From + latDMA1 + latAnti) - dma0From
		var hitMemV bool
		tMemV, hitMemV = dieMap.FindFree(totalSpan, dma0From)
		if !hitMemV {
			res.ConflictMEM = true
		}
		if tMemV == tMEM {
			dma1Start = dma1From
			break
		}
		res.ConflictDMA1 = true
		dma0From = tMemV
		// re-derive tDMA0/tMEM at the new dma0From before re-checking DMA1.
		for j := 0; ; j++ {
			if j > maxIterations {
				panic("pal: PAL2.Submit: DMA0/MEM re-resolution did not converge")
			}
			t0, hit0 := chanMap.FindFree(latDMA0, dma0From)
			if !hit0 {
				res.ConflictDMA0 = true
			}
			if t0 > dma0From {
				dma0From = t0
			}
			tm, hitMem := dieMap.FindFree(latDMA0+latMEM, dma0From)
			if !hitMem {
				res.ConflictMEM = true
			}
			if tm == t0 {
				tDMA0, tMEM = t0, tm
				break
			}
			dma0From = tm
		}
	}

	// Assign: allocate DMA0 on the channel, DMA1 on the channel (with the
	// anti-collision gap, if any, reserved right after it), and the full
	// DMA0..DMA1 span on the die.
	chanMap.Alloc(dma0From, latDMA0)
	chanMap.Alloc(dma1Start, latDMA1+latAnti)
	totalSpan := (dma1Start + latDMA1 + latAnti) - dma0From
	dieMap.Alloc(dma0From, totalSpan)

	p.merged.Insert(dma0From, totalSpan)
	p.ops.Record(req.Op, dma0From, totalSpan)

	res.DMA0Start, res.DMA0End = dma0From, dma0From+latDMA0
	res.MemStart, res.MemEnd = dma0From, dma0From+totalSpan
	res.DMA1Start, res.DMA1End = dma1Start, dma1Start+latDMA1
	res.Finished = dma1Start + latDMA1
	p.stats.Add("pal2.requests", 1)
	return res
}

// EraseGroupPPNs quantizes ppn down to the start of its erase_block-aligned
// group and returns the eraseBlock PPNs in that group, per spec.md §4.3
// ("ppn − (ppn & (erase_block−1)) + i for i ∈ [0, erase_block)"). eraseBlock
// must be a power of two.
func EraseGroupPPNs(ppn PPN, eraseBlock uint32) []PPN {
	if eraseBlock == 0 || eraseBlock&(eraseBlock-1) != 0 {
		panic("pal: EraseGroupPPNs: eraseBlock must be a power of two")
	}
	base := uint64(ppn) &^ uint64(eraseBlock-1)
	out := make([]PPN, eraseBlock)
	for i := uint32(0); i < eraseBlock; i++ {
		out[i] = PPN(base + uint64(i))
	}
	return out
}
