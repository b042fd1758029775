// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package ftl

import (
	"fmt"
	"sort"

	"github.com/dswarbrick/ssdsim/pal"
)

// VictimPolicy selects which block GC reclaims next, per spec.md §4.4.
type VictimPolicy int

const (
	// Greedy always picks the block with the fewest valid pages: cheapest
	// to relocate, ignoring wear.
	Greedy VictimPolicy = iota
	// CostBenefit weighs relocation cost against how long the freed space
	// will stay clean, using the classic age * (1-utilization) / (1+utilization)
	// formula (Rosenblum & Ousterhout), favoring cold, mostly-invalid blocks.
	CostBenefit
)

// GC reclaims blocks for one Mapper, one plane at a time.
type GC struct {
	m            *Mapper
	lowWatermark float64 // free-block fraction below which MaybeReclaim acts
	policy       VictimPolicy
	generation   uint64 // logical clock for block age, bumped per erase
}

// NewGC constructs a reclaimer bound to m.
func NewGC(m *Mapper, lowWatermark float64, policy VictimPolicy) *GC {
	return &GC{m: m, lowWatermark: lowWatermark, policy: policy}
}

// MaybeReclaim reclaims exactly one victim block in plane if its free-block
// ratio has dropped below the configured low watermark.
func (g *GC) MaybeReclaim(plane uint32, now pal.Tick) {
	if g.m.FreeBlockRatio(plane) >= g.lowWatermark {
		return
	}
	g.Reclaim(plane, now)
}

// Reclaim selects one non-active victim block in plane, relocates its
// still-valid pages, erases it, and returns it to the free pool. It is a
// no-op if every block in the plane is active or already free.
func (g *GC) Reclaim(plane uint32, now pal.Tick) {
	victim := g.selectVictim(plane)
	if victim == nil {
		return
	}

	for _, vp := range victim.ValidPages() {
		g.relocate(plane, victim, vp.Page, vp.LPN, now)
	}

	addr := g.m.planeCoords(plane)
	addr.Block = victim.Index % g.m.blocksPerPlane
	addr.Page = 0
	g.m.submitReq(addr, 0, pal.OpErase, now)

	victim.Erase()
	g.generation++
	g.m.free[plane] = append(g.m.free[plane], victim.Index%g.m.blocksPerPlane)
	g.m.stats.Add("ftl.gc.erasures", 1)
}

// selectVictim returns the best reclaim candidate in plane, excluding the
// host's and GC's own currently-active blocks (they are by definition not
// yet full of stale data worth reclaiming).
func (g *GC) selectVictim(plane uint32) *Block {
	type candidate struct {
		blk   *Block
		valid uint32
	}
	var candidates []candidate
	for local := uint32(0); local < g.m.blocksPerPlane; local++ {
		b := g.m.blockAt(plane, local)
		if b == g.m.active[plane] || b == g.m.gcActive[plane] {
			continue
		}
		if !b.IsFull() {
			continue // free, or the active/gcActive block of some other plane slot
		}
		candidates = append(candidates, candidate{b, b.ValidCount()})
	}
	if len(candidates) == 0 {
		return nil
	}

	switch g.policy {
	case Greedy:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].valid < candidates[j].valid })
	case CostBenefit:
		sort.Slice(candidates, func(i, j int) bool {
			return g.costBenefit(candidates[i].blk) > g.costBenefit(candidates[j].blk)
		})
	default:
		panic(fmt.Sprintf("ftl: unknown GC victim policy %d", g.policy))
	}
	return candidates[0].blk
}

// costBenefit implements age * (1-u) / (1+u), where u is the fraction of
// valid pages and age is the GC's total erase count minus this block's own
// erase count, plus one: blocks erased less often than the rest score older.
func (g *GC) costBenefit(b *Block) float64 {
	u := float64(b.ValidCount()) / float64(b.PageCount)
	age := float64(g.generation - b.eraseCount + 1)
	return age * (1 - u) / (1 + u)
}

// relocate copies one valid page out of victim into the plane's dedicated
// GC active block, updating the logical mapping to point at the new
// location. Using a block separate from the host's active block means GC
// writes never contend with host writes for the same program pointer.
func (g *GC) relocate(plane uint32, victim *Block, page uint32, lpn pal.LPN, now pal.Tick) {
	addr := g.m.planeCoords(plane)
	addr.Block = victim.Index % g.m.blocksPerPlane
	addr.Page = page
	g.m.submitReq(addr, page, pal.OpRead, now)

	blk := g.ensureGCActive(plane, now)
	newPage := blk.WritePage(lpn)
	newAddr := g.m.planeCoords(plane)
	newAddr.Block = blk.Index % g.m.blocksPerPlane
	newAddr.Page = newPage
	g.m.submitReq(newAddr, newPage, pal.OpWrite, now)

	g.m.l2p[lpn] = g.m.geom.Assemble(newAddr)
	victim.Invalidate(page)
	g.m.stats.Add("ftl.gc.relocations", 1)

	if blk.IsFull() {
		g.m.gcActive[plane] = nil
	}
}

func (g *GC) ensureGCActive(plane uint32, now pal.Tick) *Block {
	if b := g.m.gcActive[plane]; b != nil && b.CanWrite() {
		return b
	}
	if len(g.m.free[plane]) == 0 {
		panic(fmt.Sprintf("ftl: plane %d has no free block available for GC relocation", plane))
	}
	local := g.m.free[plane][len(g.m.free[plane])-1]
	g.m.free[plane] = g.m.free[plane][:len(g.m.free[plane])-1]
	b := g.m.blockAt(plane, local)
	g.m.gcActive[plane] = b
	return b
}
