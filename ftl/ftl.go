// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package ftl

import (
	"github.com/dswarbrick/ssdsim/pal"
	"github.com/dswarbrick/ssdsim/stats"
)

// Translator is the interface the ICL depends on: whatever the mapping
// scheme underneath (page-level Mapper or data-block+log HybridMapper), the
// cache only ever needs lpn-in/ppn-out translation, trim, and a stats feed.
type Translator interface {
	Read(lpn pal.LPN, now pal.Tick) (ppn pal.PPN, res pal.Result, ok bool)
	Write(lpn pal.LPN, now pal.Tick) (ppn pal.PPN, res pal.Result, ok bool)
	Trim(start, end pal.LPN)
	Stats() *stats.Registry
}

var (
	_ Translator = (*Mapper)(nil)
	_ Translator = (*HybridMapper)(nil)
)

// Mapper is the page-level flash translation layer: a logical-to-physical
// map plus the free/active block pool behind it, built on one pal.PAL2
// scheduler. Writes rotate across planes round-robin; the flat plane index
// varies plane fastest, then die, package, and channel (see planeCoords).
type Mapper struct {
	geom *pal.Geometry
	pal2 *pal.PAL2
	kind pal.NandKind

	numPlanes      uint32
	blocksPerPlane uint32
	blocks         []*Block // flat: planeIdx*blocksPerPlane + localBlock
	free           [][]uint32
	active         []*Block
	gcActive       []*Block

	l2p map[pal.LPN]pal.PPN

	gc    *GC
	stats *stats.Registry

	planeRR uint32
}

// NewMapper constructs a page mapper over geom's full physical space.
// gcLowWatermarkFree is the fraction of free blocks per plane below which
// GC.MaybeReclaim kicks in (spec.md §4.4's "free pool depleted" trigger).
func NewMapper(geom *pal.Geometry, pal2 *pal.PAL2, kind pal.NandKind, gcLowWatermarkFree float64, policy VictimPolicy) *Mapper {
	numPlanes := geom.Sizes[pal.DimChannel] * geom.Sizes[pal.DimPackage] * geom.Sizes[pal.DimDie] * geom.Sizes[pal.DimPlane]
	blocksPerPlane := geom.Sizes[pal.DimBlock]
	pagesPerBlock := geom.Sizes[pal.DimPage]

	m := &Mapper{
		geom:           geom,
		pal2:           pal2,
		kind:           kind,
		numPlanes:      numPlanes,
		blocksPerPlane: blocksPerPlane,
		blocks:         make([]*Block, numPlanes*blocksPerPlane),
		free:           make([][]uint32, numPlanes),
		active:         make([]*Block, numPlanes),
		gcActive:       make([]*Block, numPlanes),
		l2p:            make(map[pal.LPN]pal.PPN),
		stats:          stats.NewRegistry(),
	}
	for plane := uint32(0); plane < numPlanes; plane++ {
		freeList := make([]uint32, 0, blocksPerPlane)
		for local := uint32(0); local < blocksPerPlane; local++ {
			flat := plane*blocksPerPlane + local
			m.blocks[flat] = NewBlock(flat, pagesPerBlock)
			freeList = append(freeList, local)
		}
		m.free[plane] = freeList
	}
	m.gc = NewGC(m, gcLowWatermarkFree, policy)
	return m
}

// Stats exposes the (names, values, reset) trio.
func (m *Mapper) Stats() *stats.Registry { return m.stats }

func (m *Mapper) planeCoords(plane uint32) pal.CPDPBP {
	dies := m.geom.Sizes[pal.DimDie]
	planes := m.geom.Sizes[pal.DimPlane]
	packages := m.geom.Sizes[pal.DimPackage]

	p := plane
	pl := p % planes
	p /= planes
	d := p % dies
	p /= dies
	pkg := p % packages
	c := p / packages
	return pal.CPDPBP{Channel: c, Package: pkg, Die: d, Plane: pl}
}

func (m *Mapper) blockAt(plane, local uint32) *Block {
	return m.blocks[plane*m.blocksPerPlane+local]
}

func (m *Mapper) submitReq(coords pal.CPDPBP, page uint32, op pal.Op, now pal.Tick) pal.Result {
	req := pal.Request{
		Channel:  coords.Channel,
		Die:      m.geom.DieIndex(coords),
		Kind:     m.kind,
		PageType: pal.PageTypeForPage(m.kind, page),
		Op:       op,
		Arrived:  now,
	}
	return m.pal2.Submit(req)
}

// Read looks up lpn and schedules a NAND read. ok is false for an unmapped
// LPN (a host read of never-written media, per spec.md §3 edge cases);
// callers typically return all-zero (or deterministic pattern) data in
// that case rather than treating it as an error.
func (m *Mapper) Read(lpn pal.LPN, now pal.Tick) (ppn pal.PPN, res pal.Result, ok bool) {
	ppn, ok = m.l2p[lpn]
	if !ok {
		return pal.InvalidPPN, pal.Result{}, false
	}
	addr := m.geom.Disassemble(ppn)
	res = m.submitReq(addr, addr.Page, pal.OpRead, now)
	return ppn, res, true
}

// Write allocates a fresh physical page for lpn, invalidating its previous
// mapping if any, and schedules the NAND program. Host writes never
// overwrite a page in place; that is the defining FTL invariant. ok is
// false if the target plane has no free blocks left even after GC
// (OutOfCapacity, spec.md §4.4) — the caller completes the host command
// with a resource-error status rather than crashing the simulator.
func (m *Mapper) Write(lpn pal.LPN, now pal.Tick) (ppn pal.PPN, res pal.Result, ok bool) {
	plane := m.nextWritePlane()
	blk, ok := m.ensureActive(plane, now)
	if !ok {
		m.stats.Add("ftl.out_of_capacity", 1)
		return pal.InvalidPPN, pal.Result{}, false
	}

	local := blk.Index % m.blocksPerPlane
	page := blk.WritePage(lpn)
	coords := m.planeCoords(plane)
	coords.Block = local
	coords.Page = page
	ppn = m.geom.Assemble(coords)

	if old, had := m.l2p[lpn]; had {
		m.invalidate(old)
	}
	m.l2p[lpn] = ppn

	res = m.submitReq(coords, page, pal.OpWrite, now)
	m.stats.Add("ftl.writes", 1)

	if blk.IsFull() {
		m.active[plane] = nil
	}
	m.gc.MaybeReclaim(plane, now)
	return ppn, res, true
}

// Trim invalidates every currently-mapped LPN in [start, end). Per spec.md
// §3, trim has no PAL timing cost: it is a synchronous metadata operation.
func (m *Mapper) Trim(start, end pal.LPN) {
	for lpn := start; lpn < end; lpn++ {
		if ppn, ok := m.l2p[lpn]; ok {
			m.invalidate(ppn)
			delete(m.l2p, lpn)
			m.stats.Add("ftl.trims", 1)
		}
	}
}

// FlushRange is a synchronous no-op at the FTL: there is no write buffer
// below this layer to drain. It exists so callers (ICL) have a uniform
// flush contract regardless of which layer actually holds dirty data.
func (m *Mapper) FlushRange(start, end pal.LPN) {}

func (m *Mapper) invalidate(ppn pal.PPN) {
	addr := m.geom.Disassemble(ppn)
	plane := m.planeIndex(addr)
	local := addr.Block
	m.blockAt(plane, local).Invalidate(addr.Page)
}

func (m *Mapper) planeIndex(a pal.CPDPBP) uint32 {
	planes := m.geom.Sizes[pal.DimPlane]
	dies := m.geom.Sizes[pal.DimDie]
	packages := m.geom.Sizes[pal.DimPackage]
	return ((a.Channel*packages+a.Package)*dies+a.Die)*planes + a.Plane
}

func (m *Mapper) nextWritePlane() uint32 {
	plane := m.planeRR
	m.planeRR = (m.planeRR + 1) % m.numPlanes
	return plane
}

// ensureActive returns the active block for plane, opening a fresh one
// from the free pool (triggering GC first if the pool is empty) if needed.
// ok is false if the plane is still out of free blocks after GC — a
// resource error (spec.md §4.4 "write to full device -> OutOfCapacity"),
// not a programmer error, so callers must surface it as a command status
// rather than panicking.
func (m *Mapper) ensureActive(plane uint32, now pal.Tick) (b *Block, ok bool) {
	if b := m.active[plane]; b != nil && b.CanWrite() {
		return b, true
	}
	if len(m.free[plane]) == 0 {
		m.gc.Reclaim(plane, now)
	}
	if len(m.free[plane]) == 0 {
		return nil, false
	}
	local := m.free[plane][len(m.free[plane])-1]
	m.free[plane] = m.free[plane][:len(m.free[plane])-1]
	b = m.blockAt(plane, local)
	m.active[plane] = b
	return b, true
}

// FreeBlockRatio reports the fraction of blocks in plane currently free,
// used by GC's low-watermark trigger and exposed for tests/stats.
func (m *Mapper) FreeBlockRatio(plane uint32) float64 {
	return float64(len(m.free[plane])) / float64(m.blocksPerPlane)
}
