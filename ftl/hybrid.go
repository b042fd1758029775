// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Hybrid (data-block + log-page) mapping, the classic FTL alternative to
// pure page-level mapping: one data block per aligned run of LPNs, backed
// by a small pool of log blocks that absorb random writes at page
// granularity and are periodically merged back, per spec.md §4.4.

package ftl

import (
	"github.com/dswarbrick/ssdsim/pal"
	"github.com/dswarbrick/ssdsim/stats"
)

// logSlot records where, within a log block, one LPN currently lives.
type logSlot struct {
	block *Block
	page  uint32
}

// HybridMapper implements data-block + log-page translation over the same
// plane/block substrate as Mapper, trading Mapper's higher write
// amplification tolerance for a much smaller translation table: only one
// entry per virtual data block, plus whatever is currently parked in a log.
type HybridMapper struct {
	geom *pal.Geometry
	pal2 *pal.PAL2
	kind pal.NandKind

	pagesPerBlock uint32
	numPlanes     uint32
	blocksPerPlane uint32
	blocks        []*Block

	dataBlock map[uint32]*Block          // virtual data block index -> assigned physical block
	logOf     map[pal.LPN]logSlot        // LPN currently shadowed in a log block
	logBlocks map[uint32][]*Block        // virtual data block index -> log blocks in use, oldest first
	free      [][]uint32

	maxLogBlocksPerVBN int
	planeRR            uint32
	stats              *stats.Registry
}

// NewHybridMapper constructs a hybrid mapper. maxLogBlocksPerVBN bounds how
// many log blocks may shadow one data block before a merge is forced.
func NewHybridMapper(geom *pal.Geometry, pal2 *pal.PAL2, kind pal.NandKind, maxLogBlocksPerVBN int) *HybridMapper {
	numPlanes := geom.Sizes[pal.DimChannel] * geom.Sizes[pal.DimPackage] * geom.Sizes[pal.DimDie] * geom.Sizes[pal.DimPlane]
	blocksPerPlane := geom.Sizes[pal.DimBlock]
	pagesPerBlock := geom.Sizes[pal.DimPage]

	h := &HybridMapper{
		geom:                geom,
		pal2:                pal2,
		kind:                kind,
		pagesPerBlock:       pagesPerBlock,
		numPlanes:           numPlanes,
		blocksPerPlane:      blocksPerPlane,
		blocks:              make([]*Block, numPlanes*blocksPerPlane),
		dataBlock:           make(map[uint32]*Block),
		logOf:               make(map[pal.LPN]logSlot),
		logBlocks:           make(map[uint32][]*Block),
		free:                make([][]uint32, numPlanes),
		maxLogBlocksPerVBN:  maxLogBlocksPerVBN,
		stats:               stats.NewRegistry(),
	}
	for plane := uint32(0); plane < numPlanes; plane++ {
		freeList := make([]uint32, 0, blocksPerPlane)
		for local := uint32(0); local < blocksPerPlane; local++ {
			flat := plane*blocksPerPlane + local
			h.blocks[flat] = NewBlock(flat, pagesPerBlock)
			freeList = append(freeList, local)
		}
		h.free[plane] = freeList
	}
	return h
}

func (h *HybridMapper) vbn(lpn pal.LPN) (vbn uint32, offset uint32) {
	return uint32(uint64(lpn) / uint64(h.pagesPerBlock)), uint32(uint64(lpn) % uint64(h.pagesPerBlock))
}

func (h *HybridMapper) planeCoords(plane uint32) pal.CPDPBP {
	dies := h.geom.Sizes[pal.DimDie]
	planes := h.geom.Sizes[pal.DimPlane]
	packages := h.geom.Sizes[pal.DimPackage]
	p := plane
	pl := p % planes
	p /= planes
	d := p % dies
	p /= dies
	pkg := p % packages
	c := p / packages
	return pal.CPDPBP{Channel: c, Package: pkg, Die: d, Plane: pl}
}

func (h *HybridMapper) blockAt(plane, local uint32) *Block { return h.blocks[plane*h.blocksPerPlane+local] }

// allocBlock pops a free block from plane's pool. ok is false if the pool is
// exhausted — a resource error the caller must surface (OutOfCapacity), not
// a programmer error.
func (h *HybridMapper) allocBlock(plane uint32) (b *Block, ok bool) {
	if len(h.free[plane]) == 0 {
		return nil, false
	}
	local := h.free[plane][len(h.free[plane])-1]
	h.free[plane] = h.free[plane][:len(h.free[plane])-1]
	return h.blockAt(plane, local), true
}

// mustAllocBlock allocates during a merge, where the pool is expected to
// have room because the blocks being folded together are freed in the same
// pass. Exhaustion here means the free-pool accounting itself is broken.
func (h *HybridMapper) mustAllocBlock(plane uint32) *Block {
	b, ok := h.allocBlock(plane)
	if !ok {
		panic("ftl: hybrid mapper merge: plane exhausted mid-merge")
	}
	return b
}

// ppnOf assembles the pal.PPN for (block, page), the same physical address
// space Mapper uses, so hybrid- and page-mapped namespaces share one
// geometry.
func (h *HybridMapper) ppnOf(block *Block, page uint32) pal.PPN {
	coords := h.planeCoords(h.planeOf(block))
	coords.Block = block.Index % h.blocksPerPlane
	coords.Page = page
	return h.geom.Assemble(coords)
}

func (h *HybridMapper) freeBlock(plane uint32, b *Block) {
	b.Erase()
	h.free[plane] = append(h.free[plane], b.Index%h.blocksPerPlane)
}

func (h *HybridMapper) submit(plane uint32, block *Block, page uint32, op pal.Op, now pal.Tick) pal.Result {
	coords := h.planeCoords(plane)
	coords.Block = block.Index % h.blocksPerPlane
	coords.Page = page
	req := pal.Request{
		Channel:  coords.Channel,
		Die:      h.geom.DieIndex(coords),
		Kind:     h.kind,
		PageType: pal.PageTypeForPage(h.kind, page),
		Op:       op,
		Arrived:  now,
	}
	return h.pal2.Submit(req)
}

// Read returns the current location of lpn, checking the log shadow first,
// and the pal.PPN it currently resolves to.
func (h *HybridMapper) Read(lpn pal.LPN, now pal.Tick) (ppn pal.PPN, res pal.Result, ok bool) {
	if slot, shadowed := h.logOf[lpn]; shadowed {
		plane := h.planeOf(slot.block)
		return h.ppnOf(slot.block, slot.page), h.submit(plane, slot.block, slot.page, pal.OpRead, now), true
	}
	vbn, offset := h.vbn(lpn)
	blk, ok := h.dataBlock[vbn]
	if !ok {
		return pal.InvalidPPN, pal.Result{}, false
	}
	plane := h.planeOf(blk)
	return h.ppnOf(blk, offset), h.submit(plane, blk, offset, pal.OpRead, now), true
}

func (h *HybridMapper) planeOf(b *Block) uint32 { return b.Index / h.blocksPerPlane }

// Write always lands in the log: a log block for vbn is opened on demand,
// and the write triggers a merge once the shadow chain for vbn hits
// maxLogBlocksPerVBN. ok is false if the plane has no free block left for a
// fresh log (OutOfCapacity), matching Mapper.Write's resource-error contract.
func (h *HybridMapper) Write(lpn pal.LPN, now pal.Tick) (ppn pal.PPN, res pal.Result, ok bool) {
	vbn, _ := h.vbn(lpn)
	plane := h.writePlane(vbn)

	logs := h.logBlocks[vbn]
	var target *Block
	if len(logs) > 0 && logs[len(logs)-1].CanWrite() {
		target = logs[len(logs)-1]
	} else {
		var allocOk bool
		target, allocOk = h.allocBlock(plane)
		if !allocOk {
			h.stats.Add("ftl.hybrid.out_of_capacity", 1)
			return pal.InvalidPPN, pal.Result{}, false
		}
		h.logBlocks[vbn] = append(h.logBlocks[vbn], target)
	}

	page := target.WritePage(lpn)
	h.logOf[lpn] = logSlot{block: target, page: page}
	ppn = h.ppnOf(target, page)
	res = h.submit(plane, target, page, pal.OpWrite, now)
	h.stats.Add("ftl.hybrid.writes", 1)

	if len(h.logBlocks[vbn]) > h.maxLogBlocksPerVBN || !target.CanWrite() && len(h.logBlocks[vbn]) >= h.maxLogBlocksPerVBN {
		h.merge(vbn, plane, now)
	}
	return ppn, res, true
}

// Trim invalidates lpn's current page, wherever it lives (log shadow or the
// committed data block), without reshaping the log chain — a later merge
// will see the hole via ValidPages and simply not propagate it.
func (h *HybridMapper) Trim(start, end pal.LPN) {
	for lpn := start; lpn < end; lpn++ {
		if slot, shadowed := h.logOf[lpn]; shadowed {
			slot.block.Invalidate(slot.page)
			delete(h.logOf, lpn)
			h.stats.Add("ftl.hybrid.trims", 1)
			continue
		}
		vbn, offset := h.vbn(lpn)
		if blk, ok := h.dataBlock[vbn]; ok {
			blk.Invalidate(offset)
			h.stats.Add("ftl.hybrid.trims", 1)
		}
	}
}

// Stats exposes the (names, values, reset) trio.
func (h *HybridMapper) Stats() *stats.Registry { return h.stats }

func (h *HybridMapper) writePlane(vbn uint32) uint32 {
	if blk, ok := h.dataBlock[vbn]; ok {
		return h.planeOf(blk)
	}
	plane := h.planeRR
	h.planeRR = (h.planeRR + 1) % h.numPlanes
	return plane
}

// merge folds every log block shadowing vbn back into a single data block,
// choosing the cheapest applicable strategy: switch (the log is a full,
// in-order replacement: just retire the old data block), partial (copy the
// handful of pages the log didn't cover), or full/reorder (allocate a
// fresh block and replay both data and log pages into correct order).
func (h *HybridMapper) merge(vbn uint32, plane uint32, now pal.Tick) {
	logs := h.logBlocks[vbn]
	data := h.dataBlock[vbn]

	coverage := make([]pal.LPN, h.pagesPerBlock)
	for i := range coverage {
		coverage[i] = pal.InvalidLPN
	}
	for _, lb := range logs {
		for _, vp := range lb.ValidPages() {
			_, offset := h.vbn(vp.LPN)
			coverage[offset] = vp.LPN
		}
	}

	fullyCovered := true
	for _, lpn := range coverage {
		if lpn == pal.InvalidLPN {
			fullyCovered = false
			break
		}
	}

	inOrder := len(logs) == 1 && fullyCovered
	if inOrder {
		for _, vp := range logs[0].ValidPages() {
			if _, offset := h.vbn(vp.LPN); offset != vp.Page {
				inOrder = false
				break
			}
		}
	}

	switch {
	case inOrder:
		h.switchMerge(vbn, plane, logs, coverage, now)
	case data == nil || fullyCovered:
		h.fullMerge(vbn, plane, logs, coverage, now)
	default:
		h.partialMerge(vbn, plane, data, logs, coverage, now)
	}
}

// switchMerge: the sole log block already holds every page of vbn in
// order, so it simply becomes the new data block; the old one (if any)
// is erased and freed.
func (h *HybridMapper) switchMerge(vbn uint32, plane uint32, logs []*Block, coverage []pal.LPN, now pal.Tick) {
	old := h.dataBlock[vbn]
	newData := logs[len(logs)-1]
	if old != nil {
		h.freeBlock(plane, old)
	}
	h.dataBlock[vbn] = newData
	h.retargetMappings(vbn, plane, newData, coverage)
	delete(h.logBlocks, vbn)
	h.stats.Add("ftl.hybrid.switch_merges", 1)
}

// partialMerge: the log only shadows some pages of vbn; copy the
// not-yet-shadowed pages from the old data block into the newest log
// block's remaining capacity, then promote it.
func (h *HybridMapper) partialMerge(vbn uint32, plane uint32, data *Block, logs []*Block, coverage []pal.LPN, now pal.Tick) {
	target := logs[len(logs)-1]
	for offset, lpn := range coverage {
		if lpn != pal.InvalidLPN || !target.CanWrite() {
			continue
		}
		origLPN := pal.LPN(uint64(vbn)*uint64(h.pagesPerBlock) + uint64(offset))
		h.submit(plane, data, uint32(offset), pal.OpRead, now)
		newPage := target.WritePage(origLPN)
		h.submit(plane, target, newPage, pal.OpWrite, now)
		coverage[offset] = origLPN
		h.logOf[origLPN] = logSlot{block: target, page: newPage}
	}
	h.freeBlock(plane, data)
	h.dataBlock[vbn] = target
	h.retargetMappings(vbn, plane, target, coverage)
	for _, lb := range logs {
		if lb != target {
			h.freeBlock(plane, lb)
		}
	}
	delete(h.logBlocks, vbn)
	h.stats.Add("ftl.hybrid.partial_merges", 1)
}

// fullMerge (reorder merge): pages for vbn are scattered and out of order
// across the log chain and/or the old data block; replay them in logical
// order into a freshly allocated block, then retire everything else.
func (h *HybridMapper) fullMerge(vbn uint32, plane uint32, logs []*Block, coverage []pal.LPN, now pal.Tick) {
	fresh := h.mustAllocBlock(plane)
	for offset := uint32(0); offset < h.pagesPerBlock; offset++ {
		lpn := coverage[offset]
		if lpn == pal.InvalidLPN {
			continue
		}
		newPage := fresh.WritePage(lpn)
		h.submit(plane, fresh, newPage, pal.OpWrite, now)
		h.logOf[lpn] = logSlot{block: fresh, page: newPage}
	}
	if old := h.dataBlock[vbn]; old != nil {
		h.freeBlock(plane, old)
	}
	for _, lb := range logs {
		h.freeBlock(plane, lb)
	}
	h.dataBlock[vbn] = fresh
	delete(h.logBlocks, vbn)
	h.stats.Add("ftl.hybrid.full_merges", 1)
}

// retargetMappings removes the log shadow entries for every LPN now served
// directly out of the promoted data block.
func (h *HybridMapper) retargetMappings(vbn uint32, plane uint32, block *Block, coverage []pal.LPN) {
	for _, lpn := range coverage {
		if lpn != pal.InvalidLPN {
			delete(h.logOf, lpn)
		}
	}
}

// MergeStats returns the cumulative merge counts by kind, for tests/stats.
func (h *HybridMapper) MergeStats() (switchN, partialN, fullN uint64) {
	return h.stats.Get("ftl.hybrid.switch_merges"), h.stats.Get("ftl.hybrid.partial_merges"), h.stats.Get("ftl.hybrid.full_merges")
}
