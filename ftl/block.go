// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package ftl implements the flash translation layer: logical-to-physical
// page mapping, the free/active/victim block pool, garbage collection, and
// wear tracking, per spec.md §3 ("Block (FTL)") and §4.4.
package ftl

import (
	"fmt"

	"github.com/dswarbrick/ssdsim/pal"
)

// Block mirrors spec.md's "Block (FTL)" type: a physical erase unit tracked
// by validity bitmap, erase count, and per-page back-references used by GC
// to know which LPN to rewrite when relocating a valid page.
type Block struct {
	Index      uint32 // flat physical block index, see Mapper.blockAt
	PageCount  uint32
	valid      []bool
	lpnOf      []pal.LPN // back-reference per page; pal.InvalidLPN if never written
	nextWrite  uint32 // next unwritten page, PageCount once full
	eraseCount uint64
}

// NewBlock constructs an erased block with pageCount pages.
func NewBlock(index, pageCount uint32) *Block {
	b := &Block{
		Index:     index,
		PageCount: pageCount,
		valid:     make([]bool, pageCount),
		lpnOf:     make([]pal.LPN, pageCount),
	}
	b.reset()
	return b
}

func (b *Block) reset() {
	for i := range b.valid {
		b.valid[i] = false
		b.lpnOf[i] = pal.InvalidLPN
	}
	b.nextWrite = 0
}

// CanWrite reports whether the block has at least one unwritten page left.
func (b *Block) CanWrite() bool { return b.nextWrite < b.PageCount }

// WritePage claims the next sequential page for lpn and marks it valid.
// Pages within a block must be written in ascending order, matching NAND's
// program constraint; out-of-order programming is a programmer error.
func (b *Block) WritePage(lpn pal.LPN) uint32 {
	if !b.CanWrite() {
		panic(fmt.Sprintf("ftl: block %d has no free pages left", b.Index))
	}
	page := b.nextWrite
	b.valid[page] = true
	b.lpnOf[page] = lpn
	b.nextWrite++
	return page
}

// Invalidate marks page as stale (superseded by a newer write or trimmed).
func (b *Block) Invalidate(page uint32) {
	b.valid[page] = false
}

// ValidCount returns the number of currently valid pages in the block.
func (b *Block) ValidCount() uint32 {
	var n uint32
	for _, v := range b.valid {
		if v {
			n++
		}
	}
	return n
}

// ValidPages returns the (page, lpn) pairs of every still-valid page, used
// by GC to know what must be relocated before the block can be erased.
func (b *Block) ValidPages() []struct {
	Page uint32
	LPN  pal.LPN
} {
	var out []struct {
		Page uint32
		LPN  pal.LPN
	}
	for i, v := range b.valid {
		if v {
			out = append(out, struct {
				Page uint32
				LPN  pal.LPN
			}{uint32(i), b.lpnOf[i]})
		}
	}
	return out
}

// Erase resets the block to the all-erased, all-invalid state and bumps
// its erase count. The caller is responsible for having relocated any
// still-valid pages first; Erase does not check this (GC invariant,
// not re-verified here).
func (b *Block) Erase() {
	b.reset()
	b.eraseCount++
}

func (b *Block) EraseCount() uint64 { return b.eraseCount }

func (b *Block) IsFull() bool { return b.nextWrite >= b.PageCount }
