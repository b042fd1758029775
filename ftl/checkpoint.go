// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package ftl

import (
	"fmt"

	"github.com/dswarbrick/ssdsim/checkpoint"
	"github.com/dswarbrick/ssdsim/pal"
)

// writeCheckpoint appends b's full state: per-page valid bit and
// back-reference LPN, next-write cursor, and erase count. No raw pointers
// are ever written, per DESIGN NOTES ("checkpoint of pointers") — page
// indices and LPNs are the only identifiers that cross the boundary.
func (b *Block) writeCheckpoint(w *checkpoint.Writer) {
	bits := make([]byte, b.PageCount)
	for i, v := range b.valid {
		if v {
			bits[i] = 1
		}
	}
	w.Blob(bits)
	for _, lpn := range b.lpnOf {
		w.Scalar(uint64(lpn))
	}
	w.Scalar(b.nextWrite)
	w.Scalar(b.eraseCount)
}

// restoreCheckpoint overwrites b's state from a stream written by
// writeCheckpoint, for a block of the same PageCount.
func (b *Block) restoreCheckpoint(r *checkpoint.Reader) {
	bits := r.Blob()
	if len(bits) != len(b.valid) {
		panic(fmt.Sprintf("ftl: block %d checkpoint page count mismatch: got %d, want %d", b.Index, len(bits), len(b.valid)))
	}
	for i, v := range bits {
		b.valid[i] = v != 0
	}
	for i := range b.lpnOf {
		var lpn uint64
		r.Scalar(&lpn)
		b.lpnOf[i] = pal.LPN(lpn)
	}
	r.Scalar(&b.nextWrite)
	r.Scalar(&b.eraseCount)
}

// CreateCheckpoint serializes every block's state, each plane's free list,
// active/GC-active block pointers (as flat block indices, ^uint32(0) for none),
// the logical-to-physical map, and the round-robin write cursor.
func (m *Mapper) CreateCheckpoint(w *checkpoint.Writer) {
	w.Scalar(uint32(len(m.blocks)))
	for _, b := range m.blocks {
		b.writeCheckpoint(w)
	}

	w.Scalar(m.numPlanes)
	for plane := uint32(0); plane < m.numPlanes; plane++ {
		free := m.free[plane]
		w.Scalar(uint32(len(free)))
		for _, local := range free {
			w.Scalar(local)
		}
		w.Scalar(activeIndex(m.active[plane]))
		w.Scalar(activeIndex(m.gcActive[plane]))
	}

	w.Scalar(uint32(len(m.l2p)))
	for lpn, ppn := range m.l2p {
		w.Scalar(uint64(lpn))
		w.Scalar(uint32(ppn))
	}

	w.Scalar(m.planeRR)
}

// activeIndex returns b's flat block index, or pal's block sentinel if b is
// nil (plane has no active/GC-active block right now).
func activeIndex(b *Block) uint32 {
	if b == nil {
		return ^uint32(0)
	}
	return b.Index
}

// RestoreCheckpoint overwrites m's full mapping state from a stream written
// by CreateCheckpoint. m must have been constructed with the same geometry
// (block/plane counts) as the checkpoint's source.
func (m *Mapper) RestoreCheckpoint(r *checkpoint.Reader) {
	var nBlocks uint32
	r.Scalar(&nBlocks)
	if int(nBlocks) != len(m.blocks) {
		panic(fmt.Sprintf("ftl: checkpoint block count mismatch: got %d, want %d", nBlocks, len(m.blocks)))
	}
	for _, b := range m.blocks {
		b.restoreCheckpoint(r)
	}

	var nPlanes uint32
	r.Scalar(&nPlanes)
	if nPlanes != m.numPlanes {
		panic(fmt.Sprintf("ftl: checkpoint plane count mismatch: got %d, want %d", nPlanes, m.numPlanes))
	}
	for plane := uint32(0); plane < m.numPlanes; plane++ {
		var n uint32
		r.Scalar(&n)
		free := make([]uint32, n)
		for i := range free {
			r.Scalar(&free[i])
		}
		m.free[plane] = free

		var activeIdx, gcIdx uint32
		r.Scalar(&activeIdx)
		r.Scalar(&gcIdx)
		m.active[plane] = m.resolveActive(activeIdx)
		m.gcActive[plane] = m.resolveActive(gcIdx)
	}

	n := uint32(0)
	r.Scalar(&n)
	m.l2p = make(map[pal.LPN]pal.PPN, n)
	for i := uint32(0); i < n; i++ {
		var lpn uint64
		var ppn uint32
		r.Scalar(&lpn)
		r.Scalar(&ppn)
		m.l2p[pal.LPN(lpn)] = pal.PPN(ppn)
	}

	r.Scalar(&m.planeRR)
}

func (m *Mapper) resolveActive(idx uint32) *Block {
	if idx == ^uint32(0) {
		return nil
	}
	return m.blocks[idx]
}
