// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Address types: the CPDPBP tuple, the bijective PPN packing of it, and the
// typed logical/physical handles used throughout the FTL and PAL2. Mirrors
// the teacher's struct-packing style (fixed-width fields, a reserved
// sentinel, unit comments) from nvme.go, applied to addresses instead of
// wire structures.

package pal

import "fmt"

// LPN is a logical page number, scaled to FTL page granularity.
type LPN uint64

// InvalidLPN is the reserved "not mapped" sentinel.
const InvalidLPN LPN = ^LPN(0)

// PPN is a physical page number, the bijective packing of a CPDPBP tuple.
type PPN uint64

// InvalidPPN is the reserved "no physical page" sentinel.
const InvalidPPN PPN = ^PPN(0)

// PBN is a physical block number (channel/package/die/plane/block, no page).
type PBN uint32

// InvalidPBN is the reserved sentinel.
const InvalidPBN PBN = ^PBN(0)

// CPDPBP is the six-dimensional physical address: channel, package, die,
// plane, block, page.
type CPDPBP struct {
	Channel uint32
	Package uint32
	Die     uint32
	Plane   uint32
	Block   uint32
	Page    uint32
}

// dimension indices into Geometry.Sizes / Geometry.Order.
const (
	DimChannel = iota
	DimPackage
	DimDie
	DimPlane
	DimBlock
	DimPage
	numDims
)

// Geometry describes device sizing and the PPN packing order. Order lists
// dimension indices from least-significant to most-significant; the
// default packs Channel as the least-significant field (reversed from the
// logical CPDPBP hierarchy) so that consecutive PPNs stripe across
// channels.
type Geometry struct {
	Sizes [numDims]uint32
	Order [numDims]int

	bits   [numDims]uint
	shift  [numDims]uint
	maxPPN PPN
}

// DefaultOrder is [Channel, Package, Die, Plane, Block, Page], LSB to MSB.
var DefaultOrder = [numDims]int{DimChannel, DimPackage, DimDie, DimPlane, DimBlock, DimPage}

// NewGeometry validates sizes and an LSB-to-MSB packing order and returns a
// ready-to-use Geometry. A zero size, or an order that is not a permutation
// of the six dimensions, is a fatal configuration error.
func NewGeometry(channels, packages, dies, planes, blocks, pages uint32, order [numDims]int) *Geometry {
	g := &Geometry{
		Sizes: [numDims]uint32{channels, packages, dies, planes, blocks, pages},
		Order: order,
	}
	var seen [numDims]bool
	for _, d := range order {
		if d < 0 || d >= numDims || seen[d] {
			panic("pal: Geometry: order is not a permutation of the six address dimensions")
		}
		seen[d] = true
	}
	var shift uint
	for _, d := range order {
		sz := g.Sizes[d]
		if sz == 0 {
			panic("pal: Geometry: dimension size must be nonzero")
		}
		bits := bitsFor(sz)
		g.bits[d] = bits
		g.shift[d] = shift
		shift += bits
	}
	if shift >= 64 {
		panic("pal: Geometry: address space exceeds 64 bits")
	}
	g.maxPPN = PPN(uint64(1)<<shift) - 1
	return g
}

func bitsFor(n uint32) uint {
	bits := uint(0)
	for (uint32(1) << bits) < n {
		bits++
	}
	if bits == 0 {
		bits = 1
	}
	return bits
}

// MaxPPN returns the largest valid PPN for this geometry (i.e. the total
// page count minus one, rounded up to the packing's bit boundaries).
func (g *Geometry) MaxPPN() PPN { return g.maxPPN }

// TotalPages returns channels*packages*dies*planes*blocks*pages.
func (g *Geometry) TotalPages() uint64 {
	total := uint64(1)
	for _, s := range g.Sizes {
		total *= uint64(s)
	}
	return total
}

// Assemble packs a CPDPBP tuple into a PPN. Panics (programmer error) if any
// field is out of range for its dimension size.
func (g *Geometry) Assemble(a CPDPBP) PPN {
	fields := [numDims]uint32{a.Channel, a.Package, a.Die, a.Plane, a.Block, a.Page}
	var ppn uint64
	for d := 0; d < numDims; d++ {
		if fields[d] >= g.Sizes[d] {
			panic(fmt.Sprintf("pal: Assemble: dimension %d value %d out of range [0,%d)", d, fields[d], g.Sizes[d]))
		}
		ppn |= uint64(fields[d]) << g.shift[d]
	}
	return PPN(ppn)
}

// Disassemble unpacks a PPN into a CPDPBP tuple. Assemble/Disassemble are
// bijective for any PPN <= MaxPPN(): spec.md §8 property 3.
func (g *Geometry) Disassemble(p PPN) CPDPBP {
	if p == InvalidPPN {
		panic("pal: Disassemble: invalid PPN")
	}
	var fields [numDims]uint32
	raw := uint64(p)
	for d := 0; d < numDims; d++ {
		mask := uint64(1)<<g.bits[d] - 1
		fields[d] = uint32((raw >> g.shift[d]) & mask)
	}
	return CPDPBP{
		Channel: fields[DimChannel],
		Package: fields[DimPackage],
		Die:     fields[DimDie],
		Plane:   fields[DimPlane],
		Block:   fields[DimBlock],
		Page:    fields[DimPage],
	}
}

// DieIndex returns a flat index identifying (channel, package, die), for use
// as a map key in the per-die free-slot scheduler.
func (g *Geometry) DieIndex(a CPDPBP) uint32 {
	return (a.Channel*g.Sizes[DimPackage]+a.Package)*g.Sizes[DimDie] + a.Die
}
