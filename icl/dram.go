// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Memory-controller timing models routed to by the cache's metadata (SRAM)
// and data (DRAM) accesses, per spec.md §4.5 ("routed to memory-controller
// models (Simple or JEDEC-timing) not further specified here"). spec.md §1
// treats the actual energy accounting (libDRAMPower-style) as an opaque,
// out-of-scope energy sink; only the timing half is modeled here.
package icl

import "github.com/dswarbrick/ssdsim/pal"

// MemoryModel is the capability trait both concrete memory timing models
// (SimpleMemory and JEDECMemory, its only implementations) satisfy.
type MemoryModel interface {
	Read(addr uint64, bytes uint32) pal.Tick
	Write(addr uint64, bytes uint32) pal.Tick
}

// SimpleMemory is a flat fixed-overhead-plus-bandwidth model: every access
// costs a constant latency plus bytes/bandwidth, regardless of address.
type SimpleMemory struct {
	FixedPs      pal.Tick
	BandwidthBps float64
}

func (m *SimpleMemory) Read(addr uint64, bytes uint32) pal.Tick  { return m.access(bytes) }
func (m *SimpleMemory) Write(addr uint64, bytes uint32) pal.Tick { return m.access(bytes) }

func (m *SimpleMemory) access(bytes uint32) pal.Tick {
	if m.BandwidthBps <= 0 {
		return m.FixedPs
	}
	seconds := float64(bytes) / m.BandwidthBps
	return m.FixedPs + pal.Tick(seconds*1e12)
}

// JEDECMemory approximates row-buffer-aware DDR timing: an access to the
// currently open row in a bank pays only tCL; any other access pays a
// precharge (tRP) plus activate (tRCD) plus tCL, and opens that row.
// Addresses are mapped to banks by a fixed bank-interleave stride.
type JEDECMemory struct {
	TRCD, TRP, TCL pal.Tick
	BandwidthBps   float64
	NumBanks       uint32
	BankStride     uint64 // bytes per bank-interleave unit

	openRow []int64 // per bank, -1 if no row open
}

// NewJEDECMemory constructs a JEDEC-timing model with numBanks independent
// row buffers, all initially closed.
func NewJEDECMemory(trcd, trp, tcl pal.Tick, bandwidthBps float64, numBanks uint32, bankStride uint64) *JEDECMemory {
	rows := make([]int64, numBanks)
	for i := range rows {
		rows[i] = -1
	}
	return &JEDECMemory{
		TRCD: trcd, TRP: trp, TCL: tcl,
		BandwidthBps: bandwidthBps, NumBanks: numBanks, BankStride: bankStride,
		openRow: rows,
	}
}

func (m *JEDECMemory) bankAndRow(addr uint64) (bank uint32, row int64) {
	unit := addr / m.BankStride
	bank = uint32(unit % uint64(m.NumBanks))
	row = int64(unit / uint64(m.NumBanks))
	return bank, row
}

func (m *JEDECMemory) access(addr uint64, bytes uint32) pal.Tick {
	bank, row := m.bankAndRow(addr)
	latency := m.TCL
	if m.openRow[bank] != row {
		if m.openRow[bank] >= 0 {
			latency += m.TRP
		}
		latency += m.TRCD
		m.openRow[bank] = row
	}
	if m.BandwidthBps > 0 {
		seconds := float64(bytes) / m.BandwidthBps
		latency += pal.Tick(seconds * 1e12)
	}
	return latency
}

func (m *JEDECMemory) Read(addr uint64, bytes uint32) pal.Tick  { return m.access(addr, bytes) }
func (m *JEDECMemory) Write(addr uint64, bytes uint32) pal.Tick { return m.access(addr, bytes) }
