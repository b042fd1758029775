// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvme

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/ssdsim/disk"
	"github.com/dswarbrick/ssdsim/ftl"
	"github.com/dswarbrick/ssdsim/icl"
	"github.com/dswarbrick/ssdsim/pal"
	"github.com/dswarbrick/ssdsim/simcore"
	"github.com/dswarbrick/ssdsim/transport"
)

const e2eLatencyFixture = `
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
`

const (
	e2eAdminSQAddr = 0
	e2eAdminCQAddr = 4096
	e2eIOCQAddr    = 8192
	e2eIOSQAddr    = 12288
	e2eDataAddr    = 65536
	e2eData2Addr   = 131072
	e2ePageSize    = 4096
)

// e2eHarness wires one controller/subsystem end to end: real host memory,
// a FIFO transport over it, PAL2/FTL/ICL beneath, and an admin-initialized
// IO queue pair — the moral equivalent of cmd/ssdsim/main.go's run(), scaled
// down to a single small namespace for deterministic scenario tests
// (spec.md §8 S1/S5/S6).
type e2eHarness struct {
	eng     *simcore.Engine
	sys     *Subsystem
	ctrl    *Controller
	hostMem disk.Store

	ioSQ *SubmissionQueue
	ioCQ *CompletionQueue

	adminSlot int
	ioSlot    int
}

func newE2EHarness(t *testing.T) *e2eHarness {
	t.Helper()

	geom := pal.NewGeometry(1, 1, 1, 1, 8, 16, pal.DefaultOrder)
	lat := pal.ParseLatencyModel(e2eLatencyFixture)
	pal2 := pal.NewPAL2(geom, lat, e2ePageSize, 400)
	mapper := ftl.NewMapper(geom, pal2, pal.NandMLC, 0.1, ftl.Greedy)
	media := disk.NewMemoryStore(int64(geom.TotalPages()) * e2ePageSize)
	eng := simcore.NewEngine()

	cache := icl.NewCache(eng, mapper, media, icl.Config{
		Sets: 4, Ways: 4, LineSize: e2ePageSize,
		ReadEnable: true, WriteEnable: true,
		DRAM: &icl.SimpleMemory{FixedPs: 1000, BandwidthBps: 1e10},
	})

	hostMem := disk.NewMemoryStore(1 << 20)
	hostBus := &transport.StoreUpstream{Store: hostMem, Eng: eng}
	fifo := transport.NewFIFO(eng, hostBus, 4096, 512, func(bytes uint64) simcore.Tick {
		return simcore.Tick(bytes)
	})

	sys := NewSubsystem(eng, cache, pal2, geom, hostMem, fifo, e2ePageSize)
	_, status := sys.CreateNamespace(512, 32, 0)
	require.Equal(t, StatusSuccess, status)

	regs := NewRegisters(1023, 0, 30)
	const qSize = 16
	regs.AQA = (qSize-1)<<16 | (qSize - 1)
	regs.ASQ = e2eAdminSQAddr
	regs.ACQ = e2eAdminCQAddr
	ctrl := sys.AttachController(regs)
	regs.CC = 1
	regs.Ready(true)
	ctrl.CreateAdminQueues()

	h := &e2eHarness{eng: eng, sys: sys, ctrl: ctrl, hostMem: hostMem}

	h.submitAdmin(t, SQEntry{
		Opcode: OpCreateIOCQ,
		CDW10:  uint32(1) | uint32(qSize-1)<<16,
		PRP1:   e2eIOCQAddr,
	})
	h.submitAdmin(t, SQEntry{
		Opcode: OpCreateIOSQ,
		CDW10:  uint32(1) | uint32(qSize-1)<<16,
		CDW11:  uint32(1) << 16, // cqid=1, priority urgent
		PRP1:   e2eIOSQAddr,
	})

	h.ioCQ, _ = ctrl.CQ(1)
	h.ioSQ, _ = ctrl.SQ(1)
	return h
}

func runAllE2E(eng *simcore.Engine) {
	for eng.Pending() > 0 {
		eng.RunOne()
	}
}

// submitAdmin drives one admin command to completion and asserts success.
func (h *e2eHarness) submitAdmin(t *testing.T, entry SQEntry) {
	t.Helper()
	sq0, ok := h.ctrl.SQ(0)
	require.True(t, ok)
	SubmitCommand(h.sys, h.ctrl, sq0, entry)
	RunArbitration(h.ctrl, h.eng.Now())
	runAllE2E(h.eng)

	cq0, _ := h.ctrl.CQ(0)
	raw := make([]byte, 16)
	require.NoError(t, h.hostMem.ReadAt(int64(cq0.EntryAddr(uint16(h.adminSlot))), raw))
	_, _, _, _, status, _ := decodeCQEntry(raw)
	require.Equal(t, StatusSuccess, status)
	h.adminSlot++
}

// submitIO submits entry on the IO SQ, runs arbitration until it is fetched,
// and returns the CQ slot it will land in once completed. It does not drain
// the engine, so the caller can inspect in-flight state first.
func (h *e2eHarness) submitIO(t *testing.T, entry SQEntry) int {
	t.Helper()
	SubmitCommand(h.sys, h.ctrl, h.ioSQ, entry)
	RunArbitration(h.ctrl, h.eng.Now())
	slot := h.ioSlot
	h.ioSlot++
	return slot
}

func (h *e2eHarness) cqStatus(t *testing.T, slot int) StatusCode {
	t.Helper()
	raw := make([]byte, 16)
	require.NoError(t, h.hostMem.ReadAt(int64(h.ioCQ.EntryAddr(uint16(slot))), raw))
	_, _, _, _, status, _ := decodeCQEntry(raw)
	return status
}

func decodeCQEntry(raw []byte) (dw0 uint32, sqHead, sqid, cid uint16, status StatusCode, phase uint8) {
	dw0 = leU32(raw[0:4])
	sqHead = leU16(raw[8:10])
	sqid = leU16(raw[10:12])
	cid = leU16(raw[12:14])
	status16 := leU16(raw[14:16])
	return dw0, sqHead, sqid, cid, StatusCode(status16 >> 1), uint8(status16 & 1)
}

// Single 4 KiB write followed by a read-back, matching spec.md §8's S1
// scenario shape: the data returned must equal what was written, with a
// success completion status.
func TestE2ESingleReadAfterWrite(t *testing.T) {
	h := newE2EHarness(t)

	pattern := make([]byte, e2ePageSize)
	for i := range pattern {
		pattern[i] = 0x42
	}
	require.NoError(t, h.hostMem.WriteAt(e2eDataAddr, pattern))

	writeSlot := h.submitIO(t, SQEntry{Opcode: OpWrite, CID: 1, NSID: 1, PRP1: e2eDataAddr, CDW12: 7})
	runAllE2E(h.eng)
	require.Equal(t, StatusSuccess, h.cqStatus(t, writeSlot))

	readBuf := make([]byte, e2ePageSize)
	require.NoError(t, h.hostMem.WriteAt(e2eDataAddr, readBuf)) // clear the host buffer before reading back
	readSlot := h.submitIO(t, SQEntry{Opcode: OpRead, CID: 2, NSID: 1, PRP1: e2eDataAddr, CDW12: 7})
	runAllE2E(h.eng)
	require.Equal(t, StatusSuccess, h.cqStatus(t, readSlot))

	require.NoError(t, h.hostMem.ReadAt(e2eDataAddr, readBuf))
	require.Equal(t, pattern, readBuf)
}

// A Compare command whose host-supplied data does not match the namespace's
// actual contents completes with StatusCompareFailure (spec.md §8 S5).
func TestE2ECompareFailure(t *testing.T) {
	h := newE2EHarness(t)

	written := make([]byte, e2ePageSize)
	for i := range written {
		written[i] = 0xAA
	}
	require.NoError(t, h.hostMem.WriteAt(e2eDataAddr, written))
	writeSlot := h.submitIO(t, SQEntry{Opcode: OpWrite, CID: 1, NSID: 1, PRP1: e2eDataAddr, CDW12: 7})
	runAllE2E(h.eng)
	require.Equal(t, StatusSuccess, h.cqStatus(t, writeSlot))

	mismatched := make([]byte, e2ePageSize)
	for i := range mismatched {
		mismatched[i] = 0xBB
	}
	require.NoError(t, h.hostMem.WriteAt(e2eData2Addr, mismatched))
	compareSlot := h.submitIO(t, SQEntry{Opcode: OpCompare, CID: 2, NSID: 1, PRP1: e2eData2Addr, CDW12: 7})
	runAllE2E(h.eng)
	require.Equal(t, StatusCompareFailure, h.cqStatus(t, compareSlot))
}

// Aborting a command that has already advanced past the fetch stage leaves
// it to run to completion and the Abort itself reports dw0=1 ("not
// aborted"), per spec.md §8 S6 and the handleAbort doc comment.
func TestE2EAbortAlreadyInFlight(t *testing.T) {
	h := newE2EHarness(t)

	buf := make([]byte, e2ePageSize)
	require.NoError(t, h.hostMem.WriteAt(e2eDataAddr, buf))

	readSlot := h.submitIO(t, SQEntry{Opcode: OpRead, CID: 5, NSID: 1, PRP1: e2eDataAddr, CDW12: 7})
	// The read has been fetched and dispatched (RunArbitration above), which
	// flips it straight to CmdInFlight inside handleIORead before any of its
	// async NAND/DMA work completes — so it is no longer sitting at
	// CmdFetched by the time Abort is processed below.

	sq0, ok := h.ctrl.SQ(0)
	require.True(t, ok)
	abortEntry := SQEntry{Opcode: OpAbort, CID: 6, CDW10: uint32(1) | uint32(5)<<16} // target sqid=1, cid=5
	SubmitCommand(h.sys, h.ctrl, sq0, abortEntry)
	RunArbitration(h.ctrl, h.eng.Now())
	abortSlot := h.adminSlot
	h.adminSlot++

	runAllE2E(h.eng)

	cq0, _ := h.ctrl.CQ(0)
	raw := make([]byte, 16)
	require.NoError(t, h.hostMem.ReadAt(int64(cq0.EntryAddr(uint16(abortSlot))), raw))
	dw0, _, _, _, status, _ := decodeCQEntry(raw)
	require.Equal(t, StatusSuccess, status)
	require.Equal(t, uint32(1), dw0, "abort must report dw0=1: target had already progressed past CmdFetched")

	require.Equal(t, StatusSuccess, h.cqStatus(t, readSlot))
}
