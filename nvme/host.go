// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Host-side helpers: encoding a command into the 64-byte submission queue
// entry layout and driving the doorbell MMIO path, for use by the CLI
// runner and by tests that need to submit NVMe commands without a real
// host driver.
package nvme

import "github.com/dswarbrick/ssdsim/simcore"

// EncodeSQEntry packs e into the 64-byte host-memory layout arbitrator.go's
// decodeSQEntry reads back.
func EncodeSQEntry(e SQEntry) []byte {
	b := make([]byte, 64)
	b[0] = e.Opcode
	b[1] = e.Flags
	putLE16(b[2:4], e.CID)
	putLE32(b[4:8], e.NSID)
	if e.Flags&0x1 != 0 {
		copy(b[24:40], e.SGL1[:])
	} else {
		putLE64(b[24:32], e.PRP1)
		putLE64(b[32:40], e.PRP2)
	}
	putLE32(b[40:44], e.CDW10)
	putLE32(b[44:48], e.CDW11)
	putLE32(b[48:52], e.CDW12)
	putLE32(b[52:56], e.CDW13)
	putLE32(b[56:60], e.CDW14)
	putLE32(b[60:64], e.CDW15)
	return b
}

// MMIOWrite applies a 4-byte register write and, for a doorbell offset,
// propagates the new tail/head value into the matching SQ/CQ shadow state
// — the bridge between the raw Registers file (which only remembers "the
// last value written") and the arbitrator's SubmissionQueue.tail /
// CompletionQueue.head, which actually gate fetch and completion.
func (c *Controller) MMIOWrite(offset uint32, val uint32) {
	c.Regs.WriteDword(offset, val)
	for qid, sq := range c.sqs {
		if tail, ok := c.Regs.SQTail(qid); ok {
			sq.SetTail(tail)
		}
	}
	for qid, cq := range c.cqs {
		head, ok := c.Regs.CQHead(qid)
		if !ok {
			continue
		}
		cq.SetHead(head)
		if cq.Full() {
			continue
		}
		for _, sq := range c.sqs {
			if sq.CQID == cq.ID && sq.State == SQPaused {
				sq.State = SQActive
			}
		}
	}
}

// SubmitCommand writes entry into sq's next host-memory slot, advances the
// doorbell tail by one, and applies it through MMIOWrite — the moral
// equivalent of a host driver building an SQE and ringing the doorbell.
// It panics if sq has no backing host memory, since there would be nothing
// for the arbitrator to later fetch.
func SubmitCommand(sys *Subsystem, ctrl *Controller, sq *SubmissionQueue, entry SQEntry) {
	if sys.HostMem == nil {
		panic("nvme: SubmitCommand: subsystem has no host memory backing")
	}
	tail, _ := ctrl.Regs.SQTail(sq.ID)
	slot := tail
	addr := sq.EntryAddr(slot)
	raw := EncodeSQEntry(entry)
	if err := sys.HostMem.WriteAt(int64(addr), raw); err != nil {
		panic("nvme: SubmitCommand: host memory write: " + err.Error())
	}
	newTail := (tail + 1) % sq.Size
	ctrl.MMIOWrite(ctrl.Regs.sqDoorbellOffset(sq.ID), uint32(newTail))
}

// RunArbitration ticks every controller's arbitrator once outside the
// normal periodic Start/Stop cadence, for tests that want deterministic,
// single-step control over when fetch/dispatch happens.
func RunArbitration(ctrl *Controller, now simcore.Tick) {
	ctrl.Arb.cycle(now)
}
