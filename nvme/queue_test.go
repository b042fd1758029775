// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvme

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Creating an IO SQ that names a nonexistent CQ fails with
// StatusInvalidCompletionQueue (spec.md §8, queue-creation invariant).
func TestCreateIOSQRejectsUnknownCQ(t *testing.T) {
	h := newE2EHarness(t)

	sq0, ok := h.ctrl.SQ(0)
	require.True(t, ok)
	entry := SQEntry{
		Opcode: OpCreateIOSQ,
		CID:    100,
		CDW10:  uint32(2) | uint32(15)<<16, // qid=2, size=16
		CDW11:  uint32(99) << 16,           // cqid=99, which was never created
		PRP1:   e2eIOSQAddr + e2ePageSize,
	}
	SubmitCommand(h.sys, h.ctrl, sq0, entry)
	RunArbitration(h.ctrl, h.eng.Now())
	runAllE2E(h.eng)

	cq0, _ := h.ctrl.CQ(0)
	raw := make([]byte, 16)
	require.NoError(t, h.hostMem.ReadAt(int64(cq0.EntryAddr(uint16(h.adminSlot))), raw))
	_, _, _, _, status, _ := decodeCQEntry(raw)
	require.Equal(t, StatusInvalidCompletionQueue, status)
}

// Creating an IO CQ/SQ with a qid that already exists fails with
// StatusInvalidQueueIdentifier rather than silently replacing the queue.
func TestCreateIOCQRejectsDuplicateQID(t *testing.T) {
	h := newE2EHarness(t)
	h.adminSlot = 2 // newE2EHarness already created CQ id 1 and SQ id 1

	sq0, ok := h.ctrl.SQ(0)
	require.True(t, ok)
	entry := SQEntry{
		Opcode: OpCreateIOCQ,
		CID:    101,
		CDW10:  uint32(1) | uint32(15)<<16, // qid=1 again
		PRP1:   e2eIOCQAddr + e2ePageSize,
	}
	SubmitCommand(h.sys, h.ctrl, sq0, entry)
	RunArbitration(h.ctrl, h.eng.Now())
	runAllE2E(h.eng)

	cq0, _ := h.ctrl.CQ(0)
	raw := make([]byte, 16)
	require.NoError(t, h.hostMem.ReadAt(int64(cq0.EntryAddr(uint16(h.adminSlot))), raw))
	_, _, _, _, status, _ := decodeCQEntry(raw)
	require.Equal(t, StatusInvalidQueueIdentifier, status)
}

// Creating a queue with size > MQES+1 fails with StatusInvalidQueueSize
// (spec.md §8, queue-creation invariant).
func TestCreateIOCQRejectsOversizedQueue(t *testing.T) {
	h := newE2EHarness(t)
	h.adminSlot = 2

	mqes := h.ctrl.Regs.MQES()
	sq0, ok := h.ctrl.SQ(0)
	require.True(t, ok)
	entry := SQEntry{
		Opcode: OpCreateIOCQ,
		CID:    103,
		CDW10:  uint32(2) | uint32(mqes+1)<<16, // size = mqes+2, one over the limit
		PRP1:   e2eIOCQAddr + e2ePageSize,
	}
	SubmitCommand(h.sys, h.ctrl, sq0, entry)
	RunArbitration(h.ctrl, h.eng.Now())
	runAllE2E(h.eng)

	cq0, _ := h.ctrl.CQ(0)
	raw := make([]byte, 16)
	require.NoError(t, h.hostMem.ReadAt(int64(cq0.EntryAddr(uint16(h.adminSlot))), raw))
	_, _, _, _, status, _ := decodeCQEntry(raw)
	require.Equal(t, StatusInvalidQueueSize, status)
}

// Deleting a CQ that still has an SQ pointed at it fails with
// StatusInvalidQueueDeletion.
func TestDeleteIOCQRejectsWhileSQAttached(t *testing.T) {
	h := newE2EHarness(t)
	h.adminSlot = 2

	sq0, ok := h.ctrl.SQ(0)
	require.True(t, ok)
	entry := SQEntry{Opcode: OpDeleteIOCQ, CID: 102, CDW10: 1}
	SubmitCommand(h.sys, h.ctrl, sq0, entry)
	RunArbitration(h.ctrl, h.eng.Now())
	runAllE2E(h.eng)

	cq0, _ := h.ctrl.CQ(0)
	raw := make([]byte, 16)
	require.NoError(t, h.hostMem.ReadAt(int64(cq0.EntryAddr(uint16(h.adminSlot))), raw))
	_, _, _, _, status, _ := decodeCQEntry(raw)
	require.Equal(t, StatusInvalidQueueDeletion, status)
}
