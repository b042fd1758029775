// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvme

import "github.com/dswarbrick/ssdsim/pal"

// Priority is an SQ's arbitration class, per spec.md §4.7.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// SQState is a submission queue's lifecycle state, per spec.md §3/§4.7.
type SQState int

const (
	SQCreated SQState = iota
	SQActive
	SQPaused
	SQPendingDelete
)

// CQState is a completion queue's lifecycle state.
type CQState int

const (
	CQCreated CQState = iota
	CQActive
	CQPendingDelete
)

// SubmissionQueue is a host-memory circular buffer of 64-byte command
// entries, per spec.md §3 ("NVMe queues").
type SubmissionQueue struct {
	ID       uint16
	CQID     uint16
	Size     uint16 // entry count
	BaseAddr uint64
	Priority Priority
	State    SQState

	head uint16 // device-tracked shadow
	tail uint16 // last doorbell value observed

	pendingFetch map[uint16]bool // allocated empty and never populated; Abort searches Controller.pending
}

// NewSubmissionQueue constructs an SQ in the Created state.
func NewSubmissionQueue(id, cqid, size uint16, baseAddr uint64, prio Priority) *SubmissionQueue {
	return &SubmissionQueue{
		ID: id, CQID: cqid, Size: size, BaseAddr: baseAddr, Priority: prio,
		State:        SQCreated,
		pendingFetch: make(map[uint16]bool),
	}
}

// Head returns the device's current shadow head pointer.
func (q *SubmissionQueue) Head() uint16 { return q.head }

// SetTail records a new tail doorbell value.
func (q *SubmissionQueue) SetTail(tail uint16) { q.tail = tail }

// Depth reports the number of outstanding (unfetched) entries.
func (q *SubmissionQueue) Depth() uint16 {
	if q.tail >= q.head {
		return q.tail - q.head
	}
	return q.Size - q.head + q.tail
}

// EntryAddr returns the host-memory address of SQ slot idx (mod Size).
func (q *SubmissionQueue) EntryAddr(idx uint16) uint64 {
	const entrySize = 64
	return q.BaseAddr + uint64(idx%q.Size)*entrySize
}

// Advance moves the shadow head forward by n entries, modulo Size.
func (q *SubmissionQueue) Advance(n uint16) {
	q.head = (q.head + n) % q.Size
}

// CompletionQueue is a host-memory circular buffer of 16-byte completion
// entries.
type CompletionQueue struct {
	ID        uint16
	Size      uint16
	BaseAddr  uint64
	IRQVector uint16
	State     CQState

	tail  uint16 // device-tracked write pointer
	head  uint16 // last doorbell value observed from host
	phase uint8  // toggles each time tail wraps
}

// NewCompletionQueue constructs a CQ in the Created state, phase bit 1
// (the NVMe-mandated initial phase tag value).
func NewCompletionQueue(id, size uint16, baseAddr uint64, irqVector uint16) *CompletionQueue {
	return &CompletionQueue{ID: id, Size: size, BaseAddr: baseAddr, IRQVector: irqVector, State: CQCreated, phase: 1}
}

// EntryAddr returns the host-memory address of CQ slot idx (mod Size).
func (q *CompletionQueue) EntryAddr(idx uint16) uint64 {
	const entrySize = 16
	return q.BaseAddr + uint64(idx%q.Size)*entrySize
}

// Full reports whether the device's write pointer has caught up to the
// host's last-acknowledged head — spec.md §3's SQ "Paused (due to CQ
// full...)" trigger.
func (q *CompletionQueue) Full() bool {
	return (q.tail+1)%q.Size == q.head
}

// SetHead records a new head doorbell value from the host.
func (q *CompletionQueue) SetHead(head uint16) { q.head = head }

// Reserve claims the next CQ slot and returns (slot, phase), advancing the
// write pointer and toggling phase on wraparound.
func (q *CompletionQueue) Reserve() (slot uint16, phase uint8) {
	slot = q.tail
	phase = q.phase
	q.tail++
	if q.tail == q.Size {
		q.tail = 0
		if q.phase == 1 {
			q.phase = 0
		} else {
			q.phase = 1
		}
	}
	return slot, phase
}

// GCID globally identifies one in-flight command across every controller
// in the subsystem, per spec.md §3: (controller_id << 32) | ccid.
type GCID uint64

// MakeGCID packs a controller id and command id into a GCID.
func MakeGCID(controllerID uint32, ccid uint32) GCID {
	return GCID(uint64(controllerID)<<32 | uint64(ccid))
}

// CmdState is a command's lifecycle state, per spec.md §4.7.
type CmdState int

const (
	CmdFetched CmdState = iota
	CmdDMAInit
	CmdInFlight
	CmdCompleting
	CmdDone
)

// SQEntry is the host-filled 64-byte submission queue entry, decoded into
// the fields the command handlers need. Reserved/opcode-specific dwords
// are kept raw (CDW10..CDW15) and interpreted per-opcode.
type SQEntry struct {
	Opcode uint8
	Flags  uint8
	CID    uint16
	NSID   uint32
	PRP1   uint64
	PRP2   uint64
	SGL1   [16]byte
	CDW10  uint32
	CDW11  uint32
	CDW12  uint32
	CDW13  uint32
	CDW14  uint32
	CDW15  uint32
}

// usesSGL reports whether bit 0 of Flags (PSDT) selects SGL rather than
// PRP descriptors.
func (e *SQEntry) usesSGL() bool { return e.Flags&0x1 != 0 }

// Command is the per-GCID in-flight bookkeeping, per spec.md §3
// ("SQContext").
type Command struct {
	GCID  GCID
	SQID  uint16
	CID   uint16
	State CmdState
	Entry SQEntry

	// LPNRange is filled in by Read and Write once
	// the namespace's LBA range has been validated, for Abort diagnostics
	// and stats only.
	LPNRange [2]pal.LPN

	aborted bool
}
