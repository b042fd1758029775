// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvme

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/dswarbrick/ssdsim/disk"
	"github.com/dswarbrick/ssdsim/dma"
	"github.com/dswarbrick/ssdsim/icl"
	"github.com/dswarbrick/ssdsim/logging"
	"github.com/dswarbrick/ssdsim/pal"
	"github.com/dswarbrick/ssdsim/simcore"
	"github.com/dswarbrick/ssdsim/transport"
)

// Namespace mirrors spec.md §3's Namespace type.
type Namespace struct {
	NSID           uint32
	LBASize        uint32
	LBACount       uint64
	LBAFormatIndex uint8
	LPNStart       pal.LPN
	LPNEnd         pal.LPN // half-open
	AttachSet      map[uint32]bool
}

// CapacityBytes returns LBACount*LBASize.
func (ns *Namespace) CapacityBytes() uint64 { return ns.LBACount * uint64(ns.LBASize) }

// lbasPerLine reports how many LBAs make up one ICL cache line, which must
// divide evenly: the subsystem's lineSize is always a multiple of every
// configured LBA size.
func (ns *Namespace) lbasPerLine(lineSize uint32) uint32 { return lineSize / ns.LBASize }

// Subsystem owns all namespaces, the shared ICL/FTL/PAL stack, host memory,
// and the set of controllers attached to it — the sole owner in the
// Controller <-> Subsystem <-> Command reference cycle (DESIGN NOTES).
type Subsystem struct {
	Eng   *simcore.Engine
	Cache *icl.Cache
	PAL   *pal.PAL2
	Geom  *pal.Geometry
	Log   zerolog.Logger

	HostMem disk.Store
	Upstream transport.DMAInterface
	PRP      *dma.PRPEngine
	SGL      *dma.SGLEngine

	lineSize uint32

	namespaces map[uint32]*Namespace
	nextNSID   uint32

	controllers map[uint32]*Controller
	nextCtrlID  uint32

	changedNS     map[uint32]bool
	changedNSFull bool // >1024 unique ids accumulated, spec.md §4.7

	pendingAEN []*pendingAsyncEvent

	lpnCursor pal.LPN
	totalLPN  pal.LPN
}

type pendingAsyncEvent struct {
	ctrl *Controller
	cmd  *Command
}

// NewSubsystem constructs an empty subsystem over the given ICL/PAL stack.
func NewSubsystem(eng *simcore.Engine, cache *icl.Cache, palv *pal.PAL2, geom *pal.Geometry, hostMem disk.Store, upstream transport.DMAInterface, pageSize uint32) *Subsystem {
	return &Subsystem{
		Eng: eng, Cache: cache, PAL: palv, Geom: geom,
		Log:     logging.New("nvme"),
		HostMem: hostMem, Upstream: upstream,
		PRP:         &dma.PRPEngine{PageSize: pageSize},
		SGL:         &dma.SGLEngine{},
		lineSize:    pageSize,
		namespaces:  make(map[uint32]*Namespace),
		controllers: make(map[uint32]*Controller),
		changedNS:   make(map[uint32]bool),
		nextNSID:    1,
		nextCtrlID:  1,
		totalLPN:    pal.LPN(geom.TotalPages()),
	}
}

// CreateNamespace allocates a fresh, disjoint LPN range for a namespace of
// lbaCount LBAs of lbaSize bytes each, per spec.md §3's invariant
// ("namespace ranges are disjoint and subsets of [0, total_logical_pages)").
func (s *Subsystem) CreateNamespace(lbaSize uint32, lbaCount uint64, lbaFormat uint8) (*Namespace, StatusCode) {
	bytesNeeded := lbaCount * uint64(lbaSize)
	pagesNeeded := pal.LPN((bytesNeeded + uint64(s.lineSize) - 1) / uint64(s.lineSize))
	if s.lpnCursor+pagesNeeded > s.totalLPN {
		return nil, StatusCode(0x0100 | 0x14) // capacity exceeded
	}
	ns := &Namespace{
		NSID: s.nextNSID, LBASize: lbaSize, LBACount: lbaCount, LBAFormatIndex: lbaFormat,
		LPNStart: s.lpnCursor, LPNEnd: s.lpnCursor + pagesNeeded,
		AttachSet: make(map[uint32]bool),
	}
	s.lpnCursor += pagesNeeded
	s.namespaces[ns.NSID] = ns
	s.nextNSID++
	s.markChanged(ns.NSID)
	return ns, StatusSuccess
}

// DeleteNamespace frees ns's range bookkeeping (the LPN range itself is not
// reclaimed for reuse in this model — namespace ids/ranges are allocated
// once, matching the teacher's append-only drivedb style rather than
// introducing a free-list we'd need to checkpoint).
func (s *Subsystem) DeleteNamespace(nsid uint32) StatusCode {
	ns, ok := s.namespaces[nsid]
	if !ok {
		return StatusNamespaceNotFound
	}
	s.Cache.Invalidate(ns.LPNStart, ns.LPNEnd)
	delete(s.namespaces, nsid)
	s.markChanged(nsid)
	return StatusSuccess
}

// Namespace looks up an active namespace by id.
func (s *Subsystem) Namespace(nsid uint32) (*Namespace, bool) {
	ns, ok := s.namespaces[nsid]
	return ns, ok
}

// SortedNamespaceIDs returns every active nsid, ascending — used by
// Identify's Active Namespace ID list and by the Flush(0xFFFFFFFF) path.
func (s *Subsystem) SortedNamespaceIDs() []uint32 {
	ids := make([]uint32, 0, len(s.namespaces))
	for id := range s.namespaces {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// markChanged records nsid in the Changed Namespace List log page, per
// spec.md §4.7's overflow rule: once more than 1024 unique ids have
// accumulated, the log collapses to the single sentinel 0xFFFFFFFF.
func (s *Subsystem) markChanged(nsid uint32) {
	if s.changedNSFull {
		return
	}
	s.changedNS[nsid] = true
	if len(s.changedNS) > 1024 {
		s.changedNSFull = true
		s.changedNS = map[uint32]bool{0xFFFFFFFF: true}
	}
	s.raiseAEN(AENNamespaceAttributeChanged)
}

// ChangedNamespaceList returns the current log page contents.
func (s *Subsystem) ChangedNamespaceList() []uint32 {
	ids := make([]uint32, 0, len(s.changedNS))
	for id := range s.changedNS {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AENType identifies the class of asynchronous event, per spec.md §4.7.
type AENType uint8

const (
	AENNamespaceAttributeChanged AENType = iota
	AENSMARTThreshold
)

// raiseAEN completes the oldest parked Async Event Request, if any,
// fan-out per spec.md §4.7 ("parked per controller; completes when a
// matching event... is queued by the subsystem").
func (s *Subsystem) raiseAEN(t AENType) {
	if len(s.pendingAEN) == 0 {
		return
	}
	p := s.pendingAEN[0]
	s.pendingAEN = s.pendingAEN[1:]
	completeAsyncEvent(p.ctrl, p.cmd, t)
}

// AttachController registers a new controller on this subsystem, with
// independent admin SQ/CQ space and arbitrator state (spec.md §3:
// "Controller... one subsystem may own multiple controllers").
func (s *Subsystem) AttachController(reg *Registers) *Controller {
	c := &Controller{
		ID:        s.nextCtrlID,
		Regs:      reg,
		sqs:       make(map[uint16]*SubmissionQueue),
		cqs:       make(map[uint16]*CompletionQueue),
		pending:   make(map[GCID]*Command),
		irqCounts: make(map[uint16]uint64),
		features:  newFeatures(),
		sys:       s,
	}
	c.Arb = NewArbitrator(c)
	s.controllers[c.ID] = c
	s.nextCtrlID++
	return c
}

// Controller is one NVMe controller within the subsystem: register space,
// SQ/CQ lists, and its own arbitrator, per spec.md §3.
type Controller struct {
	ID   uint32
	Regs *Registers
	Arb  *Arbitrator
	sys  *Subsystem

	sqs map[uint16]*SubmissionQueue
	cqs map[uint16]*CompletionQueue

	features features
	pending  map[GCID]*Command

	irqEvents map[uint16]simcore.EventID
	irqCounts map[uint16]uint64
}

// Subsystem returns the owning subsystem (non-owning back-reference, per
// DESIGN NOTES).
func (c *Controller) Subsystem() *Subsystem { return c.sys }

// CreateAdminQueues wires the admin SQ/CQ (id 0, fixed by AQA/ASQ/ACQ) into
// the controller, called once when CC.EN transitions 0->1.
func (c *Controller) CreateAdminQueues() {
	aqaSQ := uint16(c.Regs.AQA&0xFFFF) + 1
	aqaCQ := uint16(c.Regs.AQA>>16) + 1
	c.sqs[0] = NewSubmissionQueue(0, 0, aqaSQ, c.Regs.ASQ, PriorityUrgent)
	c.sqs[0].State = SQActive
	c.cqs[0] = NewCompletionQueue(0, aqaCQ, c.Regs.ACQ, 0)
	c.cqs[0].State = CQActive
}

// SQ/CQ returns the queue with the given id, if any.
func (c *Controller) SQ(id uint16) (*SubmissionQueue, bool) { q, ok := c.sqs[id]; return q, ok }
func (c *Controller) CQ(id uint16) (*CompletionQueue, bool) { q, ok := c.cqs[id]; return q, ok }

func (c *Controller) addSQ(q *SubmissionQueue) { c.sqs[q.ID] = q }
func (c *Controller) addCQ(q *CompletionQueue) { c.cqs[q.ID] = q }
func (c *Controller) removeSQ(id uint16)       { delete(c.sqs, id) }
func (c *Controller) removeCQ(id uint16)       { delete(c.cqs, id) }

// PushCompletion writes a 16-byte CQ entry at the tail, toggles phase, and
// raises the CQ's interrupt vector, per spec.md §4.7.
func (c *Controller) PushCompletion(cq *CompletionQueue, sqid uint16, sqHead uint16, cid uint16, status StatusCode, dw0 uint32) {
	if cq.Full() {
		if sq, ok := c.SQ(sqid); ok {
			sq.State = SQPaused
		}
		return
	}
	slot, phase := cq.Reserve()
	entry := make([]byte, 16)
	putLE32(entry[0:4], dw0)
	putLE16(entry[8:10], sqHead)
	putLE16(entry[10:12], sqid)
	putLE16(entry[12:14], cid)
	status16 := uint16(status)<<1 | uint16(phase)
	putLE16(entry[14:16], status16)
	if c.sys.HostMem != nil {
		if err := c.sys.HostMem.WriteAt(int64(cq.EntryAddr(slot)), entry); err != nil {
			panic(fmt.Sprintf("nvme: CQ write at %#x: %v", cq.EntryAddr(slot), err))
		}
	}
	c.raiseInterrupt(cq)
}

// raiseInterrupt models MSI-X delivery as an unconditional, uncoalesced
// signal — interrupt coalescing (time,count) batching is a deliberate
// simplification the spec leaves unspecified beyond naming it (spec.md
// §4.7).
func (c *Controller) raiseInterrupt(cq *CompletionQueue) {
	if c.Regs.INTMS&(1<<cq.IRQVector) != 0 {
		return // masked
	}
	if c.irqEvents == nil {
		c.irqEvents = make(map[uint16]simcore.EventID)
	}
	id, ok := c.irqEvents[cq.IRQVector]
	if !ok {
		vec := cq.IRQVector
		id = c.sys.Eng.Allocate("nvme.irq", func(now simcore.Tick, _ uint64) {
			c.irqCounts[vec]++
		})
		c.irqEvents[cq.IRQVector] = id
	}
	if pending, _ := c.sys.Eng.IsScheduled(id); !pending {
		c.sys.Eng.ScheduleNow(id)
	}
}

// IRQCount reports how many times vector has fired, for tests/stats.
func (c *Controller) IRQCount(vector uint16) uint64 { return c.irqCounts[vector] }

func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
