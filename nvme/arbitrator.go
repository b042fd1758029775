// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvme

import (
	"github.com/dswarbrick/ssdsim/pal"
	"github.com/dswarbrick/ssdsim/simcore"
)

// ArbitrationScheme is CC.AMS, per spec.md §4.7.
type ArbitrationScheme uint8

const (
	SchemeRoundRobin ArbitrationScheme = iota
	SchemeWeightedRoundRobin
)

// ArbitrationData holds the per-controller scheme and WRR burst/weight
// configuration, set via Set Features (Arbitration), per spec.md §4.7.
type ArbitrationData struct {
	Scheme             ArbitrationScheme
	ArbitrationBurst   uint8 // AB = 2^this value; 0b111 means "no limit"
	HighPriorityWeight uint8 // HPW entries serviced per High-priority queue per round
	MedPriorityWeight  uint8
	LowPriorityWeight  uint8
}

// burst returns AB, the number of entries fetched per selected queue per
// visit (unlimited encodes as a large sentinel rather than a literal
// infinity, since the cycle always terminates on empty queues anyway).
func (a ArbitrationData) burst() uint16 {
	if a.ArbitrationBurst == 0x7 {
		return 1 << 12
	}
	return uint16(1) << a.ArbitrationBurst
}

// Arbitrator drives one controller's SQ servicing cycle, per spec.md §4.7:
// visit Urgent round-robin up to AB entries, then High for HPW, Medium for
// MPW, Low for LPW, fetching and dispatching commands from each selected
// queue in turn.
type Arbitrator struct {
	ctrl *Controller
	data ArbitrationData

	workInterval pal.Tick
	event        simcore.EventID
	running      bool

	rrCursor map[Priority]int
}

// NewArbitrator constructs an Arbitrator with the NVMe-mandated default of
// round-robin, AB=1, all weights 1.
func NewArbitrator(c *Controller) *Arbitrator {
	return &Arbitrator{
		ctrl: c,
		data: ArbitrationData{Scheme: SchemeRoundRobin, ArbitrationBurst: 0, HighPriorityWeight: 1, MedPriorityWeight: 1, LowPriorityWeight: 1},
		rrCursor: map[Priority]int{
			PriorityUrgent: 0, PriorityHigh: 0, PriorityMedium: 0, PriorityLow: 0,
		},
	}
}

// SetData updates the live arbitration configuration (Set Features,
// Feature ID 0x01).
func (a *Arbitrator) SetData(d ArbitrationData) { a.data = d }

// Data returns the current arbitration configuration (Get Features).
func (a *Arbitrator) Data() ArbitrationData { return a.data }

// Start begins the periodic arbitration cycle at the given work interval
// (ticks between cycles), re-scheduling itself after every pass.
func (a *Arbitrator) Start(eng *simcore.Engine, workInterval pal.Tick) {
	a.workInterval = workInterval
	if a.running {
		return
	}
	a.running = true
	a.event = eng.Allocate("nvme.arbitration", func(now simcore.Tick, _ uint64) {
		a.cycle(now)
		eng.Reschedule(a.event, now+simcore.Tick(a.workInterval))
	})
	eng.ScheduleRel(a.event, simcore.Tick(workInterval))
}

// Stop halts the cycle (controller disabled, CC.EN -> 0).
func (a *Arbitrator) Stop(eng *simcore.Engine) {
	if !a.running {
		return
	}
	a.running = false
	eng.Deschedule(a.event)
	eng.Deallocate(a.event)
}

// classOf buckets a priority class's active SQIDs, in ascending id order for
// determinism.
func (a *Arbitrator) classOf(p Priority) []uint16 {
	var ids []uint16
	for id, q := range a.ctrl.sqs {
		if q.Priority == p && q.State == SQActive {
			ids = append(ids, id)
		}
	}
	sortU16(ids)
	return ids
}

// cycle runs one arbitration pass, per spec.md §4.7.
func (a *Arbitrator) cycle(now simcore.Tick) {
	ab := a.data.burst()

	a.serviceRoundRobin(PriorityUrgent, ab, now)
	if a.data.Scheme == SchemeWeightedRoundRobin {
		a.serviceRoundRobin(PriorityHigh, uint16(a.data.HighPriorityWeight)*ab, now)
		a.serviceRoundRobin(PriorityMedium, uint16(a.data.MedPriorityWeight)*ab, now)
		a.serviceRoundRobin(PriorityLow, uint16(a.data.LowPriorityWeight)*ab, now)
	} else {
		// Strict round robin across every non-Urgent SQ regardless of class.
		a.serviceRoundRobin(PriorityHigh, ab, now)
		a.serviceRoundRobin(PriorityMedium, ab, now)
		a.serviceRoundRobin(PriorityLow, ab, now)
	}
}

// serviceRoundRobin visits every active SQ of class p, round-robin, each
// getting up to budget entries fetched in this visit.
func (a *Arbitrator) serviceRoundRobin(p Priority, budget uint16, now simcore.Tick) {
	ids := a.classOf(p)
	if len(ids) == 0 || budget == 0 {
		return
	}
	start := a.rrCursor[p] % len(ids)
	for i := 0; i < len(ids); i++ {
		sqid := ids[(start+i)%len(ids)]
		a.fetchAndDispatch(sqid, budget, now)
	}
	a.rrCursor[p] = (start + 1) % len(ids)
}

// fetchAndDispatch pulls up to n entries from sqid (bounded by its current
// depth), fetching each 64-byte entry via the upstream transport (modeling
// the device-side DMA read of host-resident submission queue memory) and
// dispatching it to the matching command handler.
func (a *Arbitrator) fetchAndDispatch(sqid uint16, n uint16, now simcore.Tick) {
	sq, ok := a.ctrl.SQ(sqid)
	if !ok || sq.State != SQActive {
		return
	}
	depth := sq.Depth()
	if depth == 0 {
		return
	}
	if n > depth {
		n = depth
	}
	sys := a.ctrl.sys
	for i := uint16(0); i < n; i++ {
		slot := sq.Head()
		addr := sq.EntryAddr(slot)
		raw := make([]byte, 64)
		if sys.Upstream != nil {
			sys.Upstream.Read(addr, raw, now, func(at simcore.Tick) {
				a.dispatchEntry(sq, decodeSQEntry(raw), at)
			})
		} else {
			a.dispatchEntry(sq, decodeSQEntry(raw), now)
		}
		sq.Advance(1)
	}
}

func (a *Arbitrator) dispatchEntry(sq *SubmissionQueue, entry SQEntry, now simcore.Tick) {
	dispatch(a.ctrl, sq.ID, entry, now)
}

func decodeSQEntry(b []byte) SQEntry {
	var e SQEntry
	e.Opcode = b[0]
	e.Flags = b[1]
	e.CID = leU16(b[2:4])
	e.NSID = leU32(b[4:8])
	e.PRP1 = leU64(b[24:32])
	e.PRP2 = leU64(b[32:40])
	copy(e.SGL1[:], b[24:40])
	e.CDW10 = leU32(b[40:44])
	e.CDW11 = leU32(b[44:48])
	e.CDW12 = leU32(b[48:52])
	e.CDW13 = leU32(b[52:56])
	e.CDW14 = leU32(b[56:60])
	e.CDW15 = leU32(b[60:64])
	return e
}

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leU64(b []byte) uint64 {
	return uint64(leU32(b[0:4])) | uint64(leU32(b[4:8]))<<32
}

func sortU16(s []uint16) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
