// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Discrete-event scheduler: a monotonic picosecond clock and a priority
// queue of (tick, event) pairs, dispatched single-threaded and
// cooperatively. No goroutines, no locking — every subsystem in this
// module is expected to be driven exclusively through an *Engine.

package simcore

import (
	"container/heap"
	"fmt"
)

// Tick is a picosecond-resolution point (or duration) in simulated time.
type Tick uint64

// Callback receives the current tick and the event's user-data word when
// the event fires.
type Callback func(now Tick, data uint64)

// EventID is a stable handle returned by Engine.Allocate. It remains valid
// (and reusable across many Schedule calls) until Deallocate is called.
type EventID uint64

const invalidEventID EventID = 0

// event is the allocated, possibly-pending state for one EventID.
type event struct {
	id      EventID
	cb      Callback
	name    string
	data    uint64
	pending bool
	at      Tick
	heapIdx int
	seq     uint64
}

// Engine is the single-threaded discrete-event scheduler. Zero value is not
// usable; construct with NewEngine.
type Engine struct {
	now      Tick
	nextID   EventID
	nextSeq  uint64
	events   map[EventID]*event
	queue    eventHeap
	running  bool
}

// NewEngine constructs an empty Engine with the clock at tick 0.
func NewEngine() *Engine {
	return &Engine{
		nextID: 1,
		events: make(map[EventID]*event),
	}
}

// Now returns the engine's current tick.
func (e *Engine) Now() Tick { return e.now }

// Allocate registers a callback under a stable EventID. The event starts
// unscheduled. name is used only for debugging/panic diagnostics.
func (e *Engine) Allocate(name string, cb Callback) EventID {
	if cb == nil {
		panic("simcore: Allocate with nil callback")
	}
	id := e.nextID
	e.nextID++
	e.events[id] = &event{id: id, cb: cb, name: name, heapIdx: -1}
	return id
}

// Deallocate releases an event. It is a programmer error to deallocate a
// pending event.
func (e *Engine) Deallocate(id EventID) {
	ev := e.mustEvent(id, "Deallocate")
	if ev.pending {
		panic(fmt.Sprintf("simcore: Deallocate(%q): event is still scheduled", ev.name))
	}
	delete(e.events, id)
}

// Schedule inserts (at, id) into the priority queue, ordered by (at ASC,
// insertion-sequence ASC). It is a programmer error to schedule an event
// that is already pending — use Deschedule first, or Reschedule.
func (e *Engine) Schedule(id EventID, at Tick) {
	ev := e.mustEvent(id, "Schedule")
	if ev.pending {
		panic(fmt.Sprintf("simcore: Schedule(%q): event already pending at tick %d", ev.name, ev.at))
	}
	e.push(ev, at)
}

// Reschedule moves a pending event to a new tick, or schedules it if it was
// not pending. Unlike Schedule, re-scheduling an already-pending event is
// not an error — the caller has explicitly opted into "reschedule"
// semantics rather than "schedule once" semantics.
func (e *Engine) Reschedule(id EventID, at Tick) {
	ev := e.mustEvent(id, "Reschedule")
	if ev.pending {
		e.removeFromHeap(ev)
	}
	e.push(ev, at)
}

// ScheduleNow schedules id to fire at the current tick.
func (e *Engine) ScheduleNow(id EventID) { e.Schedule(id, e.now) }

// ScheduleRel schedules id to fire delta picoseconds from now. A negative
// delta (i.e. overflow on the unsigned subtraction) is a programmer error.
func (e *Engine) ScheduleRel(id EventID, delta Tick) {
	e.Schedule(id, e.now+delta)
}

// Deschedule removes a pending entry for id. No-op if id is not pending.
func (e *Engine) Deschedule(id EventID) {
	ev := e.mustEvent(id, "Deschedule")
	if ev.pending {
		e.removeFromHeap(ev)
	}
}

// IsScheduled reports whether id is currently pending, and if so at which
// tick.
func (e *Engine) IsScheduled(id EventID) (bool, Tick) {
	ev := e.mustEvent(id, "IsScheduled")
	return ev.pending, ev.at
}

// SetData overwrites the user-data word delivered to the callback on next
// fire. Safe to call whether or not the event is pending.
func (e *Engine) SetData(id EventID, data uint64) {
	e.mustEvent(id, "SetData").data = data
}

func (e *Engine) push(ev *event, at Tick) {
	ev.pending = true
	ev.at = at
	ev.seq = e.nextSeq
	e.nextSeq++
	heap.Push(&e.queue, ev)
}

func (e *Engine) removeFromHeap(ev *event) {
	if ev.heapIdx < 0 || ev.heapIdx >= len(e.queue) || e.queue[ev.heapIdx] != ev {
		panic("simcore: internal heap index corruption")
	}
	heap.Remove(&e.queue, ev.heapIdx)
	ev.pending = false
}

func (e *Engine) mustEvent(id EventID, op string) *event {
	ev, ok := e.events[id]
	if !ok {
		panic(fmt.Sprintf("simcore: %s: unknown or deallocated event id %d", op, id))
	}
	return ev
}

// RunOne pops and dispatches the single earliest-pending event, advancing
// Now() to its tick. It is a no-op returning false if the queue is empty.
// The clock never moves backwards; firing an event at a tick earlier than
// Now() (which cannot happen through the public API, but would indicate
// heap corruption) is fatal.
func (e *Engine) RunOne() bool {
	if len(e.queue) == 0 {
		return false
	}
	ev := heap.Pop(&e.queue).(*event)
	ev.pending = false
	if ev.at < e.now {
		panic(fmt.Sprintf("simcore: event %q scheduled in the past (%d < %d)", ev.name, ev.at, e.now))
	}
	e.now = ev.at
	ev.cb(e.now, ev.data)
	return true
}

// RunUntil dispatches events until the queue is empty or the next pending
// event's tick exceeds limit. On return Now() is either the tick of the
// last dispatched event, or unchanged if nothing fired before limit.
func (e *Engine) RunUntil(limit Tick) {
	for len(e.queue) > 0 && e.queue[0].at <= limit {
		e.RunOne()
	}
}

// Pending reports the number of currently-scheduled events.
func (e *Engine) Pending() int { return len(e.queue) }

// eventHeap implements container/heap.Interface, ordered by (at ASC, seq
// ASC) so that equal-tick events fire in insertion order — the determinism
// guarantee required by spec.md §4.1.
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*event)
	ev.heapIdx = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.heapIdx = -1
	*h = old[:n-1]
	return ev
}
