// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Per-resource free-slot tracking for the PAL2 timeline scheduler. spec.md
// §3/§9 describe a two-level map<length, map<start,end>>; we use the
// explicitly-sanctioned alternative from DESIGN NOTES ("a single interval
// tree keyed by start_tick... either is fine so long as the
// find_free/insert_free/add_free_slot contracts hold"): one sorted slice of
// disjoint free intervals per channel/die, covering [0, startPoint).

package pal

import "sort"

// interval is a half-open [Start, End) free region.
type interval struct {
	Start Tick
	End   Tick
}

// Tick aliases simcore.Tick's underlying representation without importing
// simcore, keeping pal a leaf package; conversions happen at the PAL2
// boundary.
type Tick = uint64

// FreeSlotMap tracks the unallocated regions of a single channel or die
// timeline. The zero value, via NewFreeSlotMap, has no free regions and
// startPoint 0 — i.e. nothing has ever been allocated.
type FreeSlotMap struct {
	free       []interval // sorted by Start, disjoint
	startPoint Tick
}

// NewFreeSlotMap constructs an empty timeline.
func NewFreeSlotMap() *FreeSlotMap {
	return &FreeSlotMap{}
}

// StartPoint returns the next free tick past all allocated regions.
func (m *FreeSlotMap) StartPoint() Tick { return m.startPoint }

// FindFree locates the earliest slot of at least length ticks, starting at
// or after from. It returns (start, true) on a hit within an existing free
// region, or (start, false) if the request must be pinned past
// startPoint — the caller is responsible for treating a miss as "schedule
// at max(from, startPoint)" per the PAL2 algorithm in spec.md §4.3.
func (m *FreeSlotMap) FindFree(length Tick, from Tick) (Tick, bool) {
	if length == 0 {
		panic("pal: FindFree: zero length")
	}
	// tightest-fit-by-position: earliest free interval, at or after from,
	// that can host length ticks.
	idx := sort.Search(len(m.free), func(i int) bool { return m.free[i].End > from })
	for i := idx; i < len(m.free); i++ {
		iv := m.free[i]
		start := iv.Start
		if start < from {
			start = from
		}
		if iv.End-start >= length {
			return start, true
		}
	}
	pinned := m.startPoint
	if from > pinned {
		pinned = from
	}
	return pinned, false
}

// Alloc marks [start, start+length) as allocated. start must either fall
// within (or extend) an existing free interval, or be >= StartPoint(). It
// is a programmer error to allocate a region that overlaps an already
// allocated region that the caller did not first observe as free — callers
// always derive start from FindFree or from StartPoint().
func (m *FreeSlotMap) Alloc(start, length Tick) {
	end := start + length

	if start >= m.startPoint {
		if start > m.startPoint {
			m.free = append(m.free, interval{Start: m.startPoint, End: start})
		}
		m.startPoint = end
		m.normalize()
		return
	}

	for i, iv := range m.free {
		if start < iv.Start || end > iv.End {
			continue
		}
		// Found the covering free interval; split into remainders.
		var replacement []interval
		if iv.Start < start {
			replacement = append(replacement, interval{Start: iv.Start, End: start})
		}
		if end < iv.End {
			replacement = append(replacement, interval{Start: end, End: iv.End})
		}
		m.free = append(m.free[:i], append(replacement, m.free[i+1:]...)...)
		return
	}
	panic("pal: Alloc: [start,start+length) is not free — scheduler invariant violated")
}

// normalize merges adjacent/overlapping free intervals that can result from
// repeated StartPoint extension, keeping the slice sorted and disjoint.
func (m *FreeSlotMap) normalize() {
	if len(m.free) < 2 {
		return
	}
	sort.Slice(m.free, func(i, j int) bool { return m.free[i].Start < m.free[j].Start })
	out := m.free[:1]
	for _, iv := range m.free[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	m.free = out
}

// Covers reports whether [start, start+length) lies entirely within a free
// region (used by tests verifying the non-overlap invariant).
func (m *FreeSlotMap) Covers(start, length Tick) bool {
	end := start + length
	for _, iv := range m.free {
		if start >= iv.Start && end <= iv.End {
			return true
		}
	}
	return false
}
