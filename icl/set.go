// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package icl

import "github.com/dswarbrick/ssdsim/pal"

// LineState is a cache line's lifecycle stage, per spec.md §3:
// Empty -> ReadPending -> Valid-Clean -> Valid-Dirty -> WritePending ->
// Valid-Clean -> Evicted -> Empty.
type LineState int

const (
	Empty LineState = iota
	ReadPending
	ValidClean
	ValidDirty
	WritePending
	Evicted
)

// Line is one cache way, per spec.md §3 ("ICL line").
type Line struct {
	Tag         pal.LPN
	State       LineState
	ClockStamp  uint16
	waiters     []func(now pal.Tick)
	prefetched  bool
}

func (l *Line) valid() bool {
	return l.State == ValidClean || l.State == ValidDirty || l.State == WritePending
}

func (l *Line) dirty() bool { return l.State == ValidDirty || l.State == WritePending }

// Policy selects the victim-replacement scheme, per spec.md §4.5.
type Policy int

const (
	PolicyRandom Policy = iota
	PolicyFIFO
	PolicyLRU
)

// Granularity controls how many physically-coupled lines evict together,
// per spec.md §4.5 ("Eviction granularity").
type Granularity int

const (
	// GranularityOne evicts exactly the victim line.
	GranularityOne Granularity = iota
	// GranularitySuperpage evicts every line in the same set whose tag
	// shares the victim's superpage group (coupled by plane parallelism).
	GranularitySuperpage
	// GranularityAll evicts every valid line in the set.
	GranularityAll
)

// set holds Cache.ways lines sharing one hash bucket.
type set struct {
	lines []Line
}

func newSet(ways int) *set {
	return &set{lines: make([]Line, ways)}
}

// find returns the way index holding tag, or -1.
func (s *set) find(tag pal.LPN) int {
	for i := range s.lines {
		if s.lines[i].valid() || s.lines[i].State == ReadPending {
			if s.lines[i].Tag == tag {
				return i
			}
		}
	}
	return -1
}

// emptyWay returns the index of an Empty/Evicted way, or -1 if the set is full.
func (s *set) emptyWay() int {
	for i := range s.lines {
		if s.lines[i].State == Empty || s.lines[i].State == Evicted {
			return i
		}
	}
	return -1
}
