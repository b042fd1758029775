// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package icl

import "github.com/dswarbrick/ssdsim/pal"

// PrefetchTrigger watches the stream of host read requests for a sequential
// pattern and signals when Cache should prefetch ahead, per spec.md §4.5.
type PrefetchTrigger struct {
	enabled bool

	lastLPN       pal.LPN
	haveLast      bool
	sequentialHit int
	bytesCovered  uint64
	windowBytes   uint64 // byte span examined for the coverage ratio

	seqThreshold  int
	covRatio      float64 // bytesCovered/windowBytes must reach this to fire
	prefetchPages int
}

// NewPrefetchTrigger constructs a trigger that fires after seqThreshold
// consecutive sequential accesses whose cumulative coverage over the last
// windowBytes reaches covRatio, prefetching prefetchPages LPNs ahead.
func NewPrefetchTrigger(enabled bool, seqThreshold int, covRatio float64, windowBytes uint64, prefetchPages int) *PrefetchTrigger {
	return &PrefetchTrigger{
		enabled:       enabled,
		seqThreshold:  seqThreshold,
		covRatio:      covRatio,
		windowBytes:   windowBytes,
		prefetchPages: prefetchPages,
	}
}

// Observe records one host read of lineSize bytes at lpn and reports
// whether the trigger fires (and, if so, the first LPN to prefetch and how
// many consecutive LPNs to bring in).
func (t *PrefetchTrigger) Observe(lpn pal.LPN, lineSize uint32) (fire bool, start pal.LPN, count int) {
	if !t.enabled {
		return false, 0, 0
	}
	if t.haveLast && lpn == t.lastLPN+1 {
		t.sequentialHit++
		t.bytesCovered += uint64(lineSize)
	} else {
		t.sequentialHit = 1
		t.bytesCovered = uint64(lineSize)
	}
	t.lastLPN = lpn
	t.haveLast = true

	if t.bytesCovered > t.windowBytes {
		t.bytesCovered = t.windowBytes
	}
	ratio := float64(t.bytesCovered) / float64(t.windowBytes)

	if t.sequentialHit >= t.seqThreshold && ratio >= t.covRatio {
		return true, lpn + 1, t.prefetchPages
	}
	return false, 0, 0
}

// Reset clears the sequential-access state, e.g. after a non-sequential
// write invalidates the run.
func (t *PrefetchTrigger) Reset() {
	t.haveLast = false
	t.sequentialHit = 0
	t.bytesCovered = 0
}
