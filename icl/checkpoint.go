// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package icl

import (
	"fmt"

	"github.com/dswarbrick/ssdsim/checkpoint"
	"github.com/dswarbrick/ssdsim/pal"
)

// CreateCheckpoint serializes every line's tag, state, clock stamp and
// prefetched bit, plus the cache's global clock counter. A line with
// waiters parked on it (a read still in flight) cannot be checkpointed
// mid-flight — RestoreCheckpoint always reconstructs lines with an empty
// waiter list, so a checkpoint must be taken at a point with no pending
// reads against this cache, matching the "restart between host commands"
// assumption callers already make.
func (c *Cache) CreateCheckpoint(w *checkpoint.Writer) {
	w.Scalar(c.clock)
	w.Scalar(uint32(len(c.sets)))
	w.Scalar(uint32(c.ways))
	for _, s := range c.sets {
		for _, l := range s.lines {
			w.Scalar(uint64(l.Tag))
			w.Scalar(uint8(l.State))
			w.Scalar(l.ClockStamp)
			var pf uint8
			if l.prefetched {
				pf = 1
			}
			w.Scalar(pf)
		}
	}
}

// RestoreCheckpoint overwrites c's line metadata from a stream written by
// CreateCheckpoint. c must have been constructed with the same sets/ways.
func (c *Cache) RestoreCheckpoint(r *checkpoint.Reader) {
	r.Scalar(&c.clock)
	var nSets, nWays uint32
	r.Scalar(&nSets)
	r.Scalar(&nWays)
	if int(nSets) != len(c.sets) || int(nWays) != c.ways {
		panic(fmt.Sprintf("icl: checkpoint shape mismatch: got %dx%d, want %dx%d", nSets, nWays, len(c.sets), c.ways))
	}
	for si := range c.sets {
		for li := range c.sets[si].lines {
			l := &c.sets[si].lines[li]
			var tag uint64
			var state, pf uint8
			r.Scalar(&tag)
			r.Scalar(&state)
			r.Scalar(&l.ClockStamp)
			r.Scalar(&pf)
			l.Tag = pal.LPN(tag)
			l.State = LineState(state)
			l.prefetched = pf != 0
			l.waiters = nil
		}
	}
}
