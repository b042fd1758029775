// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package dma implements the PRP and SGL host-memory scatter/gather
// engines, per spec.md §4.6. Both resolve a command's host-memory
// descriptor into a list of (host_addr, length) segments and drive them
// through an upstream transport.DMAInterface (the FIFO), completing once
// every segment has.
package dma

import (
	"fmt"

	"github.com/dswarbrick/ssdsim/disk"
	"github.com/dswarbrick/ssdsim/simcore"
	"github.com/dswarbrick/ssdsim/transport"
)

// Segment is one contiguous host-memory range resolved from a PRP/SGL
// descriptor.
type Segment struct {
	HostAddr uint64
	Length   uint32
}

// Status is the handful of descriptor-resolution failures spec.md §4.6
// calls out as command-completion statuses rather than programmer errors.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidField
	StatusInvalidSGL
)

// Engine is the common PRP/SGL capability: resolve a descriptor into
// segments totaling size, then move buf to/from those segments through
// upstream.
type Engine interface {
	Resolve(host disk.Store, desc Descriptor, size uint32) ([]Segment, Status)
}

// Descriptor carries whichever fixed fields a command's SQ entry supplies;
// PRP engines read PRP1/PRP2, SGL engines read the first 16-byte SGL
// descriptor inline in the command.
type Descriptor struct {
	PRP1, PRP2 uint64
	SGL1       [16]byte
}

// Move issues every segment in segs against upstream, splitting buf to
// match, and fires done once all segments have completed — the shared
// completion counter of spec.md §4.6.
func Move(upstream transport.DMAInterface, segs []Segment, buf []byte, isWrite bool, now simcore.Tick, done func(now simcore.Tick)) {
	total := uint32(0)
	for _, s := range segs {
		total += s.Length
	}
	if total != uint32(len(buf)) {
		panic(fmt.Sprintf("dma: segment lengths (%d) do not match buffer size (%d)", total, len(buf)))
	}
	if len(segs) == 0 {
		done(now)
		return
	}

	remaining := len(segs)
	finish := now
	off := uint32(0)
	for _, s := range segs {
		chunk := buf[off : off+s.Length]
		off += s.Length
		cb := func(at simcore.Tick) {
			remaining--
			if at > finish {
				finish = at
			}
			if remaining == 0 {
				done(finish)
			}
		}
		if isWrite {
			upstream.Write(s.HostAddr, chunk, now, cb)
		} else {
			upstream.Read(s.HostAddr, chunk, now, cb)
		}
	}
}
