// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package pal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrRoundTrip(t *testing.T) {
	g := NewGeometry(2, 1, 4, 2, 8, 16, DefaultOrder)

	for c := uint32(0); c < 2; c++ {
		for d := uint32(0); d < 4; d++ {
			for pl := uint32(0); pl < 2; pl++ {
				for b := uint32(0); b < 8; b++ {
					for pg := uint32(0); pg < 16; pg++ {
						a := CPDPBP{Channel: c, Package: 0, Die: d, Plane: pl, Block: b, Page: pg}
						ppn := g.Assemble(a)
						got := g.Disassemble(ppn)
						require.Equal(t, a, got)
					}
				}
			}
		}
	}
}

func TestAddrDefaultOrderStripesChannel(t *testing.T) {
	g := NewGeometry(4, 1, 1, 1, 1, 1, DefaultOrder)

	p0 := g.Assemble(CPDPBP{Channel: 0})
	p1 := g.Assemble(CPDPBP{Channel: 1})
	require.Equal(t, PPN(1), p1-p0, "channel must be the least-significant packed field")
}

func TestAddrOutOfRangePanics(t *testing.T) {
	g := NewGeometry(2, 1, 1, 1, 1, 1, DefaultOrder)
	require.Panics(t, func() {
		g.Assemble(CPDPBP{Channel: 2})
	})
}

func TestEraseGroupPPNs(t *testing.T) {
	group := EraseGroupPPNs(PPN(13), 4)
	require.Equal(t, []PPN{12, 13, 14, 15}, group)
}
