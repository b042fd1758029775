// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package dma

import "github.com/dswarbrick/ssdsim/disk"

// PRPEngine resolves NVMe Physical Region Page descriptors, per spec.md
// §4.6, against a configured host memory page size.
type PRPEngine struct {
	PageSize uint32
}

// Resolve implements Engine for PRP1/PRP2.
func (e *PRPEngine) Resolve(host disk.Store, desc Descriptor, size uint32) ([]Segment, Status) {
	pgsz := uint64(e.PageSize)
	prp1 := desc.PRP1
	if prp1 == 0 {
		return nil, StatusInvalidField
	}
	firstRemainder := pgsz - prp1%pgsz

	if uint64(size) <= firstRemainder {
		return []Segment{{HostAddr: prp1, Length: size}}, StatusOK
	}

	prp2 := desc.PRP2
	if prp2 == 0 {
		return nil, StatusInvalidField
	}

	if uint64(size) <= pgsz {
		return []Segment{
			{HostAddr: prp1, Length: uint32(firstRemainder)},
			{HostAddr: prp2, Length: size - uint32(firstRemainder)},
		}, StatusOK
	}

	// PRP2 is a PRP list: walk it (chaining to further lists as needed),
	// then resolve the remaining (size - firstRemainder) bytes against the
	// page-sized entries it names.
	segs := []Segment{{HostAddr: prp1, Length: uint32(firstRemainder)}}
	remaining := size - uint32(firstRemainder)
	listAddr := prp2

	entriesPerPage := pgsz/8 - 1
	for remaining > 0 {
		if listAddr%pgsz != 0 {
			return nil, StatusInvalidSGL
		}
		raw := make([]byte, pgsz)
		if err := host.ReadAt(int64(listAddr), raw); err != nil {
			return nil, StatusInvalidField
		}
		var i uint64
		for i = 0; i < entriesPerPage && remaining > 0; i++ {
			ptr := leUint64(raw[i*8:])
			n := uint32(pgsz)
			if n > remaining {
				n = remaining
			}
			segs = append(segs, Segment{HostAddr: ptr, Length: n})
			remaining -= n
		}
		if remaining == 0 {
			break
		}
		// Last entry in a full list chains to the next PRP list.
		listAddr = leUint64(raw[entriesPerPage*8:])
		if listAddr == 0 {
			return nil, StatusInvalidSGL
		}
	}
	return segs, StatusOK
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
