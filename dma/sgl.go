// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package dma

import "github.com/dswarbrick/ssdsim/disk"

// sglType is the upper nibble of an SGL descriptor's type byte (byte 15),
// per spec.md §4.6.
type sglType uint8

const (
	sglDataBlock     sglType = 0x0
	sglBitBucket     sglType = 0x1
	sglSegment       sglType = 0x2
	sglLastSegment   sglType = 0x3
	sglKeyedDataBlock sglType = 0x4
)

// descSize is the fixed 16-byte width of every SGL descriptor.
const descSize = 16

// SGLEngine resolves NVMe Scatter Gather List descriptor chains.
type SGLEngine struct{}

// Resolve implements Engine, walking the chain starting at desc.SGL1.
func (e *SGLEngine) Resolve(host disk.Store, desc Descriptor, size uint32) ([]Segment, Status) {
	var segs []Segment
	total := uint32(0)
	cur := desc.SGL1[:]

chain:
	for {
		addr, length, typ := decodeSGL(cur)
		switch typ {
		case sglDataBlock, sglKeyedDataBlock:
			segs = append(segs, Segment{HostAddr: addr, Length: length})
			total += length
			if total >= size {
				return segs, StatusOK
			}
			return nil, StatusInvalidSGL // exhausted chain shorter than size
		case sglBitBucket:
			total += length // discarded, but still accounted for in size
			if total >= size {
				return segs, StatusOK
			}
			return nil, StatusInvalidSGL
		case sglSegment, sglLastSegment:
			if length == 0 || length%descSize != 0 {
				return nil, StatusInvalidSGL
			}
			raw := make([]byte, length)
			if err := host.ReadAt(int64(addr), raw); err != nil {
				return nil, StatusInvalidField
			}
			n := int(length) / descSize
			for i := 0; i < n; i++ {
				d := raw[i*descSize : (i+1)*descSize]
				a, l, t := decodeSGL(d)
				if t == sglSegment || t == sglLastSegment {
					if i != n-1 {
						return nil, StatusInvalidSGL // chaining descriptor must be last in its segment
					}
					cur = d
					continue chain
				}
				segs = append(segs, Segment{HostAddr: a, Length: l})
				total += l
			}
			if total >= size {
				return segs, StatusOK
			}
			return nil, StatusInvalidSGL
		default:
			return nil, StatusInvalidSGL
		}
	}
}

// decodeSGL unpacks one 16-byte descriptor (little-endian address/length,
// type in the upper nibble of the final byte).
func decodeSGL(d []byte) (addr uint64, length uint32, typ sglType) {
	addr = leUint64(d[0:8])
	length = leUint32(d[8:12])
	typ = sglType(d[15] >> 4)
	return
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
