// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Miscellaneous utility functions

package utils

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"math/bits"
	"unsafe"
)

var (
	NativeEndian binary.ByteOrder
)

// Determine native endianness of system
func init() {
	i := uint32(1)
	b := (*[4]byte)(unsafe.Pointer(&i))
	if b[0] == 1 {
		NativeEndian = binary.LittleEndian
	} else {
		NativeEndian = binary.BigEndian
	}
}

func FormatBigBytes(v *big.Int) string {
	var i int

	suffixes := [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}
	d := big.NewInt(1)

	for i = 0; i < len(suffixes)-1; i++ {
		if v.Cmp(new(big.Int).Mul(d, big.NewInt(1000))) == 1 {
			d.Mul(d, big.NewInt(1000))
		} else {
			break
		}
	}

	if i == 0 {
		return fmt.Sprintf("%d %s", v, suffixes[i])
	} else {
		// TODO: Implement 3 significant digit printing as per formatBytes()
		return fmt.Sprintf("%d %s", v.Div(v, d), suffixes[i])
	}
}

// FormatBytes formats a uint64 byte quantity using human-readble units, e.g. kilobyte, megabyte.
func FormatBytes(v uint64) string {
	var i int

	// Only populate to exabyte, since we are constrained by uint64 limit
	suffixes := [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}
	d := uint64(1)

	for i = 0; i < len(suffixes)-1; i++ {
		if v >= d*1000 {
			d *= 1000
		} else {
			break
		}
	}

	if i == 0 {
		return fmt.Sprintf("%d %s", v, suffixes[i])
	} else {
		// Print 3 significant digits
		return fmt.Sprintf("%.3g %s", float64(v)/float64(d), suffixes[i])
	}
}

// Log2b finds the most significant bit set in a uint.
func Log2b(x uint) int {
	if x == 0 {
		return 0
	}

	return bits.Len(x) - 1
}

// IsPowerOfTwo reports whether x is an exact power of two.
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}

// LE128ToString formats a little-endian 128-bit counter (supplied as a
// 16-byte slice, e.g. an NVMe SMART log field) as a decimal string.
func LE128ToString(v [16]byte) string {
	lo := binary.LittleEndian.Uint64(v[:8])
	hi := binary.LittleEndian.Uint64(v[8:])

	if hi != 0 {
		return fmt.Sprintf("~%.0f", float64(hi)*0x10000000000000000+float64(lo))
	}
	return fmt.Sprintf("%d", lo)
}

// PutLE128 writes v into a 16-byte little-endian counter field.
func PutLE128(v uint64) [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint64(out[:8], v)
	return out
}
