// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package disk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreReadWriteRoundTrip(t *testing.T) {
	m := NewMemoryStore(4096)
	want := []byte("hello, ssdsim")
	require.NoError(t, m.WriteAt(100, want))

	got := make([]byte, len(want))
	require.NoError(t, m.ReadAt(100, got))
	require.Equal(t, want, got)
}

func TestMemoryStoreOutOfBounds(t *testing.T) {
	m := NewMemoryStore(16)
	require.Error(t, m.WriteAt(10, make([]byte, 16)))
	require.Error(t, m.ReadAt(-1, make([]byte, 1)))
	require.Error(t, m.ReadAt(0, make([]byte, 17)))
}

func TestMemoryStoreErase(t *testing.T) {
	m := NewMemoryStore(16)
	require.NoError(t, m.WriteAt(0, []byte{1, 2, 3, 4}))
	require.NoError(t, m.Erase(0, 4))

	got := make([]byte, 4)
	require.NoError(t, m.ReadAt(0, got))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, got)
}

// COWStore leaves the backing store untouched: a write lands only in the
// overlay, and reading the backing store directly still returns its
// original bytes.
func TestCOWStoreLeavesBackingUntouched(t *testing.T) {
	backing := NewMemoryStore(4096)
	require.NoError(t, backing.WriteAt(0, []byte{0xAA, 0xAA, 0xAA, 0xAA}))

	cow := NewCOWStore(backing, 512)
	require.NoError(t, cow.WriteAt(0, []byte{0xBB, 0xBB}))

	got := make([]byte, 2)
	require.NoError(t, cow.ReadAt(0, got))
	require.Equal(t, []byte{0xBB, 0xBB}, got)

	backingGot := make([]byte, 2)
	require.NoError(t, backing.ReadAt(0, backingGot))
	require.Equal(t, []byte{0xAA, 0xAA}, backingGot)
}

// A write spanning a page boundary only copy-shadows the pages it touches,
// and a read spanning the boundary reassembles overlay and backing bytes
// correctly.
func TestCOWStoreStraddlesPageBoundary(t *testing.T) {
	backing := NewMemoryStore(4096)
	for i := 0; i < 4096; i++ {
		_ = backing.WriteAt(int64(i), []byte{0x11})
	}

	cow := NewCOWStore(backing, 512)
	// Write 4 bytes straddling the 512-byte page boundary at offset 510.
	require.NoError(t, cow.WriteAt(510, []byte{1, 2, 3, 4}))

	got := make([]byte, 8)
	require.NoError(t, cow.ReadAt(508, got))
	require.Equal(t, []byte{0x11, 0x11, 1, 2, 3, 4, 0x11, 0x11}, got)

	require.NoError(t, cow.Erase(0, 4096))
	got2 := make([]byte, 4)
	require.NoError(t, cow.ReadAt(510, got2))
	require.Equal(t, []byte{0x11, 0x11, 0x11, 0x11}, got2, "erase must drop the overlay, exposing backing contents again")
}
