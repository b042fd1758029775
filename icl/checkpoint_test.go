// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package icl

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/ssdsim/checkpoint"
	"github.com/dswarbrick/ssdsim/pal"
)

// A cache's line tags/states/clock stamps survive a checkpoint/restore round
// trip into a freshly constructed cache of the same sets/ways shape.
func TestCacheCheckpointRoundTrip(t *testing.T) {
	src, eng := newTestCache(t, Config{ReadEnable: true, WriteEnable: true})

	buf := make([]byte, lineSize)
	src.Write(1, buf, 0, func(now pal.Tick) {})
	src.Write(2, buf, 0, func(now pal.Tick) {})
	runAll(eng)

	var out bytes.Buffer
	w := checkpoint.NewWriter(&out)
	src.CreateCheckpoint(w)
	require.NoError(t, w.Flush())

	dst, _ := newTestCache(t, Config{ReadEnable: true, WriteEnable: true})
	r := checkpoint.NewReader(&out)
	dst.RestoreCheckpoint(r)
	require.NoError(t, r.Err())

	require.Equal(t, src.clock, dst.clock)
	for si := range src.sets {
		for li := range src.sets[si].lines {
			wantLine := src.sets[si].lines[li]
			gotLine := dst.sets[si].lines[li]
			require.Equal(t, wantLine.Tag, gotLine.Tag)
			require.Equal(t, wantLine.State, gotLine.State)
			require.Equal(t, wantLine.ClockStamp, gotLine.ClockStamp)
			require.Empty(t, gotLine.waiters)
		}
	}
}

// Restoring into a cache with a different sets/ways shape panics rather than
// silently corrupting state.
func TestCacheCheckpointRejectsShapeMismatch(t *testing.T) {
	src, eng := newTestCache(t, Config{ReadEnable: true, WriteEnable: true})
	src.Write(1, make([]byte, lineSize), 0, func(now pal.Tick) {})
	runAll(eng)

	var out bytes.Buffer
	w := checkpoint.NewWriter(&out)
	src.CreateCheckpoint(w)
	require.NoError(t, w.Flush())

	dstEng := eng
	dst := NewCache(dstEng, src.mapper, src.media, Config{Sets: 2, Ways: 4, LineSize: lineSize, ReadEnable: true, WriteEnable: true})
	r := checkpoint.NewReader(&out)
	require.Panics(t, func() { dst.RestoreCheckpoint(r) })
}
