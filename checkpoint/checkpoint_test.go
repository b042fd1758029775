// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package checkpoint

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// A sequence of scalars, a blob, and an event round-trip in the order
// written, with exact values preserved.
func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Scalar(uint32(42))
	w.Blob([]byte("hello checkpoint"))
	w.Event(7, true, 12345)
	w.Scalar(uint64(0xdeadbeef))
	require.NoError(t, w.Err())
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	var scalar1 uint32
	r.Scalar(&scalar1)
	require.Equal(t, uint32(42), scalar1)

	require.Equal(t, []byte("hello checkpoint"), r.Blob())

	id, pending, tick := r.Event()
	require.Equal(t, uint64(7), id)
	require.True(t, pending)
	require.Equal(t, uint64(12345), tick)

	var scalar2 uint64
	r.Scalar(&scalar2)
	require.Equal(t, uint64(0xdeadbeef), scalar2)

	require.NoError(t, r.Err())
}

// A zero-length blob round-trips as an empty, non-nil slice.
func TestWriterEmptyBlob(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Blob(nil)
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	got := r.Blob()
	require.NoError(t, r.Err())
	require.Len(t, got, 0)
}

// A false pending flag round-trips as false, not just nonzero-as-true.
func TestWriterEventFalsePending(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Event(1, false, 0)
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	id, pending, tick := r.Event()
	require.Equal(t, uint64(1), id)
	require.False(t, pending)
	require.Equal(t, uint64(0), tick)
}

// Once a Writer hits an error, subsequent calls are no-ops and Flush
// reports the original error.
func TestWriterStopsAfterError(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	w.err = ErrTruncated
	w.Scalar(uint32(1))
	w.Blob([]byte("x"))
	require.Equal(t, ErrTruncated, w.Err())
	require.Equal(t, ErrTruncated, w.Flush())
}

// Reading past the end of a short stream surfaces an error rather than
// panicking or returning zero values silently.
func TestReaderDetectsTruncation(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Scalar(uint32(1))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	var a, b uint32
	r.Scalar(&a)
	r.Scalar(&b)
	require.Error(t, r.Err())
}
