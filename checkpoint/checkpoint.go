// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Checkpoint I/O: each subsystem writes a sequence of length-prefixed
// blobs; restore reads them back in the same order. Per spec.md §6 the byte
// layout is explicitly not a stable interchange format — only same-binary
// save/restore round trips are supported.
package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Writer appends BACKUP_SCALAR / BACKUP_BLOB / BACKUP_EVENT records to an
// underlying io.Writer.
type Writer struct {
	w   *bufio.Writer
	err error
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: bufio.NewWriter(w)} }

// Scalar writes a fixed-width little-endian scalar (any of the uint8/16/32/64
// or int variants, via binary.Write).
func (w *Writer) Scalar(v any) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.LittleEndian, v)
}

// Blob writes a length-prefixed byte slice.
func (w *Writer) Blob(b []byte) {
	if w.err != nil {
		return
	}
	if w.err = binary.Write(w.w, binary.LittleEndian, uint32(len(b))); w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

// Event writes an (eventID, pending bool, tick) triple — the minimal state
// needed to rewire a simcore.EventID across restore, per DESIGN NOTES
// ("checkpoint of pointers" — only stable ids are ever persisted).
func (w *Writer) Event(id uint64, pending bool, tick uint64) {
	w.Scalar(id)
	var p uint8
	if pending {
		p = 1
	}
	w.Scalar(p)
	w.Scalar(tick)
}

// Err returns the first error encountered, if any.
func (w *Writer) Err() error { return w.err }

// Flush flushes the underlying buffered writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// Reader is the restore-side counterpart of Writer; calls must mirror the
// exact sequence of Writer calls used to produce the stream.
type Reader struct {
	r   io.Reader
	err error
}

func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

func (r *Reader) Scalar(v any) {
	if r.err != nil {
		return
	}
	r.err = binary.Read(r.r, binary.LittleEndian, v)
}

func (r *Reader) Blob() []byte {
	if r.err != nil {
		return nil
	}
	var n uint32
	if r.err = binary.Read(r.r, binary.LittleEndian, &n); r.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, r.err = io.ReadFull(r.r, buf); r.err != nil {
		return nil
	}
	return buf
}

// Event reads back an (id, pending, tick) triple written by Writer.Event.
func (r *Reader) Event() (id uint64, pending bool, tick uint64) {
	r.Scalar(&id)
	var p uint8
	r.Scalar(&p)
	r.Scalar(&tick)
	return id, p != 0, tick
}

func (r *Reader) Err() error { return r.err }

// ErrTruncated names a truncated checkpoint record. Reader does not return
// it: a short read surfaces as the error reported by encoding/binary or
// io.ReadFull.
var ErrTruncated = fmt.Errorf("checkpoint: truncated record")
