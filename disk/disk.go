// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Disk backend: the byte-addressable store behind the FTL's physical
// pages. spec.md §1 treats this as an external collaborator ("the optional
// backing disk image... treated as an external byte-addressed blob behind a
// simple read/write/erase interface"); this package supplies that
// interface plus three concrete implementations, continuing the teacher's
// direct-syscall style (ioctl.go/sgio.go) via golang.org/x/sys/unix instead
// of re-deriving pread/pwrite/fallocate from the stdlib os package.
package disk

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Store is a byte-addressed backing blob. Offsets and lengths are in bytes.
// Erase need not zero storage immediately; it exists so a backend can
// discard copy-on-write shadow pages or issue a real TRIM.
type Store interface {
	ReadAt(off int64, buf []byte) error
	WriteAt(off int64, buf []byte) error
	Erase(off, length int64) error
	Size() int64
	Close() error
}

// MemoryStore is a plain in-memory backing blob; the default for tests and
// for simulations that don't care about the actual data path, only timing.
type MemoryStore struct {
	data []byte
}

// NewMemoryStore allocates a zero-filled in-memory store of the given size.
func NewMemoryStore(size int64) *MemoryStore {
	return &MemoryStore{data: make([]byte, size)}
}

func (m *MemoryStore) ReadAt(off int64, buf []byte) error {
	if err := m.bounds(off, int64(len(buf))); err != nil {
		return err
	}
	copy(buf, m.data[off:off+int64(len(buf))])
	return nil
}

func (m *MemoryStore) WriteAt(off int64, buf []byte) error {
	if err := m.bounds(off, int64(len(buf))); err != nil {
		return err
	}
	copy(m.data[off:off+int64(len(buf))], buf)
	return nil
}

func (m *MemoryStore) Erase(off, length int64) error {
	if err := m.bounds(off, length); err != nil {
		return err
	}
	for i := off; i < off+length; i++ {
		m.data[i] = 0xFF
	}
	return nil
}

func (m *MemoryStore) Size() int64 { return int64(len(m.data)) }
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) bounds(off, length int64) error {
	if off < 0 || length < 0 || off+length > int64(len(m.data)) {
		return fmt.Errorf("disk: access [%d,%d) out of bounds (size %d)", off, off+length, len(m.data))
	}
	return nil
}

// FileStore is a file-backed store, opened O_DIRECT where the filesystem
// supports it, using pread/pwrite/fallocate directly rather than the
// buffered os.File Read/Write/Seek path.
type FileStore struct {
	fd   int
	size int64
}

// OpenFileStore opens (creating if necessary) a file-backed store of the
// requested size. O_DIRECT is attempted but not required — some
// filesystems (tmpfs, overlayfs) reject it, and falling back to buffered
// I/O is still correct, just not representative of a production SSD host.
func OpenFileStore(path string, size int64) (*FileStore, error) {
	flags := os.O_RDWR | os.O_CREATE
	fd, err := unix.Open(path, flags|unix.O_DIRECT, 0o600)
	if err != nil {
		fd, err = unix.Open(path, flags, 0o600)
		if err != nil {
			return nil, fmt.Errorf("disk: open %q: %w", path, err)
		}
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("disk: truncate %q to %d: %w", path, size, err)
	}
	return &FileStore{fd: fd, size: size}, nil
}

func (f *FileStore) ReadAt(off int64, buf []byte) error {
	n, err := unix.Pread(f.fd, buf, off)
	if err != nil {
		return fmt.Errorf("disk: pread at %d: %w", off, err)
	}
	if n != len(buf) {
		return fmt.Errorf("disk: short pread at %d: got %d want %d", off, n, len(buf))
	}
	return nil
}

func (f *FileStore) WriteAt(off int64, buf []byte) error {
	n, err := unix.Pwrite(f.fd, buf, off)
	if err != nil {
		return fmt.Errorf("disk: pwrite at %d: %w", off, err)
	}
	if n != len(buf) {
		return fmt.Errorf("disk: short pwrite at %d: got %d want %d", off, n, len(buf))
	}
	return nil
}

// Erase punches a hole, mirroring the NAND erase-before-write contract
// without actually zeroing bytes synchronously.
func (f *FileStore) Erase(off, length int64) error {
	mode := unix.FALLOC_FL_PUNCH_HOLE | unix.FALLOC_FL_KEEP_SIZE
	if err := unix.Fallocate(f.fd, uint32(mode), off, length); err != nil {
		return fmt.Errorf("disk: fallocate(punch_hole) at %d len %d: %w", off, length, err)
	}
	return nil
}

func (f *FileStore) Size() int64 { return f.size }

func (f *FileStore) Close() error { return unix.Close(f.fd) }

// COWStore layers a sparse in-memory overlay of dirty pages over a
// read-only backing Store, so a simulation can run repeatedly against the
// same golden disk image without mutating it.
type COWStore struct {
	backing Store
	overlay map[int64][]byte // pageSize-aligned page offset -> full page contents
	pageSize int64
}

// NewCOWStore wraps backing with a copy-on-write overlay keyed in pageSize
// chunks. Writes smaller than a full page still copy the whole containing
// page into the overlay, matching NAND's program-granularity semantics.
func NewCOWStore(backing Store, pageSize int64) *COWStore {
	if pageSize <= 0 {
		panic("disk: NewCOWStore: pageSize must be positive")
	}
	return &COWStore{backing: backing, overlay: make(map[int64][]byte), pageSize: pageSize}
}

func (c *COWStore) pageOf(off int64) int64 { return off - (off % c.pageSize) }

func (c *COWStore) ReadAt(off int64, buf []byte) error {
	remaining := buf
	cur := off
	for len(remaining) > 0 {
		pageStart := c.pageOf(cur)
		inPage := cur - pageStart
		n := c.pageSize - inPage
		if n > int64(len(remaining)) {
			n = int64(len(remaining))
		}
		if page, ok := c.overlay[pageStart]; ok {
			copy(remaining[:n], page[inPage:inPage+n])
		} else if err := c.backing.ReadAt(cur, remaining[:n]); err != nil {
			return err
		}
		remaining = remaining[n:]
		cur += n
	}
	return nil
}

func (c *COWStore) WriteAt(off int64, buf []byte) error {
	remaining := buf
	cur := off
	for len(remaining) > 0 {
		pageStart := c.pageOf(cur)
		inPage := cur - pageStart
		n := c.pageSize - inPage
		if n > int64(len(remaining)) {
			n = int64(len(remaining))
		}
		page, ok := c.overlay[pageStart]
		if !ok {
			page = make([]byte, c.pageSize)
			if err := c.backing.ReadAt(pageStart, page); err != nil {
				return err
			}
			c.overlay[pageStart] = page
		}
		copy(page[inPage:inPage+n], remaining[:n])
		remaining = remaining[n:]
		cur += n
	}
	return nil
}

func (c *COWStore) Erase(off, length int64) error {
	for p := c.pageOf(off); p < off+length; p += c.pageSize {
		delete(c.overlay, p)
	}
	return nil
}

func (c *COWStore) Size() int64 { return c.backing.Size() }
func (c *COWStore) Close() error { return nil }
