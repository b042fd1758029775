// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package transport implements the FIFO interleaving transport: a pair of
// capacity-bounded pipelines (read, write) in front of an upstream
// DMAInterface, per spec.md §4.2. Requests larger than one transfer unit
// are split into chunks whose insertion latency (the upstream pipe filling)
// overlaps the downstream DMA transfer.
package transport

import "github.com/dswarbrick/ssdsim/simcore"

// DMAInterface is the uniform upstream/downstream data-mover contract used
// throughout the module (FIFO's upstream, and the consumer of PRP/SGL
// engines), per spec.md §4.6/§9 ("tagged variants... or a capability trait
// with a small closed set of implementers").
type DMAInterface interface {
	Write(addr uint64, buf []byte, now simcore.Tick, done func(now simcore.Tick))
	Read(addr uint64, buf []byte, now simcore.Tick, done func(now simcore.Tick))
}

// LatencyFunc computes the upstream insertion delay for a chunk of bytes.
type LatencyFunc func(bytes uint64) simcore.Tick

type chunk struct {
	addr        uint64
	buf         []byte
	last        bool
	completion  func(now simcore.Tick)
	insertDone  bool
	transferDone bool
	insertEnd, transferEnd simcore.Tick
}

// pipeline is one direction (read or write) of the FIFO: a capacity-bounded
// queue of chunks, with insertion serialized (one in flight at a time) and
// downstream DMA transfers allowed to run concurrently with the next
// chunk's insertion.
type pipeline struct {
	eng          *simcore.Engine
	capacity     uint64
	transferUnit uint64
	latency      LatencyFunc
	upstream     DMAInterface
	isWrite      bool

	usage     uint64
	inserting bool
	waitQueue []*chunk
}

// FIFO is the interleaving transport: a symmetric read/write pipeline pair
// in front of one upstream DMAInterface, per spec.md §4.2.
type FIFO struct {
	read, write *pipeline
}

// NewFIFO constructs a FIFO transport. capacity and transferUnit are in
// bytes; latency computes the upstream insertion delay for a chunk.
func NewFIFO(eng *simcore.Engine, upstream DMAInterface, capacity, transferUnit uint64, latency LatencyFunc) *FIFO {
	return &FIFO{
		read:  &pipeline{eng: eng, capacity: capacity, transferUnit: transferUnit, latency: latency, upstream: upstream, isWrite: false},
		write: &pipeline{eng: eng, capacity: capacity, transferUnit: transferUnit, latency: latency, upstream: upstream, isWrite: true},
	}
}

// Write splits buf into transfer_unit-sized chunks and enqueues them on the
// write pipeline (host -> device). done fires once when the last chunk of
// this request has both been inserted and transferred downstream.
func (f *FIFO) Write(addr uint64, buf []byte, now simcore.Tick, done func(now simcore.Tick)) {
	f.write.submit(addr, buf, now, done)
}

// Read is the symmetric dual (device -> host).
func (f *FIFO) Read(addr uint64, buf []byte, now simcore.Tick, done func(now simcore.Tick)) {
	f.read.submit(addr, buf, now, done)
}

func (p *pipeline) submit(addr uint64, buf []byte, now simcore.Tick, done func(now simcore.Tick)) {
	if len(buf) == 0 {
		done(now)
		return
	}
	offset := uint64(0)
	for offset < uint64(len(buf)) {
		n := p.transferUnit
		if n > uint64(len(buf))-offset {
			n = uint64(len(buf)) - offset
		}
		last := offset+n >= uint64(len(buf))
		c := &chunk{addr: addr + offset, buf: buf[offset : offset+n]}
		if last {
			c.completion = done
			c.last = true
		}
		p.waitQueue = append(p.waitQueue, c)
		offset += n
	}
	p.pump(now)
}

// pump attempts to start the next chunk's insertion if the pipeline has
// room and no insertion is currently in progress, per spec.md §4.2: "if
// usage + chunk <= capacity and no insertion in progress, reserve space,
// schedule insert_done".
func (p *pipeline) pump(now simcore.Tick) {
	if p.inserting || len(p.waitQueue) == 0 {
		return
	}
	c := p.waitQueue[0]
	p.waitQueue = p.waitQueue[1:]
	sz := uint64(len(c.buf))
	if p.usage+sz > p.capacity {
		// Put it back; capacity frees up only as earlier insertions finish.
		p.waitQueue = append([]*chunk{c}, p.waitQueue...)
		return
	}
	p.usage += sz
	p.inserting = true

	insertLatency := p.latency(sz)
	p.scheduleAfter(now, insertLatency, func(at simcore.Tick) {
		p.usage -= sz
		p.inserting = false
		c.insertDone = true
		c.insertEnd = at
		p.finishIfDone(c, at)
		p.pump(at)
	})

	// "one unit after insertion begins, dispatch the chunk to the upstream
	// DMAInterface": the downstream transfer starts after one transfer
	// unit's worth of insertion latency has elapsed, overlapping with the
	// remainder of this chunk's own insertion.
	oneUnit := p.latency(p.transferUnit)
	if oneUnit > insertLatency {
		oneUnit = insertLatency
	}
	p.scheduleAfter(now, oneUnit, func(at simcore.Tick) {
		dispatch := p.upstream.Write
		if !p.isWrite {
			dispatch = p.upstream.Read
		}
		dispatch(c.addr, c.buf, at, func(doneAt simcore.Tick) {
			c.transferDone = true
			c.transferEnd = doneAt
			p.finishIfDone(c, doneAt)
		})
	})
}

func (p *pipeline) finishIfDone(c *chunk, now simcore.Tick) {
	if !c.insertDone || !c.transferDone {
		return
	}
	if c.completion != nil {
		finish := c.insertEnd
		if c.transferEnd > finish {
			finish = c.transferEnd
		}
		c.completion(finish)
	}
}

func (p *pipeline) scheduleAfter(now, delay simcore.Tick, fn func(now simcore.Tick)) {
	var id simcore.EventID
	id = p.eng.Allocate("fifo", func(at simcore.Tick, _ uint64) {
		p.eng.Deallocate(id)
		fn(at)
	})
	p.eng.Schedule(id, now+delay)
}

// Usage reports the pipeline's currently reserved bytes, for tests
// asserting spec.md §8's "usage <= capacity at all times" invariant.
func (p *pipeline) Usage() uint64 { return p.usage }
