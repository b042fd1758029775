// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package icl implements the set-associative internal cache that sits
// between the NVMe command path and the FTL: sets/ways, line lifecycle,
// read/write/flush/invalidate pipelines, prefetch, and DRAM/SRAM memory
// timing, per spec.md §4.5. It is the one subsystem in this module that
// genuinely needs the discrete-event scheduler (pending reads can be
// shared by a second, overlapping reader), so — unlike pal and ftl, which
// only compute timing synchronously — icl schedules real simcore.Engine
// callbacks.
package icl

import (
	"fmt"

	"github.com/dswarbrick/ssdsim/disk"
	"github.com/dswarbrick/ssdsim/ftl"
	"github.com/dswarbrick/ssdsim/pal"
	"github.com/dswarbrick/ssdsim/simcore"
	"github.com/dswarbrick/ssdsim/stats"
)

// Status mirrors the handful of FTL-facing outcomes the command layer
// needs to translate into an NVMe completion status.
type Status int

const (
	StatusOK Status = iota
	StatusOutOfCapacity
)

// Cache is the ICL set-associative cache for one namespace's logical
// address space.
type Cache struct {
	eng    *simcore.Engine
	mapper ftl.Translator
	media  disk.Store // logical byte content, addressed by lpn*lineSize

	sets     []set
	ways     int
	lineSize uint32

	readEnable  bool
	writeEnable bool
	policy      Policy
	gran        Granularity

	clock uint16

	dram, sram MemoryModel
	metaLine   uint32 // bytes of metadata compared per set access

	prefetch *PrefetchTrigger

	stats *stats.Registry
}

// Config bundles Cache construction parameters.
type Config struct {
	Sets, Ways  int
	LineSize    uint32
	ReadEnable  bool
	WriteEnable bool
	Policy      Policy
	Granularity Granularity
	DRAM        MemoryModel
	SRAM        MemoryModel
	MetaLine    uint32
	Prefetch    *PrefetchTrigger
}

// NewCache constructs a Cache of cfg.Sets x cfg.Ways lines over mapper's
// logical address space, with media as the byte-correctness-bearing
// backing store (spec.md §1 item 4, "Disk backend"). Ways = 0 requests a
// fully-associative cache: one set, with cfg.Sets taken as its way count.
func NewCache(eng *simcore.Engine, mapper ftl.Translator, media disk.Store, cfg Config) *Cache {
	sets, ways := cfg.Sets, cfg.Ways
	if ways == 0 {
		ways = sets
		sets = 1
	}
	if sets <= 0 || ways <= 0 || cfg.LineSize == 0 {
		panic("icl: NewCache: sets, ways and line size must be positive")
	}
	c := &Cache{
		eng: eng, mapper: mapper, media: media,
		sets: make([]set, sets), ways: ways, lineSize: cfg.LineSize,
		readEnable: cfg.ReadEnable, writeEnable: cfg.WriteEnable,
		policy: cfg.Policy, gran: cfg.Granularity,
		dram: cfg.DRAM, sram: cfg.SRAM, metaLine: cfg.MetaLine,
		prefetch: cfg.Prefetch,
		stats:    stats.NewRegistry(),
	}
	for i := range c.sets {
		c.sets[i] = *newSet(ways)
	}
	return c
}

// Stats exposes the (names, values, reset) trio.
func (c *Cache) Stats() *stats.Registry { return c.stats }

func (c *Cache) setIndex(lpn pal.LPN) int {
	return int(uint64(lpn) % uint64(len(c.sets)))
}

func (c *Cache) after(now pal.Tick, delay pal.Tick, fn func(now pal.Tick)) {
	var id simcore.EventID
	id = c.eng.Allocate("icl", func(now simcore.Tick, _ uint64) {
		c.eng.Deallocate(id)
		fn(pal.Tick(now))
	})
	c.eng.Schedule(id, simcore.Tick(now)+simcore.Tick(delay))
}

func (c *Cache) lineOffset(lpn pal.LPN) int64 { return int64(lpn) * int64(c.lineSize) }

// Read services one host read of one cache line (exactly line-size bytes;
// callers split larger requests before calling in, matching how the
// arbitrator already splits host commands per queue entry). buf receives
// the line's bytes once done fires. done's now is the tick at which the
// data is available to the host.
func (c *Cache) Read(lpn pal.LPN, buf []byte, now pal.Tick, done func(now pal.Tick)) {
	s := &c.sets[c.setIndex(lpn)]

	metaCost := pal.Tick(0)
	if c.sram != nil {
		metaCost = c.sram.Read(uint64(c.setIndex(lpn)), uint32(c.ways)*c.metaLine)
	}

	if !c.readEnable {
		c.missFill(s, lpn, buf, now+metaCost, done)
		return
	}

	way := s.find(lpn)
	if way < 0 {
		c.stats.Add("icl.read.miss", 1)
		c.missFill(s, lpn, buf, now+metaCost, done)
		return
	}

	line := &s.lines[way]
	if line.State == ReadPending {
		c.stats.Add("icl.read.hit_pending", 1)
		line.waiters = append(line.waiters, func(at pal.Tick) {
			c.serveFromMedia(lpn, buf, at, done)
		})
		return
	}

	c.stats.Add("icl.read.hit", 1)
	c.touch(line)
	hostCost := pal.Tick(0)
	if c.dram != nil {
		hostCost = c.dram.Read(uint64(lpn), c.lineSize)
	}
	c.maybePrefetch(lpn, now+metaCost+hostCost)
	c.after(now, metaCost+hostCost, func(at pal.Tick) { c.serveFromMedia(lpn, buf, at, done) })
}

func (c *Cache) serveFromMedia(lpn pal.LPN, buf []byte, now pal.Tick, done func(now pal.Tick)) {
	if c.media != nil {
		if err := c.media.ReadAt(c.lineOffset(lpn), buf); err != nil {
			for i := range buf {
				buf[i] = 0
			}
		}
	}
	done(now)
}

// missFill handles ColdMiss/Miss: evict a victim if necessary, submit an
// FTL read (or, for an unmapped LPN, serve zeros with no NAND cost), and
// deliver the data once it lands.
func (c *Cache) missFill(s *set, lpn pal.LPN, buf []byte, now pal.Tick, done func(now pal.Tick)) {
	way := s.emptyWay()
	if way < 0 {
		way = c.evict(s, now)
	}
	line := &s.lines[way]
	line.Tag = lpn
	line.State = ReadPending
	c.stamp(line)

	_, res, ok := c.mapper.Read(lpn, now)
	if !ok {
		// Unmapped: spec.md §3 edge case, "return zeros", no NAND access.
		line.State = ValidClean
		if c.media != nil {
			for i := range buf {
				buf[i] = 0
			}
		}
		done(now)
		c.wake(line, now)
		return
	}

	c.after(now, res.Finished-now, func(at pal.Tick) {
		line.State = ValidClean
		c.serveFromMedia(lpn, buf, at, done)
		c.wake(line, at)
	})
}

func (c *Cache) wake(line *Line, now pal.Tick) {
	waiters := line.waiters
	line.waiters = nil
	for _, w := range waiters {
		w(now)
	}
}

// Write services one host write of exactly one cache line. The write
// completes (from the host's point of view) as soon as the data reaches
// the cache — write-back, per spec.md §4.5 — regardless of whether the
// line was already resident.
func (c *Cache) Write(lpn pal.LPN, buf []byte, now pal.Tick, done func(now pal.Tick)) Status {
	if !c.writeEnable {
		return c.writeThrough(lpn, buf, now, done)
	}

	s := &c.sets[c.setIndex(lpn)]
	metaCost := pal.Tick(0)
	if c.sram != nil {
		metaCost = c.sram.Read(uint64(c.setIndex(lpn)), uint32(c.ways)*c.metaLine)
	}

	way := s.find(lpn)
	if way < 0 {
		way = s.emptyWay()
		if way < 0 {
			way = c.evict(s, now)
		}
	}
	line := &s.lines[way]
	line.Tag = lpn
	line.State = ValidDirty
	c.stamp(line)
	c.stats.Add("icl.write.hit", 1)

	if c.media != nil {
		if err := c.media.WriteAt(c.lineOffset(lpn), buf); err != nil {
			panic(fmt.Sprintf("icl: media write at lpn %d: %v", lpn, err))
		}
	}

	hostCost := pal.Tick(0)
	if c.dram != nil {
		hostCost = c.dram.Write(uint64(lpn), c.lineSize)
	}
	c.after(now, metaCost+hostCost, done)
	return StatusOK
}

// writeThrough handles the write-cache-disabled case: every write pays the
// full FTL/NAND program latency before completing.
func (c *Cache) writeThrough(lpn pal.LPN, buf []byte, now pal.Tick, done func(now pal.Tick)) Status {
	if c.media != nil {
		if err := c.media.WriteAt(c.lineOffset(lpn), buf); err != nil {
			panic(fmt.Sprintf("icl: media write at lpn %d: %v", lpn, err))
		}
	}
	_, res, ok := c.mapper.Write(lpn, now)
	if !ok {
		return StatusOutOfCapacity
	}
	c.after(now, res.Finished-now, done)
	return StatusOK
}

// Flush walks every dirty line whose tag falls in [start, end) and writes
// it back through the FTL, invoking done once every such write has landed.
// A namespace-wide flush (the full LPN range) is how NVMe Flush and Format
// drain the cache before handing off to the FTL.
func (c *Cache) Flush(start, end pal.LPN, now pal.Tick, done func(now pal.Tick)) {
	var pending int
	finish := now
	track := func(at pal.Tick) {
		pending--
		if at > finish {
			finish = at
		}
		if pending == 0 {
			done(finish)
		}
	}
	for i := range c.sets {
		s := &c.sets[i]
		for w := range s.lines {
			l := &s.lines[w]
			if !l.dirty() || l.Tag < start || l.Tag >= end {
				continue
			}
			pending++
			lpn := l.Tag
			l.State = WritePending
			_, res, ok := c.mapper.Write(lpn, now)
			if !ok {
				pending--
				continue
			}
			c.after(now, res.Finished-now, func(at pal.Tick) {
				l.State = ValidClean
				track(at)
			})
		}
	}
	if pending == 0 {
		done(now)
	}
}

// Invalidate marks every line tagged in [start, end) invalid and clears
// dirty, forwarding the trim to the FTL (Trim/Format, spec.md §4.5).
func (c *Cache) Invalidate(start, end pal.LPN) {
	for i := range c.sets {
		s := &c.sets[i]
		for w := range s.lines {
			l := &s.lines[w]
			if l.Tag >= start && l.Tag < end && (l.valid() || l.State == ReadPending) {
				l.State = Evicted
			}
		}
	}
	c.mapper.Trim(start, end)
}

func (c *Cache) stamp(l *Line) {
	c.clock++
	l.ClockStamp = c.clock
}

func (c *Cache) touch(l *Line) {
	if c.policy == PolicyLRU {
		c.stamp(l)
	}
}

// evict selects a victim way by policy, writes back a dirty victim
// synchronously (the caller has already reserved `now` as the dispatch
// tick; writeback latency is folded into the overall miss latency by the
// caller scheduling past res.Finished), and returns the freed way index.
// Per spec.md §4.5 the Granularity beyond GranularityOne affects which
// *other* lines are pre-emptively dropped to exploit plane parallelism;
// those extra lines are discarded without writeback cost accounting (they
// are clean by construction — see evictGroup).
func (c *Cache) evict(s *set, now pal.Tick) int {
	victim := c.selectVictim(s)
	c.evictGroup(s, victim, now)
	return victim
}

func (c *Cache) selectVictim(s *set) int {
	switch c.policy {
	case PolicyRandom:
		return pseudoRandomWay(s)
	case PolicyFIFO, PolicyLRU:
		oldest := 0
		oldestAge := uint16(0)
		for i := range s.lines {
			age := c.clock - s.lines[i].ClockStamp
			if s.lines[i].State == Empty {
				continue
			}
			if age >= oldestAge {
				oldestAge = age
				oldest = i
			}
		}
		return oldest
	default:
		panic(fmt.Sprintf("icl: unknown replacement policy %d", c.policy))
	}
}

// pseudoRandomWay picks a victim deterministically from set contents so
// the cache's behavior stays reproducible across runs with the same
// request stream, rather than drawing from a global PRNG.
func pseudoRandomWay(s *set) int {
	sum := uint32(0)
	for i := range s.lines {
		sum = sum*31 + uint32(s.lines[i].Tag) + 1
	}
	return int(sum % uint32(len(s.lines)))
}

func (c *Cache) evictGroup(s *set, victim int, now pal.Tick) {
	c.evictOne(s, victim, now)
	if c.gran == GranularityOne {
		return
	}
	group := superpageGroup(s.lines[victim].Tag, c.gran)
	for i := range s.lines {
		if i == victim || !s.lines[i].valid() {
			continue
		}
		if c.gran == GranularityAll || superpageGroup(s.lines[i].Tag, c.gran) == group {
			if !s.lines[i].dirty() {
				s.lines[i].State = Evicted
			}
		}
	}
}

// superpageGroup buckets an LPN by a coarse superpage stride so that
// GranularitySuperpage evicts physically-coupled lines together.
func superpageGroup(lpn pal.LPN, g Granularity) pal.LPN {
	const superpageStride = 8
	return lpn / superpageStride
}

func (c *Cache) evictOne(s *set, way int, now pal.Tick) {
	l := &s.lines[way]
	if l.dirty() {
		c.mapper.Write(l.Tag, now) // fire-and-forget writeback timing cost absorbed into the miss path
		c.stats.Add("icl.eviction.writeback", 1)
	}
	l.State = Evicted
}

// maybePrefetch consults the prefetch trigger after a host read and, if it
// fires, brings the next LPNs into any currently-empty ways only — per
// spec.md §4.5, prefetch never evicts (invariant 6).
func (c *Cache) maybePrefetch(lpn pal.LPN, now pal.Tick) {
	if c.prefetch == nil {
		return
	}
	fire, start, count := c.prefetch.Observe(lpn, c.lineSize)
	if !fire {
		return
	}
	for i := 0; i < count; i++ {
		pf := start + pal.LPN(i)
		s := &c.sets[c.setIndex(pf)]
		if s.find(pf) >= 0 {
			continue
		}
		way := s.emptyWay()
		if way < 0 {
			continue // never evict for prefetch
		}
		line := &s.lines[way]
		line.Tag = pf
		line.State = ReadPending
		line.prefetched = true
		c.stamp(line)

		_, res, ok := c.mapper.Read(pf, now)
		if !ok {
			line.State = ValidClean
			continue
		}
		c.after(now, res.Finished-now, func(at pal.Tick) {
			line.State = ValidClean
			c.wake(line, at)
		})
		c.stats.Add("icl.prefetch.issued", 1)
	}
}
