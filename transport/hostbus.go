// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package transport

import (
	"fmt"

	"github.com/dswarbrick/ssdsim/disk"
	"github.com/dswarbrick/ssdsim/simcore"
)

// StoreUpstream adapts a disk.Store (host DRAM, in this simulator's case)
// into a DMAInterface, so the FIFO transport's innermost stage has
// somewhere to actually move bytes. Every access completes Latency ticks
// after it starts; a zero Latency models an idealized always-ready bus.
type StoreUpstream struct {
	Store   disk.Store
	Eng     *simcore.Engine
	Latency simcore.Tick
}

func (s *StoreUpstream) Write(addr uint64, buf []byte, now simcore.Tick, done func(now simcore.Tick)) {
	if err := s.Store.WriteAt(int64(addr), buf); err != nil {
		panic(fmt.Sprintf("transport: host memory write at %#x: %v", addr, err))
	}
	s.complete(now, done)
}

func (s *StoreUpstream) Read(addr uint64, buf []byte, now simcore.Tick, done func(now simcore.Tick)) {
	if err := s.Store.ReadAt(int64(addr), buf); err != nil {
		panic(fmt.Sprintf("transport: host memory read at %#x: %v", addr, err))
	}
	s.complete(now, done)
}

func (s *StoreUpstream) complete(now simcore.Tick, done func(now simcore.Tick)) {
	if s.Latency == 0 {
		done(now)
		return
	}
	at := now + s.Latency
	id := s.Eng.Allocate("transport.hostbus", func(fireAt simcore.Tick, _ uint64) { done(fireAt) })
	s.Eng.Schedule(id, at)
}
