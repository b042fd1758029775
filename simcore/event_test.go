// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package simcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Two events scheduled for the same tick fire in insertion order (spec.md
// §8 invariant 7).
func TestSameTickFiresInInsertionOrder(t *testing.T) {
	eng := NewEngine()
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		id := eng.Allocate("ev", func(now Tick, _ uint64) { order = append(order, i) })
		eng.Schedule(id, 100)
	}

	for eng.Pending() > 0 {
		eng.RunOne()
	}

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// Descheduling the head event does not reorder the rest (spec.md §8
// invariant 7).
func TestDescheduleHeadPreservesRemainingOrder(t *testing.T) {
	eng := NewEngine()
	var order []int

	ids := make([]EventID, 3)
	for i := 0; i < 3; i++ {
		i := i
		ids[i] = eng.Allocate("ev", func(now Tick, _ uint64) { order = append(order, i) })
		eng.Schedule(ids[i], 50)
	}

	eng.Deschedule(ids[0])

	for eng.Pending() > 0 {
		eng.RunOne()
	}

	require.Equal(t, []int{1, 2}, order)
}

func TestRunUntilStopsAtLimit(t *testing.T) {
	eng := NewEngine()
	fired := 0
	id := eng.Allocate("late", func(now Tick, _ uint64) { fired++ })
	eng.Schedule(id, 1000)

	eng.RunUntil(999)
	require.Equal(t, 0, fired)
	require.Equal(t, Tick(0), eng.Now())

	eng.RunUntil(1000)
	require.Equal(t, 1, fired)
	require.Equal(t, Tick(1000), eng.Now())
}

func TestRescheduleMovesPendingEvent(t *testing.T) {
	eng := NewEngine()
	var fireAt Tick
	id := eng.Allocate("ev", func(now Tick, _ uint64) { fireAt = now })

	eng.Schedule(id, 10)
	eng.Reschedule(id, 20)

	pending, at := eng.IsScheduled(id)
	require.True(t, pending)
	require.Equal(t, Tick(20), at)

	eng.RunOne()
	require.Equal(t, Tick(20), fireAt)
}

func TestScheduleAlreadyPendingPanics(t *testing.T) {
	eng := NewEngine()
	id := eng.Allocate("ev", func(now Tick, _ uint64) {})
	eng.Schedule(id, 10)
	require.Panics(t, func() { eng.Schedule(id, 20) })
}

func TestDeallocatePendingEventPanics(t *testing.T) {
	eng := NewEngine()
	id := eng.Allocate("ev", func(now Tick, _ uint64) {})
	eng.Schedule(id, 10)
	require.Panics(t, func() { eng.Deallocate(id) })
}
