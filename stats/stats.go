// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Minimal statistics-reporting plumbing shared by every subsystem: a
// (names, values, reset) trio, as described in spec.md §1 ("Statistics
// reporting plumbing"). The wire format a real reporter would emit to is
// deliberately left unspecified here — each subsystem is free to name its
// own counters.
package stats

// Registry accumulates named uint64 counters in insertion order.
type Registry struct {
	names  []string
	values []uint64
	index  map[string]int
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Counter registers (or looks up) a named counter and returns its index,
// for fast repeated Add calls via AddIdx.
func (r *Registry) Counter(name string) int {
	if idx, ok := r.index[name]; ok {
		return idx
	}
	idx := len(r.names)
	r.names = append(r.names, name)
	r.values = append(r.values, 0)
	r.index[name] = idx
	return idx
}

// Add increments the named counter by delta, registering it first if
// necessary.
func (r *Registry) Add(name string, delta uint64) {
	r.values[r.Counter(name)] += delta
}

// AddIdx increments the counter at idx (as returned by Counter) by delta.
func (r *Registry) AddIdx(idx int, delta uint64) {
	r.values[idx] += delta
}

// Set overwrites the named counter's value.
func (r *Registry) Set(name string, v uint64) {
	r.values[r.Counter(name)] = v
}

// Get returns the counter's current value, or 0 if never registered.
func (r *Registry) Get(name string) uint64 {
	if idx, ok := r.index[name]; ok {
		return r.values[idx]
	}
	return 0
}

// Names returns the registered counter names, in registration order.
func (r *Registry) Names() []string { return r.names }

// Values returns the current counter values, aligned with Names().
func (r *Registry) Values() []uint64 {
	out := make([]uint64, len(r.values))
	copy(out, r.values)
	return out
}

// Reset zeroes every counter without forgetting its name/index.
func (r *Registry) Reset() {
	for i := range r.values {
		r.values[i] = 0
	}
}
