// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package costmodel folds a stream of allocation events into the
// in-memory cost model: an open-allocation table keyed by pointer, a
// per-trace cost roll-up, temporary-allocation detection, and a peak
// tracker.
package costmodel

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/KDE/heaptrack-sub001/internal/ids"
)

// Allocation is the aggregated cost for one distinct call-site trace.
type Allocation struct {
	Trace       ids.TraceIndex
	Allocations int64
	Temporary   int64
	Peak        int64
	Leaked      int64
}

// Add accumulates o's cost fields into a; report.MergeAllocations uses
// it to sum a call-site bucket's traces.
func (a *Allocation) Add(o Allocation) {
	a.Allocations += o.Allocations
	a.Temporary += o.Temporary
	a.Peak += o.Peak
	a.Leaked += o.Leaked
}

// AllocationInfo is an allocator call-site fingerprint: identical
// (size, trace) pairs collapse to the same index.
type AllocationInfo struct {
	Size  uint64
	Trace ids.TraceIndex
}

type openAlloc struct {
	size  uint64
	trace ids.TraceIndex
	info  ids.AllocationInfoIndex
}

type lastAlloc struct {
	ptr   uint64
	trace ids.TraceIndex
}

// Accumulator is the cost model's event consumer: it reacts to Alloc/Free/Realloc/Timestamp/RSS events and keeps the
// running per-trace and global totals spec.md §4.6 describes.
type Accumulator struct {
	log *logrus.Logger

	open    map[uint64]openAlloc
	byTrace map[ids.TraceIndex]*Allocation
	total   Allocation

	allocInfos   []AllocationInfo
	allocInfoIdx map[AllocationInfo]ids.AllocationInfoIndex

	peakHeap    uint64
	peakRSS     uint64
	totalTimeMs int64

	sizeHistogram map[uint64]uint64
	recordSizes   bool

	last *lastAlloc
}

// New returns an empty accumulator. recordSizeHistogram enables the
// per-event size histogram used by --print-histogram; it costs a map
// insert per allocation event so it is off unless requested.
func New(log *logrus.Logger, recordSizeHistogram bool) *Accumulator {
	return &Accumulator{
		log:          log,
		open:         make(map[uint64]openAlloc),
		byTrace:      make(map[ids.TraceIndex]*Allocation),
		allocInfoIdx: make(map[AllocationInfo]ids.AllocationInfoIndex),
		sizeHistogram: func() map[uint64]uint64 {
			if recordSizeHistogram {
				return make(map[uint64]uint64)
			}
			return nil
		}(),
		recordSizes: recordSizeHistogram,
	}
}

// InternAllocationInfo returns the (possibly new) index for the
// (size, trace) call-site fingerprint.
func (a *Accumulator) InternAllocationInfo(size uint64, trace ids.TraceIndex) ids.AllocationInfoIndex {
	key := AllocationInfo{Size: size, Trace: trace}
	if idx, ok := a.allocInfoIdx[key]; ok {
		return idx
	}
	idx := ids.AllocationInfoIndex(len(a.allocInfos) + 1)
	a.allocInfos = append(a.allocInfos, key)
	a.allocInfoIdx[key] = idx
	return idx
}

func (a *Accumulator) trace(idx ids.TraceIndex) *Allocation {
	if alloc, ok := a.byTrace[idx]; ok {
		return alloc
	}
	alloc := &Allocation{Trace: idx}
	a.byTrace[idx] = alloc
	return alloc
}

// Alloc records an allocation of size bytes at ptr, attributed to
// trace. If ptr is already live, the old entry is silently overwritten
// after a warning - heaptrack's allocator interposition can lose a
// free across a signal or a vfork, so this is expected to happen
// occasionally on real traces.
func (a *Accumulator) Alloc(size uint64, trace ids.TraceIndex, ptr uint64) {
	if _, live := a.open[ptr]; live && a.log != nil {
		a.log.Warnf("ptr %#x already allocated, overwriting", ptr)
	}
	info := a.InternAllocationInfo(size, trace)
	a.open[ptr] = openAlloc{size: size, trace: trace, info: info}

	alloc := a.trace(trace)
	alloc.Allocations++
	alloc.Leaked += int64(size)
	if alloc.Leaked > alloc.Peak {
		alloc.Peak = alloc.Leaked
	}

	a.total.Allocations++
	a.total.Leaked += int64(size)
	if a.total.Leaked > a.total.Peak {
		a.total.Peak = a.total.Leaked
	}
	if a.total.Leaked > int64(a.peakHeap) {
		a.peakHeap = uint64(a.total.Leaked)
	}

	if a.recordSizes {
		a.sizeHistogram[size]++
	}

	a.last = &lastAlloc{ptr: ptr, trace: trace}
}

// Free releases ptr. A free of an unknown pointer is a no-op. If ptr
// is the most recently allocated pointer on the same trace, this
// allocation is classified as temporary.
func (a *Accumulator) Free(ptr uint64) {
	open, ok := a.open[ptr]
	if !ok {
		return
	}
	delete(a.open, ptr)

	alloc := a.trace(open.trace)
	alloc.Leaked -= int64(open.size)
	a.total.Leaked -= int64(open.size)

	if a.last != nil && a.last.ptr == ptr && a.last.trace == open.trace {
		alloc.Temporary++
		a.total.Temporary++
	}
	if a.last != nil && a.last.ptr == ptr {
		a.last = nil
	}
}

// Realloc is modeled as Free(oldPtr) followed by Alloc(newPtr, size)
// on reallocTrace; the free uses whatever trace was recorded for
// oldPtr, matching the open table's bookkeeping.
func (a *Accumulator) Realloc(oldPtr, newPtr uint64, size uint64, reallocTrace ids.TraceIndex) {
	a.Free(oldPtr)
	a.Alloc(size, reallocTrace, newPtr)
}

// Timestamp advances the running clock. Massif snapshot emission on
// each tick is the report engine's responsibility (it owns the
// massif writer); the accumulator only tracks the latest value and
// keeps no per-tick peak.
func (a *Accumulator) Timestamp(t int64) {
	a.totalTimeMs = t
}

// RSS records a resident-set-size sample.
func (a *Accumulator) RSS(bytes uint64) {
	if bytes > a.peakRSS {
		a.peakRSS = bytes
	}
}

// Total returns the global cost roll-up.
func (a *Accumulator) Total() Allocation { return a.total }

// PeakHeap returns the maximum simultaneously-live byte count observed.
func (a *Accumulator) PeakHeap() uint64 { return a.peakHeap }

// PeakRSS returns the maximum RSS sample observed.
func (a *Accumulator) PeakRSS() uint64 { return a.peakRSS }

// TotalTimeMs returns the most recently observed timestamp.
func (a *Accumulator) TotalTimeMs() int64 { return a.totalTimeMs }

// Allocations returns one Allocation per distinct trace with at least
// one event, in an unspecified order (callers sort as needed).
func (a *Accumulator) Allocations() []Allocation {
	out := make([]Allocation, 0, len(a.byTrace))
	for _, alloc := range a.byTrace {
		out = append(out, *alloc)
	}
	return out
}

// SizeHistogram returns the recorded (size -> count) table, sorted by
// size ascending. It is empty unless recordSizeHistogram was set at
// construction.
func (a *Accumulator) SizeHistogram() []HistogramEntry {
	entries := make([]HistogramEntry, 0, len(a.sizeHistogram))
	for size, count := range a.sizeHistogram {
		entries = append(entries, HistogramEntry{Size: size, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Size < entries[j].Size })
	return entries
}

// HistogramEntry is one row of the size histogram.
type HistogramEntry struct {
	Size  uint64
	Count uint64
}

// Diff subtracts secondary's per-trace allocations from primary's and
// returns the result as a new slice (primary is left unchanged),
// allowing the result to go negative; callers sort by absolute value.
func Diff(primary, secondary []Allocation) []Allocation {
	bySecondary := make(map[ids.TraceIndex]Allocation, len(secondary))
	for _, alloc := range secondary {
		bySecondary[alloc.Trace] = alloc
	}
	out := make([]Allocation, len(primary))
	for i, alloc := range primary {
		if sub, ok := bySecondary[alloc.Trace]; ok {
			alloc.Allocations -= sub.Allocations
			alloc.Temporary -= sub.Temporary
			alloc.Peak -= sub.Peak
			alloc.Leaked -= sub.Leaked
		}
		out[i] = alloc
	}
	return out
}
