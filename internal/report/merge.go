// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package report implements the analysis engine's final stage: it
// merges per-trace allocation costs by call site, orders them by
// whichever cost metric was selected, and renders the merged result
// as human-readable text, a flamegraph, a massif snapshot stream, or
// a size histogram.
package report

import (
	"sort"

	"github.com/KDE/heaptrack-sub001/internal/calltree"
	"github.com/KDE/heaptrack-sub001/internal/costmodel"
)

// CostMetric selects which of Allocation's four counters drives
// sorting and top-N selection.
type CostMetric int

const (
	CostAllocations CostMetric = iota
	CostTemporary
	CostPeak
	CostLeaked
)

// Value extracts the selected metric from an allocation cost.
func (m CostMetric) Value(a costmodel.Allocation) int64 {
	switch m {
	case CostTemporary:
		return a.Temporary
	case CostPeak:
		return a.Peak
	case CostLeaked:
		return a.Leaked
	default:
		return a.Allocations
	}
}

// abs64 returns the absolute value of x; diff-mode aggregates can be
// negative, and every sort in this package orders by magnitude.
func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// Bucket is one call-site-merged group of traces: every trace whose
// top IP is EqualWithoutAddress to every other trace in the bucket.
type Bucket struct {
	TopIP  calltree.InstructionPointer
	Traces []costmodel.Allocation
	Total  costmodel.Allocation
}

// MergeAllocations groups allocs whose own trace node (the innermost
// IP of the backtrace) resolves to the same logical call site (§3's
// EqualWithoutAddress), ignoring raw address. Allocations on the empty
// trace (index 0) merge into one bucket keyed by the zero
// InstructionPointer. The returned buckets
// are in first-insertion order; sort them with SortBuckets for
// display.
func MergeAllocations(allocs []costmodel.Allocation, traces *calltree.TraceTree, ips *calltree.IPTable) []*Bucket {
	var order []string
	byKey := make(map[string]*Bucket)

	for _, a := range allocs {
		node := traces.Get(a.Trace)
		ip := ips.Get(node.IP)
		key := ip.KeyWithoutAddress()

		b, ok := byKey[key]
		if !ok {
			b = &Bucket{TopIP: ip}
			byKey[key] = b
			order = append(order, key)
		}
		b.Traces = append(b.Traces, a)
		b.Total.Add(a)
	}

	out := make([]*Bucket, len(order))
	for i, key := range order {
		out[i] = byKey[key]
	}
	return out
}

// SortBuckets orders buckets by |metric| descending, stable on
// first-insertion order, and sorts each bucket's traces the same way.
// This matches §8's invariant that merging is insensitive to input
// permutation once sorted.
func SortBuckets(buckets []*Bucket, metric CostMetric) {
	sort.SliceStable(buckets, func(i, j int) bool {
		return abs64(metric.Value(buckets[i].Total)) > abs64(metric.Value(buckets[j].Total))
	})
	for _, b := range buckets {
		traces := b.Traces
		sort.SliceStable(traces, func(i, j int) bool {
			return abs64(metric.Value(traces[i])) > abs64(metric.Value(traces[j]))
		})
	}
}
