// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KDE/heaptrack-sub001/internal/calltree"
	"github.com/KDE/heaptrack-sub001/internal/costmodel"
	"github.com/KDE/heaptrack-sub001/internal/ids"
	"github.com/KDE/heaptrack-sub001/internal/strintern"
)

func buildFixture(t *testing.T) (*strintern.Pool, *calltree.IPTable, *calltree.TraceTree, ids.TraceIndex, ids.TraceIndex) {
	strs := strintern.New()
	ips := calltree.NewIPTable()
	traces := calltree.NewTraceTree()

	fn1 := strs.Intern("foo")
	fn2 := strs.Intern("bar")
	file := strs.Intern("a.c")

	ip1 := ips.Intern(0x1000, func(uint64) (ids.ModuleIndex, calltree.Frame, []calltree.Frame) {
		return 1, calltree.Frame{Func: fn1, File: file, Line: 10}, nil
	})
	ip2 := ips.Intern(0x2000, func(uint64) (ids.ModuleIndex, calltree.Frame, []calltree.Frame) {
		return 1, calltree.Frame{Func: fn2, File: file, Line: 20}, nil
	})

	t1 := traces.Intern(ip1, 0)
	t2 := traces.Intern(ip2, 0)
	require.NotZero(t, t1)
	require.NotZero(t, t2)
	return strs, ips, traces, t1, t2
}

func TestMergeAllocationsGroupsByCallSite(t *testing.T) {
	strs, ips, traces, t1, t2 := buildFixture(t)
	_ = strs

	allocs := []costmodel.Allocation{
		{Trace: t1, Leaked: 100, Allocations: 1},
		{Trace: t2, Leaked: 1, Allocations: 1},
	}
	buckets := MergeAllocations(allocs, traces, ips)
	require.Len(t, buckets, 2)
}

func TestSortBucketsOrdersByMetricDescending(t *testing.T) {
	strs, ips, traces, t1, t2 := buildFixture(t)
	_ = strs

	allocs := []costmodel.Allocation{
		{Trace: t1, Leaked: 1, Allocations: 1},
		{Trace: t2, Leaked: 100, Allocations: 1},
	}
	buckets := MergeAllocations(allocs, traces, ips)
	SortBuckets(buckets, CostLeaked)
	require.Equal(t, int64(100), buckets[0].Total.Leaked)
	require.Equal(t, int64(1), buckets[1].Total.Leaked)
}

func TestSortBucketsStablePermutationInvariant(t *testing.T) {
	strs, ips, traces, t1, t2 := buildFixture(t)
	_ = strs

	forward := []costmodel.Allocation{{Trace: t1, Leaked: 50}, {Trace: t2, Leaked: 50}}
	backward := []costmodel.Allocation{{Trace: t2, Leaked: 50}, {Trace: t1, Leaked: 50}}

	bf := MergeAllocations(forward, traces, ips)
	SortBuckets(bf, CostLeaked)
	bb := MergeAllocations(backward, traces, ips)
	SortBuckets(bb, CostLeaked)

	require.Equal(t, bf[0].Total.Leaked, bb[0].Total.Leaked)
	require.Equal(t, len(bf), len(bb))
}

func TestPrintTopEmitsRemainderLine(t *testing.T) {
	strs, ips, traces, t1, t2 := buildFixture(t)
	buckets := MergeAllocations([]costmodel.Allocation{
		{Trace: t1, Leaked: 100},
		{Trace: t2, Leaked: 1},
	}, traces, ips)
	SortBuckets(buckets, CostLeaked)

	var buf bytes.Buffer
	p := &Printer{W: &buf, Strs: strs, Traces: traces, IPs: ips}
	p.PrintTop("leaks", buckets, CostLeaked, 1, 10)

	out := buf.String()
	require.Contains(t, out, "leaks:")
	require.Contains(t, out, "and 1 from 1 other places")
}

func TestWriteHistogramOrdersBySize(t *testing.T) {
	var buf bytes.Buffer
	err := WriteHistogram(&buf, []costmodel.HistogramEntry{{Size: 8, Count: 2}, {Size: 16, Count: 1}})
	require.NoError(t, err)
	require.Equal(t, "8\t2\n16\t1\n", buf.String())
}

func TestWriteFlamegraphSkipsZeroCost(t *testing.T) {
	strs, ips, traces, t1, t2 := buildFixture(t)
	var buf bytes.Buffer
	err := WriteFlamegraph(&buf, []costmodel.Allocation{
		{Trace: t1, Leaked: 100},
		{Trace: t2, Leaked: 0},
	}, CostLeaked, traces, ips, strs)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "foo (a.c) 100\n")
	require.NotContains(t, buf.String(), "bar")
}

func TestBuildHeapTreeInjectsSyntheticEntryInSortedPosition(t *testing.T) {
	strs, ips, traces, t1, t2 := buildFixture(t)
	buckets := MergeAllocations([]costmodel.Allocation{
		{Trace: t1, Leaked: 100},
		{Trace: t2, Leaked: 1},
	}, traces, ips)

	nodes := buildHeapTree(buckets, CostLeaked, 101, 0.05, strs)
	require.Len(t, nodes, 2)
	require.Equal(t, int64(100), nodes[0].Leaked)
	require.Contains(t, nodes[1].Label, "in 1 places, all below massif's threshold")
}

// TestBuildHeapTreeThresholdUsesTrackedPeakNotBucketSum covers a
// snapshot where the current bucket set's leaked totals have already
// diverged from the peak tracked since the last snapshot (some
// allocations freed in between): the cutoff must come from that
// tracked peak, not from re-summing the buckets still present.
func TestBuildHeapTreeThresholdUsesTrackedPeakNotBucketSum(t *testing.T) {
	strs, ips, traces, t1, t2 := buildFixture(t)
	buckets := MergeAllocations([]costmodel.Allocation{
		{Trace: t1, Leaked: 100},
		{Trace: t2, Leaked: 1},
	}, traces, ips)

	// Bucket sum is 101, but the snapshot's tracked peak is 10000: at a
	// 5% threshold that's a cutoff of 500, well above both buckets, so
	// everything collapses into the synthetic entry. A cutoff derived
	// from the bucket sum (101 * 0.05 = 5.05) would wrongly keep the
	// 100-byte bucket.
	nodes := buildHeapTree(buckets, CostLeaked, 10000, 0.05, strs)
	require.Len(t, nodes, 1)
	require.Contains(t, nodes[0].Label, "in 2 places, all below massif's threshold")
}

func TestFilterByBacktraceFunctionMatchesAnyFrame(t *testing.T) {
	strs, ips, traces, t1, _ := buildFixture(t)
	require.True(t, FilterByBacktraceFunction(t1, "foo", traces, ips, strs))
	require.False(t, FilterByBacktraceFunction(t1, "nonexistent", traces, ips, strs))
}
