// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package costmodel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KDE/heaptrack-sub001/internal/ids"
)

func TestSimpleLeak(t *testing.T) {
	a := New(nil, false)
	a.Alloc(0x100, ids.TraceIndex(1), 0x7f00)

	require.EqualValues(t, 256, a.Total().Leaked)
	require.EqualValues(t, 1, a.Total().Allocations)
	require.EqualValues(t, 0, a.Total().Temporary)
}

func TestTemporaryAllocation(t *testing.T) {
	a := New(nil, false)
	a.Alloc(0x10, ids.TraceIndex(1), 0xa0)
	a.Free(0xa0)

	require.EqualValues(t, 1, a.Total().Temporary)
	require.EqualValues(t, 0, a.Total().Leaked)
	require.EqualValues(t, 16, a.Total().Peak)
}

func TestFreeOfUnknownPointerIsNoop(t *testing.T) {
	a := New(nil, false)
	require.NotPanics(t, func() { a.Free(0xdead) })
	require.EqualValues(t, 0, a.Total().Leaked)
}

func TestReallocSameAddressCountsAsAllocAndFree(t *testing.T) {
	a := New(nil, false)
	a.Alloc(8, ids.TraceIndex(1), 0x1000)
	a.Realloc(0x1000, 0x1000, 16, ids.TraceIndex(2))

	require.EqualValues(t, 2, a.Total().Allocations)
	require.EqualValues(t, 16, a.Total().Leaked)
}

func TestPeakTracksMaximumLiveBytes(t *testing.T) {
	a := New(nil, false)
	a.Alloc(100, ids.TraceIndex(1), 1)
	a.Alloc(50, ids.TraceIndex(1), 2)
	a.Free(1)

	alloc := a.trace(ids.TraceIndex(1))
	require.EqualValues(t, 150, alloc.Peak)
	require.EqualValues(t, 50, alloc.Leaked)
}

func TestLeakedInvariantSumsToTotal(t *testing.T) {
	a := New(nil, false)
	a.Alloc(10, ids.TraceIndex(1), 1)
	a.Alloc(20, ids.TraceIndex(2), 2)
	a.Free(1)

	var sum int64
	for _, alloc := range a.Allocations() {
		sum += alloc.Leaked
	}
	require.Equal(t, a.Total().Leaked, sum)
}

func TestOverwriteLiveAllocationDoesNotPanic(t *testing.T) {
	a := New(nil, false)
	a.Alloc(10, ids.TraceIndex(1), 1)
	require.NotPanics(t, func() { a.Alloc(20, ids.TraceIndex(1), 1) })
}

func TestSizeHistogram(t *testing.T) {
	a := New(nil, true)
	a.Alloc(10, ids.TraceIndex(1), 1)
	a.Alloc(10, ids.TraceIndex(1), 2)
	a.Alloc(20, ids.TraceIndex(1), 3)

	hist := a.SizeHistogram()
	require.Equal(t, []HistogramEntry{{Size: 10, Count: 2}, {Size: 20, Count: 1}}, hist)
}

func TestDiffAllowsNegativeResult(t *testing.T) {
	primary := []Allocation{{Trace: 1, Leaked: 10}}
	secondary := []Allocation{{Trace: 1, Leaked: 30}}

	diffed := Diff(primary, secondary)
	require.EqualValues(t, -20, diffed[0].Leaked)
}
