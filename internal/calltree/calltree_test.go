// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calltree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KDE/heaptrack-sub001/internal/ids"
)

func TestIPInternZeroIsAbsent(t *testing.T) {
	tbl := NewIPTable()
	require.EqualValues(t, 0, tbl.Intern(0, func(uint64) (ids.ModuleIndex, Frame, []Frame) {
		t.Fatal("resolve should not be called for a zero IP")
		return 0, Frame{}, nil
	}))
}

func TestIPInternResolvesOnce(t *testing.T) {
	tbl := NewIPTable()
	calls := 0
	resolve := func(uint64) (ids.ModuleIndex, Frame, []Frame) {
		calls++
		return 1, Frame{Func: 2, File: 3, Line: 4}, nil
	}
	a := tbl.Intern(0x1000, resolve)
	b := tbl.Intern(0x1000, resolve)
	require.Equal(t, a, b)
	require.Equal(t, 1, calls)
}

func TestIPEqualWithoutAddress(t *testing.T) {
	ip1 := InstructionPointer{Frame: Frame{Func: 1, File: 2, Line: 3}, RawIP: 0x1000}
	ip2 := InstructionPointer{Frame: Frame{Func: 1, File: 2, Line: 3}, RawIP: 0x2000}
	require.True(t, ip1.EqualWithoutAddress(ip2))

	ip3 := InstructionPointer{Frame: Frame{Func: 1, File: 2, Line: 99}, RawIP: 0x1000}
	require.False(t, ip1.EqualWithoutAddress(ip3))
}

func TestTraceTreeInternAndRoots(t *testing.T) {
	tt := NewTraceTree()
	ipA := ids.IpIndex(1)
	ipB := ids.IpIndex(2)

	root := tt.Intern(ipA, 0)
	require.EqualValues(t, 1, root)

	child := tt.Intern(ipB, root)
	require.Greater(t, child, root)

	again := tt.Intern(ipA, 0)
	require.Equal(t, root, again)

	node := tt.Get(child)
	require.Equal(t, ipB, node.IP)
	require.Equal(t, root, node.Parent)
}

func TestTraceTreeGetOutOfRange(t *testing.T) {
	tt := NewTraceTree()
	require.Equal(t, TraceNode{}, tt.Get(0))
	require.Equal(t, TraceNode{}, tt.Get(99))
}
