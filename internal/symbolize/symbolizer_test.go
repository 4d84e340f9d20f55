// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbolize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangesContain(t *testing.T) {
	ranges := [][2]uint64{{0x1000, 0x1010}, {0x2000, 0x2020}}
	require.True(t, rangesContain(ranges, 0x1000))
	require.True(t, rangesContain(ranges, 0x100f))
	require.False(t, rangesContain(ranges, 0x1010)) // half-open: end excluded
	require.True(t, rangesContain(ranges, 0x2010))
	require.False(t, rangesContain(ranges, 0x1800))
	require.False(t, rangesContain(nil, 0x1000))
}

func TestSymbolFallbackPicksNearestPrecedingSymbol(t *testing.T) {
	ms := &ModuleState{
		demangler:     NewDemangler(),
		symCacheBuilt: true,
		symCache: []symEntry{
			{offset: 0x1000, size: 0x20, name: "first"},
			{offset: 0x1020, size: 0x10, name: "second"},
			{offset: 0x2000, size: 0, name: "unbounded_tail"},
		},
	}
	require.Equal(t, "first", ms.symbolFallback(0x1005))
	require.Equal(t, "second", ms.symbolFallback(0x1020))
	require.Equal(t, "", ms.symbolFallback(0x1030)) // past end of "second", before "unbounded_tail"
	require.Equal(t, "unbounded_tail", ms.symbolFallback(0x5000))
	require.Equal(t, "", ms.symbolFallback(0x500))
}

func TestDedupByOffsetKeepsFirstInsertedOnTies(t *testing.T) {
	entries := []symEntry{
		{offset: 0x1000, name: "first"},
		{offset: 0x1000, name: "second"},
		{offset: 0x1000, name: "third"},
		{offset: 0x2000, name: "fourth"},
	}
	out := dedupByOffset(entries)
	require.Len(t, out, 2)
	require.Equal(t, "first", out[0].name)
	require.Equal(t, "fourth", out[1].name)
}

func TestSymbolFallbackNoELFReturnsEmpty(t *testing.T) {
	ms := &ModuleState{demangler: NewDemangler()}
	require.Equal(t, "", ms.symbolFallback(0x1000))
}

func TestSymbolFallbackDemanglesAndCaches(t *testing.T) {
	ms := &ModuleState{
		demangler:     NewDemangler(),
		symCacheBuilt: true,
		symCache: []symEntry{
			{offset: 0x1000, size: 0x10, name: "_ZN3foo3barEv"},
		},
	}
	got := ms.symbolFallback(0x1000)
	require.Equal(t, got, ms.symCache[0].demangled)
	require.True(t, ms.symCache[0].demangleOK)
}

func TestShortenTemplatesIntegratesWithFallbackNames(t *testing.T) {
	// Names coming back from the ELF/DWARF paths are plain strings;
	// ShortenTemplates is applied by the report layer afterward, so it
	// must tolerate names with no templates in them at all.
	require.Equal(t, "my_app_alloc", ShortenTemplates("my_app_alloc"))
	require.Equal(t, "std::vector<std::pair<…>>", ShortenTemplates("std::vector<std::pair<int, int>>"))
}
