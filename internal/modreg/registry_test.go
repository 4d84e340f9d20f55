// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package modreg

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/KDE/heaptrack-sub001/internal/strintern"
)

func newTestRegistry() (*Registry, *strintern.Pool) {
	strs := strintern.New()
	log := logrus.New()
	return New(strs, log), strs
}

func TestResolveNoModules(t *testing.T) {
	r, _ := newTestRegistry()
	_, ok := r.Resolve(0x1000)
	require.False(t, ok)
}

func TestResolveSingleModule(t *testing.T) {
	r, strs := newTestRegistry()
	a := strs.Intern("a.so")
	r.AddModule(a, false, 0x1000, 0x2000)

	m, ok := r.Resolve(0x1500)
	require.True(t, ok)
	require.Equal(t, a, m.File)

	_, ok = r.Resolve(0x2500)
	require.False(t, ok)
}

func TestResolveOverlapPicksLowerStart(t *testing.T) {
	r, strs := newTestRegistry()
	a := strs.Intern("a.so")
	b := strs.Intern("b.so")
	r.AddModule(a, false, 0x1000, 0x2000)
	r.AddModule(b, false, 0x1800, 0x3000)

	m, ok := r.Resolve(0x1900)
	require.True(t, ok)
	require.Equal(t, a, m.File, "binary search on end>ip should land on the first covering module")
}

func TestClearModulesWipesSet(t *testing.T) {
	r, strs := newTestRegistry()
	a := strs.Intern("a.so")
	r.AddModule(a, false, 0x1000, 0x2000)
	r.ClearModules()

	_, ok := r.Resolve(0x1500)
	require.False(t, ok)
}

func TestModulesSortedByStartThenEndThenFile(t *testing.T) {
	r, strs := newTestRegistry()
	c := strs.Intern("c.so")
	a := strs.Intern("a.so")
	r.AddModule(c, false, 0x1000, 0x1500)
	r.AddModule(a, false, 0x1000, 0x1500)

	mods := r.Modules()
	require.Len(t, mods, 2)
	require.Equal(t, a, mods[0].File)
	require.Equal(t, c, mods[1].File)
}

func TestByIndexSurvivesClear(t *testing.T) {
	r, strs := newTestRegistry()
	a := strs.Intern("a.so")
	idx := r.AddModule(a, false, 0x1000, 0x2000)
	r.ClearModules()

	m, ok := r.ByIndex(idx)
	require.True(t, ok)
	require.Equal(t, a, m.File)

	_, ok = r.ByIndex(0)
	require.False(t, ok)
	_, ok = r.ByIndex(idx + 1)
	require.False(t, ok)
}

func TestIsVDSO(t *testing.T) {
	strs := strintern.New()
	m := &Module{File: strs.Intern("linux-vdso.so.1")}
	require.True(t, m.IsVDSO(strs))

	m2 := &Module{File: strs.Intern("/lib/libc.so.6")}
	require.False(t, m2.IsVDSO(strs))
}
