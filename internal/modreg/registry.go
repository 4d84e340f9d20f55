// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package modreg implements the module registry: an ordered,
// non-overlapping set of loaded-object address ranges, searchable by
// instruction pointer.
package modreg

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/KDE/heaptrack-sub001/internal/ids"
	"github.com/KDE/heaptrack-sub001/internal/strintern"
)

// vdsoPrefix marks the synthetic kernel-mapped DSO that never has a
// file backing it; symbolization state is never built for it.
const vdsoPrefix = "linux-vdso.so"

// Module describes one loaded object's address range. Sym is an
// opaque per-module symbolization handle owned by package symbolize;
// the registry never looks inside it.
type Module struct {
	File    ids.StringIndex
	IsExe   bool
	Start   uint64
	End     uint64
	Sym     interface{}
	symBuilt bool
}

// IsVDSO reports whether m is the synthetic virtual DSO that never
// carries its own file on disk.
func (m *Module) IsVDSO(strs *strintern.Pool) bool {
	return strings.HasPrefix(strs.String(m.File), vdsoPrefix)
}

// SymBuilt reports whether symbolization state has already been
// attempted for this module (successfully or not), so callers don't
// retry work for modules with no debug info on every resolve.
func (m *Module) SymBuilt() bool { return m.symBuilt }

// SetSym records the symbolization handle (or nil, if none could be
// built) and marks the module as having been processed.
func (m *Module) SetSym(sym interface{}) {
	m.Sym = sym
	m.symBuilt = true
}

// Registry is the set of modules currently mapped into the traced
// process's address space.
type Registry struct {
	strs    *strintern.Pool
	log     *logrus.Logger
	modules []*Module
	dirty   bool

	// byIndex holds every module ever added, in emission order,
	// addressed by the ModuleIndex the wire format's IP records
	// reference directly. Unlike modules, it is never reordered or
	// wiped by ClearModules: an IP record minted before a clear still
	// names a valid historical module.
	byIndex []*Module
}

// New returns an empty registry. strs is used only to stringify file
// names for the overlap diagnostic and the sort tie-break.
func New(strs *strintern.Pool, log *logrus.Logger) *Registry {
	return &Registry{strs: strs, log: log}
}

// AddModule appends a module load to the active set and returns its
// stable ModuleIndex. The active set is re-sorted (and checked for
// overlaps) lazily, on the next Resolve.
func (r *Registry) AddModule(file ids.StringIndex, isExe bool, start, end uint64) ids.ModuleIndex {
	m := &Module{File: file, IsExe: isExe, Start: start, End: end}
	r.modules = append(r.modules, m)
	r.byIndex = append(r.byIndex, m)
	r.dirty = true
	return ids.ModuleIndex(len(r.byIndex))
}

// ByIndex returns the module that was assigned idx by AddModule,
// regardless of any later ClearModules.
func (r *Registry) ByIndex(idx ids.ModuleIndex) (*Module, bool) {
	if idx == 0 || int(idx) > len(r.byIndex) {
		return nil, false
	}
	return r.byIndex[idx-1], true
}

// ClearModules wipes the active module set, e.g. when the traced
// program bulk-unloads shared libraries. Per the open question in
// spec.md §9, this only affects future resolution: IP and trace
// records that were already interned against these modules keep their
// already-resolved frames, reachable via ByIndex.
func (r *Registry) ClearModules() {
	r.modules = nil
	r.dirty = false
}

// Modules returns the current module set, sorted if necessary.
func (r *Registry) Modules() []*Module {
	r.ensureSorted()
	return r.modules
}

// Resolve returns the module covering ip, if any.
func (r *Registry) Resolve(ip uint64) (*Module, bool) {
	r.ensureSorted()

	n := len(r.modules)
	// Lower bound on "end > ip": the first module whose end address
	// exceeds ip is the only candidate, since the set is
	// non-overlapping (barring logged overlaps, in which case the
	// first covering module wins per §7).
	i := sort.Search(n, func(i int) bool {
		return r.modules[i].End > ip
	})
	if i == n {
		return nil, false
	}
	m := r.modules[i]
	if m.Start <= ip && ip <= m.End {
		return m, true
	}
	return nil, false
}

func (r *Registry) ensureSorted() {
	if !r.dirty {
		return
	}
	sort.Slice(r.modules, func(i, j int) bool {
		a, b := r.modules[i], r.modules[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return r.strs.String(a.File) < r.strs.String(b.File)
	})
	r.checkOverlaps()
	r.dirty = false
}

// checkOverlaps logs one diagnostic per overlapping pair of modules,
// in address order. Overlapping modules both stay in the set; Resolve
// returns whichever one the binary search lands on first.
func (r *Registry) checkOverlaps() {
	for i := 0; i < len(r.modules); i++ {
		m1 := r.modules[i]
		for j := i + 1; j < len(r.modules); j++ {
			m2 := r.modules[j]
			if m2.Start >= m1.End {
				break
			}
			if r.log != nil {
				r.log.Warnf("overlapping modules: %s (%#x-%#x) and %s (%#x-%#x)",
					r.strs.String(m1.File), m1.Start, m1.End,
					r.strs.String(m2.File), m2.Start, m2.End)
			}
		}
	}
}
