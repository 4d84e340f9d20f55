// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symbolize resolves an absolute instruction pointer to a
// symbolic (function, file, line, inlined-frames) tuple using a
// module's DWARF debug information, falling back to its ELF symbol
// table when no DWARF is present. All state is scoped to a single
// loaded object and cached per compile unit and per DIE, since a
// heap profile can re-resolve the same handful of addresses millions
// of times.
package symbolize

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"math"
	"path"
	"sort"

	"github.com/sirupsen/logrus"
)

// ResolvedFrame is one resolved (function, file, line) triple.
type ResolvedFrame struct {
	Func string
	File string
	Line int32
}

// Resolved is the full result of resolving one instruction pointer:
// the frame it lands in, plus any inlined frames nested inside it,
// outermost first. Any field the symbolizer couldn't recover is left
// at its zero value.
type Resolved struct {
	Frame   ResolvedFrame
	Inlined []ResolvedFrame
}

// ModuleState is the lazily-built symbolization state for one loaded
// object. It is expensive to construct (it opens and parses an ELF
// file) and cheap to query, so callers build one per module and keep
// it for the life of the analysis.
type ModuleState struct {
	path      string
	bias      uint64
	elfFile   *elf.File
	dwarfData *dwarf.Data
	demangler *Demangler
	log       *logrus.Logger

	cus      []*cuEntry
	cusBuilt bool

	dieNameCache map[dwarf.Offset]string

	symCache      []symEntry
	symCacheBuilt bool
}

type cuEntry struct {
	entry      *dwarf.Entry
	ranges     [][2]uint64
	compDir    string
	lineReader *dwarf.LineReader
	lineFiles  []*dwarf.LineFile

	subs      []*subEntry
	subsBuilt bool
}

type subEntry struct {
	offset  dwarf.Offset
	ranges  [][2]uint64
	inlined []*inlinedEntry
}

type inlinedEntry struct {
	ranges         [][2]uint64
	abstractOrigin dwarf.Offset
	callFile       int64
	callLine       int64
}

type symEntry struct {
	offset     uint64
	size       uint64
	name       string
	demangled  string
	demangleOK bool
}

// LoadModuleState opens the ELF object at path and, if present, its
// DWARF debug info. moduleStart is the address the module was loaded
// at, used to compute the bias between link-time and runtime
// addresses for position-independent code. A module with no DWARF
// (or that fails to open as ELF at all) still returns a usable,
// mostly-empty state: Resolve then falls back to the ELF symbol
// table, or to nothing at all.
func LoadModuleState(path string, moduleStart uint64, log *logrus.Logger, dm *Demangler) *ModuleState {
	ms := &ModuleState{path: path, demangler: dm, log: log, dieNameCache: make(map[dwarf.Offset]string)}

	f, err := elf.Open(path)
	if err != nil {
		if log != nil {
			log.Debugf("symbolize: open %s: %v", path, err)
		}
		return ms
	}
	ms.elfFile = f
	ms.bias = computeBias(f, moduleStart)

	if d, err := f.DWARF(); err == nil {
		ms.dwarfData = d
	} else if log != nil {
		log.Debugf("symbolize: no usable DWARF in %s: %v", path, err)
	}
	return ms
}

// computeBias returns the difference between the module's runtime
// load address and the lowest virtual address of its PT_LOAD
// segments, i.e. the amount every link-time address must be shifted
// by to land on the right runtime address. Non-PIE executables have
// bias 0 since their lowest PT_LOAD vaddr already equals their load
// address.
func computeBias(f *elf.File, moduleStart uint64) uint64 {
	min := uint64(math.MaxUint64)
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Vaddr < min {
			min = p.Vaddr
		}
	}
	if min == math.MaxUint64 {
		return 0
	}
	return moduleStart - min
}

// Resolve symbolizes the absolute address addr within this module.
func (ms *ModuleState) Resolve(addr uint64) Resolved {
	if ms.dwarfData == nil {
		return Resolved{Frame: ResolvedFrame{Func: ms.symbolFallback(addr)}}
	}

	off := addr - ms.bias
	cu := ms.findCU(off)
	if cu == nil {
		return Resolved{Frame: ResolvedFrame{Func: ms.symbolFallback(addr)}}
	}
	sub := ms.findSubprogram(cu, off)
	if sub == nil {
		return Resolved{Frame: ResolvedFrame{Func: ms.symbolFallback(addr)}}
	}

	return Resolved{
		Frame:   ms.resolveFrame(cu, sub, off),
		Inlined: ms.resolveInlined(cu, sub, off),
	}
}

func (ms *ModuleState) findCU(off uint64) *cuEntry {
	if !ms.cusBuilt {
		ms.buildCUs()
		ms.cusBuilt = true
	}
	for _, cu := range ms.cus {
		if rangesContain(cu.ranges, off) {
			return cu
		}
	}
	return nil
}

// buildCUs does one linear pass building the compile-unit range
// mapping list; subprogram and inlined-scope discovery within each CU
// is deferred to findSubprogram, since most heap-allocating traces
// only ever touch a handful of compile units.
func (ms *ModuleState) buildCUs() {
	r := ms.dwarfData.Reader()
	for {
		e, err := r.Next()
		if err != nil || e == nil {
			return
		}
		if e.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		ranges, _ := ms.dwarfData.Ranges(e)
		compDir, _ := e.Val(dwarf.AttrCompDir).(string)
		ms.cus = append(ms.cus, &cuEntry{entry: e, ranges: ranges, compDir: compDir})
		r.SkipChildren()
	}
}

// containerFrame is one open (has-children) DIE on the path from a CU
// root down to the entry currently being visited during
// buildSubprograms's single depth-first walk.
type containerFrame struct {
	isScope   bool
	scopeName string
	isSub     bool
	sub       *subEntry
}

func (ms *ModuleState) findSubprogram(cu *cuEntry, off uint64) *subEntry {
	if !cu.subsBuilt {
		ms.buildSubprograms(cu)
		cu.subsBuilt = true
	}
	for _, s := range cu.subs {
		if rangesContain(s.ranges, off) {
			return s
		}
	}
	return nil
}

// buildSubprograms walks every descendant of cu's root DIE once,
// recording every DW_TAG_subprogram's range mapping and qualified
// name, and attaching every DW_TAG_inlined_subroutine to its nearest
// enclosing subprogram. Namespace, class, and struct DIEs contribute
// to the qualified name of any subprogram nested inside them.
func (ms *ModuleState) buildSubprograms(cu *cuEntry) {
	r := ms.dwarfData.Reader()
	r.Seek(cu.entry.Offset)
	if _, err := r.Next(); err != nil { // consume the CU entry itself
		return
	}

	var containers []containerFrame
	for {
		e, err := r.Next()
		if err != nil || e == nil {
			return
		}
		if e.Tag == 0 {
			if len(containers) > 0 {
				containers = containers[:len(containers)-1]
			} else {
				return // end of this CU's sibling chain
			}
			continue
		}

		pushed := containerFrame{}
		switch e.Tag {
		case dwarf.TagNamespace, dwarf.TagClassType, dwarf.TagStructType:
			pushed = containerFrame{isScope: true, scopeName: dieName(e)}
		case dwarf.TagSubprogram:
			ranges, _ := ms.dwarfData.Ranges(e)
			sub := &subEntry{offset: e.Offset, ranges: ranges}
			cu.subs = append(cu.subs, sub)
			ms.dieNameCache[e.Offset] = ms.qualifiedName(e, containers)
			pushed = containerFrame{isSub: true, sub: sub}
		case dwarf.TagInlinedSubroutine:
			ranges, _ := ms.dwarfData.Ranges(e)
			ie := &inlinedEntry{ranges: ranges}
			if origin, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset); ok {
				ie.abstractOrigin = origin
			}
			if cf, ok := e.Val(dwarf.AttrCallFile).(int64); ok {
				ie.callFile = cf
			}
			if cl, ok := e.Val(dwarf.AttrCallLine).(int64); ok {
				ie.callLine = cl
			}
			for i := len(containers) - 1; i >= 0; i-- {
				if containers[i].isSub {
					containers[i].sub.inlined = append(containers[i].sub.inlined, ie)
					break
				}
			}
		}

		if e.Children {
			containers = append(containers, pushed)
		}
	}
}

// qualifiedName computes a fully qualified, demangled name for e: the
// linkage name if present, otherwise e's own name prefixed by the
// name of every enclosing namespace/class/struct scope in
// containers, joined with "::". Results are cached per DIE offset by
// the caller, matching heaptrack's DwarfDieCache.
func (ms *ModuleState) qualifiedName(e *dwarf.Entry, containers []containerFrame) string {
	if link, ok := e.Val(dwarf.AttrLinkageName).(string); ok && link != "" {
		return ms.demangler.Demangle(link)
	}
	name := dieName(e)
	if name == "" {
		if spec, ok := e.Val(dwarf.AttrSpecification).(dwarf.Offset); ok {
			if specEntry := ms.entryAt(spec); specEntry != nil {
				return ms.qualifiedName(specEntry, containers)
			}
		}
	}

	var parts []string
	for _, c := range containers {
		if c.isScope && c.scopeName != "" {
			parts = append(parts, c.scopeName)
		}
	}
	if name != "" {
		parts = append(parts, name)
	}
	if len(parts) == 0 {
		return name
	}
	joined := parts[0]
	for _, p := range parts[1:] {
		joined += "::" + p
	}
	return joined
}

func dieName(e *dwarf.Entry) string {
	name, _ := e.Val(dwarf.AttrName).(string)
	return name
}

// entryAt re-seeks a fresh Reader to off and returns the entry there,
// used to follow DW_AT_specification/DW_AT_abstract_origin
// references, which may point anywhere in the same compile unit.
func (ms *ModuleState) entryAt(off dwarf.Offset) *dwarf.Entry {
	r := ms.dwarfData.Reader()
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		return nil
	}
	return e
}

func (ms *ModuleState) resolveFrame(cu *cuEntry, sub *subEntry, off uint64) ResolvedFrame {
	name := ms.dieNameCache[sub.offset]
	file, line := ms.lineForAddr(cu, off)
	return ResolvedFrame{Func: name, File: file, Line: line}
}

func (ms *ModuleState) resolveInlined(cu *cuEntry, sub *subEntry, off uint64) []ResolvedFrame {
	var out []ResolvedFrame
	for _, ie := range sub.inlined {
		if !rangesContain(ie.ranges, off) {
			continue
		}
		name := ""
		if ie.abstractOrigin != 0 {
			if cached, ok := ms.dieNameCache[ie.abstractOrigin]; ok {
				name = cached
			} else if origin := ms.entryAt(ie.abstractOrigin); origin != nil {
				name = ms.qualifiedName(origin, nil)
				ms.dieNameCache[ie.abstractOrigin] = name
			}
		}
		out = append(out, ResolvedFrame{
			Func: name,
			File: ms.fileName(cu, ie.callFile),
			Line: int32(ie.callLine),
		})
	}
	return out
}

func (ms *ModuleState) lineForAddr(cu *cuEntry, off uint64) (string, int32) {
	lr := ms.lineReaderFor(cu)
	if lr == nil {
		return "", 0
	}
	var entry dwarf.LineEntry
	if err := lr.SeekPC(off, &entry); err != nil {
		return "", 0
	}
	return ms.resolvePath(cu, entry.File), int32(entry.Line)
}

func (ms *ModuleState) lineReaderFor(cu *cuEntry) *dwarf.LineReader {
	if cu.lineReader != nil {
		return cu.lineReader
	}
	lr, err := ms.dwarfData.LineReader(cu.entry)
	if err != nil || lr == nil {
		return nil
	}
	cu.lineReader = lr
	cu.lineFiles = lr.Files()
	return lr
}

func (ms *ModuleState) fileName(cu *cuEntry, fileIdx int64) string {
	if cu.lineFiles == nil {
		ms.lineReaderFor(cu) // populate cu.lineFiles as a side effect
	}
	if fileIdx < 0 || int(fileIdx) >= len(cu.lineFiles) || cu.lineFiles[fileIdx] == nil {
		return ""
	}
	return ms.resolvePath(cu, cu.lineFiles[fileIdx])
}

func (ms *ModuleState) resolvePath(cu *cuEntry, f *dwarf.LineFile) string {
	if f == nil || f.Name == "" {
		return ""
	}
	if path.IsAbs(f.Name) || cu.compDir == "" {
		return f.Name
	}
	return path.Join(cu.compDir, f.Name)
}

// symbolFallback resolves addr using the module's ELF symbol table,
// for modules with no DWARF at all (stripped binaries, system
// libraries shipped without debug info).
func (ms *ModuleState) symbolFallback(addr uint64) string {
	if ms.elfFile == nil {
		return ""
	}
	if !ms.symCacheBuilt {
		ms.buildSymCache()
		ms.symCacheBuilt = true
	}
	off := addr - ms.bias
	n := len(ms.symCache)
	i := sort.Search(n, func(i int) bool { return ms.symCache[i].offset > off }) - 1
	if i < 0 {
		return ""
	}
	e := &ms.symCache[i]
	if e.size != 0 && off >= e.offset+e.size {
		return ""
	}
	if !e.demangleOK {
		e.demangled = ms.demangler.Demangle(e.name)
		e.demangleOK = true
	}
	return e.demangled
}

func (ms *ModuleState) buildSymCache() {
	syms, err := ms.elfFile.Symbols()
	if err != nil || len(syms) == 0 {
		syms, _ = ms.elfFile.DynamicSymbols()
	}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
			continue
		}
		ms.symCache = append(ms.symCache, symEntry{offset: s.Value, size: s.Size, name: s.Name})
	}
	// Stable sort so that, on equal offset, the first-inserted entry
	// sorts first; then dedup each equal-offset run down to that first
	// entry, so the binary search above can never land on a later
	// duplicate - matching addr2line's tie-break.
	sort.SliceStable(ms.symCache, func(i, j int) bool { return ms.symCache[i].offset < ms.symCache[j].offset })
	ms.symCache = dedupByOffset(ms.symCache)
}

// dedupByOffset collapses consecutive entries sharing the same offset
// down to the first one in entries' order.
func dedupByOffset(entries []symEntry) []symEntry {
	if len(entries) == 0 {
		return entries
	}
	out := entries[:1]
	for _, e := range entries[1:] {
		if e.offset == out[len(out)-1].offset {
			continue
		}
		out = append(out, e)
	}
	return out
}

// rangesContain reports whether any [low, high) range in ranges
// contains addr.
func rangesContain(ranges [][2]uint64, addr uint64) bool {
	for _, rg := range ranges {
		if addr >= rg[0] && addr < rg[1] {
			return true
		}
	}
	return false
}

// Close releases the module's open file handle.
func (ms *ModuleState) Close() error {
	if ms.elfFile == nil {
		return nil
	}
	if err := ms.elfFile.Close(); err != nil {
		return fmt.Errorf("close %s: %w", ms.path, err)
	}
	return nil
}
