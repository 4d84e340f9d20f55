// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package analysis owns the App context that ties every other
// internal package together: it dispatches the wire event stream by
// tag, feeds module/IP/trace records into their respective tables,
// and drives the cost model and suppression matcher as allocation
// events arrive. It is the Go re-expression of heaptrack_print's
// ReportBuilder/AccumulatedTraceData pairing, collapsed into a single
// explicit context per spec.md §9 instead of a base-class hook and a
// handful of global singletons.
package analysis

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/KDE/heaptrack-sub001/internal/calltree"
	"github.com/KDE/heaptrack-sub001/internal/costmodel"
	"github.com/KDE/heaptrack-sub001/internal/ids"
	"github.com/KDE/heaptrack-sub001/internal/modreg"
	"github.com/KDE/heaptrack-sub001/internal/strintern"
	"github.com/KDE/heaptrack-sub001/internal/suppress"
	"github.com/KDE/heaptrack-sub001/internal/symbolize"
	"github.com/KDE/heaptrack-sub001/internal/wire"
)

// App is the single explicit context owning every table built while
// reading one event stream. Where the original program reached for
// global singletons (the demangler, the dump-malloc-info
// auto-initializer), App owns the equivalent state as plain fields
// and passes it down through constructors instead.
type App struct {
	Log *logrus.Logger

	Strs    *strintern.Pool
	Modules *modreg.Registry
	IPs     *calltree.IPTable
	Traces  *calltree.TraceTree
	Cost    *costmodel.Accumulator

	Suppressions *suppress.Set
	Demangler    *symbolize.Demangler

	DebuggeeCmd string

	moduleStates map[ids.ModuleIndex]*symbolize.ModuleState
}

// NewApp returns an App ready to ingest an event stream. recordHistogram
// enables the per-event size histogram (--print-histogram); suppressions
// is normally suppress.Builtin().
func NewApp(log *logrus.Logger, recordHistogram bool, suppressions []suppress.Suppression) *App {
	strs := strintern.New()
	return &App{
		Log:          log,
		Strs:         strs,
		Modules:      modreg.New(strs, log),
		IPs:          calltree.NewIPTable(),
		Traces:       calltree.NewTraceTree(),
		Cost:         costmodel.New(log, recordHistogram),
		Suppressions: suppress.NewSet(suppressions),
		Demangler:    symbolize.NewDemangler(),
		moduleStates: make(map[ids.ModuleIndex]*symbolize.ModuleState),
	}
}

// Run consumes r to EOF, dispatching every record. A malformed record
// or I/O error aborts with the offending line number, per §7: no
// partial report is produced by the caller once Run returns an error.
func (a *App) Run(r io.Reader) error {
	rd := wire.NewReader(r)
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := a.dispatch(&rec); err != nil {
			return fmt.Errorf("line %d: %w", rec.Line, err)
		}
	}
}

func (a *App) dispatch(rec *wire.Record) error {
	switch rec.Tag {
	case wire.TagString:
		a.Strs.Intern(rec.ReadString())
	case wire.TagModule:
		return a.handleModule(rec)
	case wire.TagIP:
		return a.handleIP(rec)
	case wire.TagTrace:
		return a.handleTrace(rec)
	case wire.TagAlloc:
		return a.handleAlloc(rec)
	case wire.TagFree:
		return a.handleFree(rec)
	case wire.TagTimestamp:
		return a.handleTimestamp(rec)
	case wire.TagRSS:
		return a.handleRSS(rec)
	case wire.TagDebuggee:
		a.DebuggeeCmd = rec.ReadString()
	default:
		// Unknown tags are passed through verbatim by the interpreter
		// stage upstream of this analyzer; nothing to do here.
	}
	return nil
}

func (a *App) handleModule(rec *wire.Record) error {
	if rec.IsClearAll() {
		a.Modules.ClearModules()
		return nil
	}
	file, ok1 := rec.ReadHex()
	isExe, ok2 := rec.ReadHex()
	start, ok3 := rec.ReadHex()
	end, ok4 := rec.ReadHex()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return fmt.Errorf("malformed module record")
	}
	a.Modules.AddModule(ids.StringIndex(file), isExe != 0, start, end)
	return nil
}

func (a *App) handleIP(rec *wire.Record) error {
	rawIP, ok := rec.ReadHex()
	if !ok {
		return fmt.Errorf("malformed ip record: missing address")
	}
	moduleRaw, ok := rec.ReadHex()
	if !ok {
		return fmt.Errorf("malformed ip record: missing module")
	}
	modIdx := ids.ModuleIndex(moduleRaw)

	var inlineFrame calltree.Frame
	haveInline := false
	if rec.HasMore() {
		fn, ok := rec.ReadHex()
		if !ok {
			return fmt.Errorf("malformed ip record: bad function index")
		}
		inlineFrame.Func = ids.StringIndex(fn)
		haveInline = true
		if rec.HasMore() {
			file, ok1 := rec.ReadHex()
			line, ok2 := rec.ReadHex()
			if !ok1 || !ok2 {
				return fmt.Errorf("malformed ip record: bad file/line")
			}
			inlineFrame.File = ids.StringIndex(file)
			inlineFrame.Line = int32(line)
		}
	}

	a.IPs.Intern(rawIP, func(raw uint64) (ids.ModuleIndex, calltree.Frame, []calltree.Frame) {
		if haveInline {
			return modIdx, inlineFrame, nil
		}
		frame, inlined := a.symbolizeLazy(modIdx, raw)
		return modIdx, frame, inlined
	})
	return nil
}

// symbolizeLazy resolves raw against the module registered under
// modIdx, building (and caching) that module's DWARF/ELF state on
// first use. It never errors: a module with no usable debug info
// simply yields an empty or partially-empty frame, per §7.
func (a *App) symbolizeLazy(modIdx ids.ModuleIndex, raw uint64) (calltree.Frame, []calltree.Frame) {
	mod, ok := a.Modules.ByIndex(modIdx)
	if !ok {
		return calltree.Frame{}, nil
	}
	ms := a.moduleState(modIdx, mod)
	if ms == nil {
		return calltree.Frame{}, nil
	}

	resolved := ms.Resolve(raw)
	frame := calltree.Frame{
		Func: a.Strs.Intern(resolved.Frame.Func),
		File: a.Strs.Intern(resolved.Frame.File),
		Line: resolved.Frame.Line,
	}
	var inlined []calltree.Frame
	for _, f := range resolved.Inlined {
		inlined = append(inlined, calltree.Frame{
			Func: a.Strs.Intern(f.Func),
			File: a.Strs.Intern(f.File),
			Line: f.Line,
		})
	}
	return frame, inlined
}

// moduleState returns the cached symbolization state for modIdx,
// building it on first use. The virtual DSO never carries a real
// file, so it is never opened.
func (a *App) moduleState(modIdx ids.ModuleIndex, mod *modreg.Module) *symbolize.ModuleState {
	if ms, ok := a.moduleStates[modIdx]; ok {
		return ms
	}
	if mod.IsVDSO(a.Strs) {
		mod.SetSym(nil)
		a.moduleStates[modIdx] = nil
		return nil
	}
	ms := symbolize.LoadModuleState(a.Strs.String(mod.File), mod.Start, a.Log, a.Demangler)
	mod.SetSym(ms)
	a.moduleStates[modIdx] = ms
	return ms
}

func (a *App) handleTrace(rec *wire.Record) error {
	ip, ok1 := rec.ReadHex()
	parent, ok2 := rec.ReadHex()
	if !ok1 || !ok2 {
		return fmt.Errorf("malformed trace record")
	}
	a.Traces.Intern(ids.IpIndex(ip), ids.TraceIndex(parent))
	return nil
}

func (a *App) handleAlloc(rec *wire.Record) error {
	size, ok1 := rec.ReadHex()
	trace, ok2 := rec.ReadHex()
	ptr, ok3 := rec.ReadHex()
	if !ok1 || !ok2 || !ok3 {
		return fmt.Errorf("malformed allocation record")
	}
	traceIdx := ids.TraceIndex(trace)
	a.Cost.Alloc(size, traceIdx, ptr)
	a.matchSuppressions(traceIdx)
	return nil
}

func (a *App) handleFree(rec *wire.Record) error {
	ptr, ok := rec.ReadHex()
	if !ok {
		return fmt.Errorf("malformed free record")
	}
	a.Cost.Free(ptr)
	return nil
}

func (a *App) handleTimestamp(rec *wire.Record) error {
	t, ok := rec.ReadHex()
	if !ok {
		return fmt.Errorf("malformed timestamp record")
	}
	a.Cost.Timestamp(int64(t))
	return nil
}

func (a *App) handleRSS(rec *wire.Record) error {
	b, ok := rec.ReadHex()
	if !ok {
		return fmt.Errorf("malformed rss record")
	}
	a.Cost.RSS(b)
	return nil
}

// matchSuppressions credits a trace's matching suppressions as soon
// as the allocation lands, mirroring §4.6's "suppression counter
// update" event semantics. credited tracks, by suppression index,
// which suppressions this one allocation has already contributed a
// match to, so a pattern that matches more than one frame along the
// trace (a recursive function, or the same name appearing both
// inlined and as an outer frame) is still only counted once per
// allocation. Leaked-byte tallies are finalized once, at report time,
// over whatever allocations are still live.
func (a *App) matchSuppressions(trace ids.TraceIndex) {
	if a.Suppressions == nil {
		return
	}
	credited := make(map[int]bool)
	visited := make(map[ids.TraceIndex]bool)
	for trace != 0 {
		if visited[trace] {
			return
		}
		visited[trace] = true
		node := a.Traces.Get(trace)
		ip := a.IPs.Get(node.IP)
		if fn := a.Strs.String(ip.Frame.Func); fn != "" {
			a.Suppressions.CreditMatchOnce(fn, credited)
		}
		for _, f := range ip.Inlined {
			if fn := a.Strs.String(f.Func); fn != "" {
				a.Suppressions.CreditMatchOnce(fn, credited)
			}
		}
		trace = node.Parent
	}
}

// FinalizeSuppressions credits each surviving (still-leaked)
// allocation's outstanding bytes to every suppression whose pattern
// matches a frame in its trace, per §4.6's finalization step.
func (a *App) FinalizeSuppressions(allocs []costmodel.Allocation) {
	if a.Suppressions == nil {
		return
	}
	for _, alloc := range allocs {
		if alloc.Leaked == 0 {
			continue
		}
		trace := alloc.Trace
		visited := make(map[ids.TraceIndex]bool)
		for trace != 0 {
			if visited[trace] {
				break
			}
			visited[trace] = true
			node := a.Traces.Get(trace)
			ip := a.IPs.Get(node.IP)
			if fn := a.Strs.String(ip.Frame.Func); fn != "" {
				a.Suppressions.AddLeaked(fn, alloc.Leaked)
			}
			for _, f := range ip.Inlined {
				if fn := a.Strs.String(f.Func); fn != "" {
					a.Suppressions.AddLeaked(fn, alloc.Leaked)
				}
			}
			trace = node.Parent
		}
	}
}

// Close releases every module's open file handle.
func (a *App) Close() {
	for _, ms := range a.moduleStates {
		if ms != nil {
			ms.Close()
		}
	}
}
