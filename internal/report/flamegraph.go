// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"fmt"
	"io"

	"github.com/KDE/heaptrack-sub001/internal/calltree"
	"github.com/KDE/heaptrack-sub001/internal/costmodel"
	"github.com/KDE/heaptrack-sub001/internal/ids"
	"github.com/KDE/heaptrack-sub001/internal/strintern"
)

// WriteFlamegraph emits one line per trace in the de-facto
// stackcollapse format: a semicolon-joined stack from outermost to
// innermost frame, a space, and the selected cost. Inlined frames
// contribute their own semicolon-separated entries at the point in
// the stack where their enclosing IP appears.
func WriteFlamegraph(w io.Writer, allocs []costmodel.Allocation, metric CostMetric, traces *calltree.TraceTree, ipsTable *calltree.IPTable, strs *strintern.Pool) error {
	for _, a := range allocs {
		cost := metric.Value(a)
		if cost == 0 {
			continue
		}
		stack := flameStack(a.Trace, traces, ipsTable, strs)
		if len(stack) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s %d\n", joinSemicolon(stack), cost); err != nil {
			return err
		}
	}
	return nil
}

// flameStack walks trace's parent chain, stopping at a stop function
// or on a repeated trace index, and returns frame labels ordered
// outermost-first (the order stackcollapse expects).
func flameStack(trace ids.TraceIndex, traces *calltree.TraceTree, ipsTable *calltree.IPTable, strs *strintern.Pool) []string {
	var frames []string
	visited := make(map[ids.TraceIndex]bool)
	for trace != 0 {
		if visited[trace] {
			break
		}
		visited[trace] = true
		node := traces.Get(trace)
		ip := ipsTable.Get(node.IP)

		for i := len(ip.Inlined) - 1; i >= 0; i-- {
			frames = append(frames, frameLabel(ip.Inlined[i].Func, ip.Inlined[i].File, strs))
		}
		frames = append(frames, frameLabel(ip.Frame.Func, ip.Frame.File, strs))

		if stopFunctions[strs.String(ip.Frame.Func)] {
			break
		}
		trace = node.Parent
	}
	reverse(frames)
	return frames
}

func frameLabel(fn, file ids.StringIndex, strs *strintern.Pool) string {
	name := strs.String(fn)
	if name == "" {
		name = "??"
	}
	return fmt.Sprintf("%s (%s)", name, strs.String(file))
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func joinSemicolon(s []string) string {
	out := s[0]
	for _, x := range s[1:] {
		out += ";" + x
	}
	return out
}
