// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calltree

import "github.com/KDE/heaptrack-sub001/internal/ids"

// TraceNode is one node of the call-trace forest: the IP of the
// innermost frame at this point in the trace, and the parent node one
// level further out. TraceIndex(0) is the shared root (the "null
// trace") and is never stored; every stored node's Parent is strictly
// less than its own index by construction, so ordinary traversal needs
// no cycle detection.
type TraceNode struct {
	IP     ids.IpIndex
	Parent ids.TraceIndex
}

type traceKey struct {
	ip     ids.IpIndex
	parent ids.TraceIndex
}

// TraceTree interns (ip, parent) pairs into trace nodes.
type TraceTree struct {
	byPair map[traceKey]ids.TraceIndex
	nodes  []TraceNode
}

// NewTraceTree returns an empty tree. Index 0 is the implicit empty
// trace and is never stored in nodes.
func NewTraceTree() *TraceTree {
	return &TraceTree{byPair: make(map[traceKey]ids.TraceIndex)}
}

// Intern returns the trace index for (ip, parent), allocating a new
// node if this combination hasn't been seen before.
func (t *TraceTree) Intern(ip ids.IpIndex, parent ids.TraceIndex) ids.TraceIndex {
	key := traceKey{ip, parent}
	if idx, ok := t.byPair[key]; ok {
		return idx
	}
	idx := ids.TraceIndex(len(t.nodes) + 1)
	t.nodes = append(t.nodes, TraceNode{IP: ip, Parent: parent})
	t.byPair[key] = idx
	return idx
}

// Get returns the node for idx, or the zero node for idx == 0.
func (t *TraceTree) Get(idx ids.TraceIndex) TraceNode {
	if idx == 0 || int(idx) > len(t.nodes) {
		return TraceNode{}
	}
	return t.nodes[idx-1]
}

// Len returns the number of interned trace nodes.
func (t *TraceTree) Len() int { return len(t.nodes) }
