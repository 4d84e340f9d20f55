// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calltree interns instruction pointers and stores call
// traces as a parent-linked forest, dense enough to hold tens of
// millions of frames.
package calltree

import (
	"strconv"
	"strings"

	"github.com/KDE/heaptrack-sub001/internal/ids"
)

// Frame is one resolved (function, file, line) triple.
type Frame struct {
	Func ids.StringIndex
	File ids.StringIndex
	Line int32
}

// equal compares two frames ignoring nothing else - a Frame carries no
// address, so equality here already is "without address".
func (f Frame) equal(o Frame) bool {
	return f.Func == o.Func && f.File == o.File && f.Line == o.Line
}

// InstructionPointer is a symbolized instruction pointer: the frame it
// resolved to, plus any inlined frames nested inside it, outermost
// first.
type InstructionPointer struct {
	Module  ids.ModuleIndex
	Frame   Frame
	Inlined []Frame
	RawIP   uint64
}

// EqualWithoutAddress reports whether two IPs resolve to the same
// logical call site, ignoring the raw address. Two IPs that satisfy
// this are still distinct IpIndex entries (duplication happens at
// intern time, based on RawIP); the report engine is what merges them.
func (ip InstructionPointer) EqualWithoutAddress(o InstructionPointer) bool {
	if !ip.Frame.equal(o.Frame) || len(ip.Inlined) != len(o.Inlined) {
		return false
	}
	for i := range ip.Inlined {
		if !ip.Inlined[i].equal(o.Inlined[i]) {
			return false
		}
	}
	return true
}

// KeyWithoutAddress returns a string that two IPs share iff
// EqualWithoutAddress reports true for them, so callers that need to
// group IPs by logical call site (the report engine's merge step) can
// use a plain map instead of an O(n) linear scan.
func (ip InstructionPointer) KeyWithoutAddress() string {
	var b strings.Builder
	writeFrame := func(f Frame) {
		b.WriteString(strconv.FormatUint(uint64(f.Func), 36))
		b.WriteByte(',')
		b.WriteString(strconv.FormatUint(uint64(f.File), 36))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(int64(f.Line), 36))
		b.WriteByte(';')
	}
	writeFrame(ip.Frame)
	b.WriteByte('|')
	for _, f := range ip.Inlined {
		writeFrame(f)
	}
	return b.String()
}

// IPTable interns raw instruction pointers into InstructionPointer
// records, indexed from 1 (0 is reserved for "absent").
type IPTable struct {
	byRaw   map[uint64]ids.IpIndex
	entries []InstructionPointer
}

// NewIPTable returns an empty table.
func NewIPTable() *IPTable {
	return &IPTable{byRaw: make(map[uint64]ids.IpIndex)}
}

// Intern looks up or creates the IP record for rawIP, symbolizing via
// resolve on first sight. resolve is only called once per distinct
// raw address.
func (t *IPTable) Intern(rawIP uint64, resolve func(uint64) (ids.ModuleIndex, Frame, []Frame)) ids.IpIndex {
	if rawIP == 0 {
		return 0
	}
	if idx, ok := t.byRaw[rawIP]; ok {
		return idx
	}
	mod, frame, inlined := resolve(rawIP)
	idx := ids.IpIndex(len(t.entries) + 1)
	t.entries = append(t.entries, InstructionPointer{Module: mod, Frame: frame, Inlined: inlined, RawIP: rawIP})
	t.byRaw[rawIP] = idx
	return idx
}

// Get returns the InstructionPointer for idx. idx must be valid or 0.
func (t *IPTable) Get(idx ids.IpIndex) InstructionPointer {
	if idx == 0 || int(idx) > len(t.entries) {
		return InstructionPointer{}
	}
	return t.entries[idx-1]
}

// Len returns the number of interned instruction pointers.
func (t *IPTable) Len() int { return len(t.entries) }
