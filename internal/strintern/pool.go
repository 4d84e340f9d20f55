// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package strintern implements the string pool used to de-duplicate
// every string that flows through an event stream: module file names,
// function names, and source paths all collapse to small dense
// indices here.
package strintern

import "github.com/KDE/heaptrack-sub001/internal/ids"

// Pool is an append-only, order-preserving string interner. The empty
// string always maps to index 0 without being inserted, matching the
// wire format's "absent string" convention.
type Pool struct {
	strs []string
	idx  map[string]ids.StringIndex
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{idx: make(map[string]ids.StringIndex)}
}

// Intern returns the index for s, assigning a new one if s hasn't been
// seen before. Interning the same string always returns the same
// index; interning two different non-empty strings always returns
// different indices.
func (p *Pool) Intern(s string) ids.StringIndex {
	if s == "" {
		return 0
	}
	if id, ok := p.idx[s]; ok {
		return id
	}
	id := ids.StringIndex(len(p.strs) + 1)
	p.strs = append(p.strs, s)
	p.idx[s] = id
	return id
}

// String returns the string for i, or "" if i is 0 or out of range.
func (p *Pool) String(i ids.StringIndex) string {
	if i == 0 || int(i) > len(p.strs) {
		return ""
	}
	return p.strs[i-1]
}

// Len returns the number of distinct non-empty strings interned so far.
func (p *Pool) Len() int {
	return len(p.strs)
}
