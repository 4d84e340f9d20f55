// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbolize

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Demangler runs a mangled symbol name through the same ordered chain
// of schemes heaptrack's src/interpret/demangler.cpp tries: Rust
// first (Rust names are occasionally mistaken for Itanium C++ by a
// permissive C++ demangler), then D, then the Itanium C++ ABI, with a
// final pass trying every scheme regardless of prefix before giving
// up and returning the name unchanged.
//
// The reference implementation dlopen's librustc_demangle.so and
// libd_demangle.so at runtime and skips whichever isn't installed.
// github.com/ianlancetaylor/demangle links in both Itanium and Rust
// v0 support directly, so those two legs never need the "optional at
// runtime" fallback; no Go package in this module's dependency
// closure implements D demangling, so _D-mangled names always take
// the "demangler unavailable" path, exactly as heaptrack does when
// libd_demangle.so isn't installed.
type Demangler struct{}

// NewDemangler returns a ready-to-use demangler.
func NewDemangler() *Demangler {
	return &Demangler{}
}

// Demangle returns the demangled form of name, or name unchanged if
// no scheme in the chain recognizes it.
func (d *Demangler) Demangle(name string) string {
	if len(name) < 2 {
		return name
	}
	switch {
	case strings.HasPrefix(name, "_R"):
		return filterOrOriginal(name)
	case strings.HasPrefix(name, "_D"):
		return name // D demangler unavailable, see type doc.
	case strings.HasPrefix(name, "_Z"):
		return filterOrOriginal(name)
	default:
		// Slow path: the prefix didn't match a known scheme, but try
		// anyway - some toolchains mangle without the expected marker.
		return filterOrOriginal(name)
	}
}

func filterOrOriginal(name string) string {
	out := demangle.Filter(name)
	if out == "" {
		return name
	}
	return out
}
