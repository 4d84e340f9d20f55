// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ids holds the small dense index types that cross-reference
// the tables built by the other internal packages. Index 0 always
// means "absent" so a zero-valued index struct is a valid empty
// reference without needing a separate presence flag.
package ids

// StringIndex refers to an entry in a strintern.Pool.
type StringIndex uint32

// ModuleIndex refers to an entry in a modreg.Registry.
type ModuleIndex uint32

// IpIndex refers to an entry in a calltree.IPTable.
type IpIndex uint32

// TraceIndex refers to an entry in a calltree.TraceTree.
type TraceIndex uint32

// AllocationInfoIndex refers to a (size, trace) call-site fingerprint.
type AllocationInfoIndex uint32

// Valid reports whether the index refers to a real entry.
func (i StringIndex) Valid() bool { return i != 0 }

// Valid reports whether the index refers to a real entry.
func (i ModuleIndex) Valid() bool { return i != 0 }

// Valid reports whether the index refers to a real entry.
func (i IpIndex) Valid() bool { return i != 0 }

// Valid reports whether the index refers to a real entry.
func (i TraceIndex) Valid() bool { return i != 0 }

// Valid reports whether the index refers to a real entry.
func (i AllocationInfoIndex) Valid() bool { return i != 0 }
