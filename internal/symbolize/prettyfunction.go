// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbolize

import "strings"

// ShortenTemplates collapses balanced template argument lists deeper
// than the first level of nesting down to "<…>", the same
// simplification heaptrack_print's --shorten-templates flag applies
// via its prettyFunction() helper. It operates purely on text, after
// demangling, so it has no knowledge of what's actually inside the
// brackets.
func ShortenTemplates(name string) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch c {
		case '<':
			depth++
			if depth == 1 {
				b.WriteByte(c)
			} else if depth == 2 {
				b.WriteString("<…")
			}
		case '>':
			if depth > 0 {
				depth--
			}
			if depth <= 1 {
				b.WriteByte(c)
			}
		default:
			if depth <= 1 {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}
