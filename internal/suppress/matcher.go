// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package suppress implements the leak-suppression pattern language
// and the built-in suppression list, used to mark known-benign leaks
// (runtime/loader/glib initialization paths) as expected without
// hiding them from the global totals.
package suppress

import (
	"bufio"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Suppression is one compiled pattern plus its running tallies.
type Suppression struct {
	Pattern string
	Matches int64
	Leaked  int64
}

// Builtin returns the suppressions heaptrack always applies, covering
// glibc, the dynamic linker, and glib's default event loop.
func Builtin() []Suppression {
	return []Suppression{
		{Pattern: "__nss_module_allocate"},
		{Pattern: "__gconv_read_conf"},
		{Pattern: "__new_exitfn"},
		{Pattern: "tzset_internal"},
		{Pattern: "dl_open_worker"},
		{Pattern: "g_main_context_new"},
		{Pattern: "g_thread_self"},
	}
}

// Parse reads suppression lines ("leak:<pattern>", "#" comments,
// blank lines ignored) from r, logging one warning per malformed line
// rather than failing the whole file.
func Parse(r io.Reader, log *logrus.Logger) []Suppression {
	var out []Suppression
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if pattern, ok := ParseLine(sc.Text()); ok {
			out = append(out, Suppression{Pattern: pattern})
		} else if log != nil && strings.TrimSpace(sc.Text()) != "" && !strings.HasPrefix(strings.TrimSpace(sc.Text()), "#") {
			log.Warnf("invalid suppression line: %s", sc.Text())
		}
	}
	return out
}

// ParseLine extracts the pattern from one suppression line. It
// returns ok == false for comments, blank lines, and anything that
// doesn't start with "leak:".
func ParseLine(line string) (pattern string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	const prefix = "leak:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return line[len(prefix):], true
}

// FormatLine is the inverse of ParseLine, so that
// ParseLine(FormatLine(p)) == p for every valid pattern.
func FormatLine(pattern string) string {
	return "leak:" + pattern
}

// Matches reports whether haystack matches pattern. Patterns support
// a leading '^' anchor, a trailing '$' anchor, and '*' as a wildcard
// run of zero or more characters; every other character matches
// literally. This is a direct reimplementation of the TemplateMatch
// helper LLVM's sanitizer runtime uses for the same purpose.
func Matches(pattern, haystack string) bool {
	if pattern == haystack {
		return true
	}
	return templateMatch(pattern, haystack)
}

func templateMatch(templ, str string) bool {
	if str == "" {
		return false
	}
	start := false
	if strings.HasPrefix(templ, "^") {
		start = true
		templ = templ[1:]
	}
	asterisk := false
	for templ != "" {
		if templ[0] == '*' {
			templ = templ[1:]
			start = false
			asterisk = true
			continue
		}
		if templ[0] == '$' {
			return str == "" || asterisk
		}
		if str == "" {
			return false
		}

		end := len(templ)
		if i := strings.IndexByte(templ, '*'); i >= 0 && i < end {
			end = i
		}
		if i := strings.IndexByte(templ, '$'); i >= 0 && i < end {
			end = i
		}
		literal := templ[:end]

		idx := strings.Index(str, literal)
		if idx < 0 {
			return false
		}
		if start && idx != 0 {
			return false
		}
		str = str[idx+len(literal):]
		templ = templ[end:]
		start = false
		asterisk = false
	}
	return true
}

// Set matches a trace's function names against a list of
// suppressions and accumulates per-suppression tallies.
type Set struct {
	entries []Suppression
}

// NewSet returns a Set seeded with the given suppressions in order.
// Every suppression that matches a given function is credited with
// the match, and Leaked is likewise tallied against every suppression
// a trace matches, since a leak can be "expected" for more than one
// reason.
func NewSet(suppressions []Suppression) *Set {
	return &Set{entries: append([]Suppression(nil), suppressions...)}
}

// MatchFunction reports whether any suppression in the set matches
// function name fn, and if so increments that suppression's match
// counter.
func (s *Set) MatchFunction(fn string) bool {
	matched := false
	for i := range s.entries {
		if Matches(s.entries[i].Pattern, fn) {
			s.entries[i].Matches++
			matched = true
		}
	}
	return matched
}

// CreditMatchOnce increments the match counter for every suppression
// matching fn that isn't already marked in credited, then marks it.
// credited is owned by the caller and should be reused across every
// frame of a single allocation's trace, so that one allocation
// contributes at most one match per suppression even if its pattern
// matches more than one frame along the trace (a recursive function,
// or the same name appearing both inlined and as an outer frame).
// §4.6: "a matched allocation contributes to that suppression's
// matches" - one contribution per allocation, not per frame.
func (s *Set) CreditMatchOnce(fn string, credited map[int]bool) {
	for i := range s.entries {
		if credited[i] {
			continue
		}
		if Matches(s.entries[i].Pattern, fn) {
			s.entries[i].Matches++
			credited[i] = true
		}
	}
}

// AddLeaked credits leaked bytes to every suppression matching fn.
// Called once per surviving trace at finalization.
func (s *Set) AddLeaked(fn string, leaked int64) {
	for i := range s.entries {
		if Matches(s.entries[i].Pattern, fn) {
			s.entries[i].Leaked += leaked
		}
	}
}

// Suppressions returns the current tallies.
func (s *Set) Suppressions() []Suppression {
	return append([]Suppression(nil), s.entries...)
}
