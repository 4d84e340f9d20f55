// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package strintern

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternEmptyString(t *testing.T) {
	p := New()
	require.Equal(t, 0, int(p.Intern("")))
	require.Equal(t, 0, p.Len())
}

func TestInternStability(t *testing.T) {
	p := New()
	a := p.Intern("foo")
	b := p.Intern("foo")
	require.Equal(t, a, b)

	c := p.Intern("bar")
	require.NotEqual(t, a, c)
}

func TestInternOrderPreserving(t *testing.T) {
	p := New()
	first := p.Intern("one")
	second := p.Intern("two")
	require.Less(t, uint32(first), uint32(second))
	require.Equal(t, "one", p.String(first))
	require.Equal(t, "two", p.String(second))
}

func TestStringOutOfRange(t *testing.T) {
	p := New()
	require.Equal(t, "", p.String(0))
	require.Equal(t, "", p.String(42))
}
