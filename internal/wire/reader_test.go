// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReaderBasicRecords(t *testing.T) {
	r := NewReader(strings.NewReader("s hello world\nt 1 0\n+ 100 1 7f00\n"))

	rec, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, TagString, rec.Tag)
	require.Equal(t, "hello world", rec.ReadString())

	rec, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, TagTrace, rec.Tag)
	ip, ok := rec.ReadHex()
	require.True(t, ok)
	require.EqualValues(t, 1, ip)
	parent, ok := rec.ReadHex()
	require.True(t, ok)
	require.EqualValues(t, 0, parent)

	rec, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, TagAlloc, rec.Tag)
	size, ok := rec.ReadHex()
	require.True(t, ok)
	require.EqualValues(t, 0x100, size)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderSkipsBlankLines(t *testing.T) {
	r := NewReader(strings.NewReader("\n\ns foo\n\n"))
	rec, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "foo", rec.ReadString())
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderMalformedSeparator(t *testing.T) {
	r := NewReader(strings.NewReader("sx\n"))
	_, err := r.Next()
	require.Error(t, err)
}

func TestReadHexRejectsOverlongToken(t *testing.T) {
	r := NewReader(strings.NewReader("+ 11111111111111111 1 1\n"))
	rec, err := r.Next()
	require.NoError(t, err)
	_, ok := rec.ReadHex()
	require.False(t, ok)
}

func TestReadHexRejectsGarbage(t *testing.T) {
	r := NewReader(strings.NewReader("+ zz 1 1\n"))
	rec, err := r.Next()
	require.NoError(t, err)
	_, ok := rec.ReadHex()
	require.False(t, ok)
}

func TestIsClearAll(t *testing.T) {
	r := NewReader(strings.NewReader("m -\nm 1 1 1000 2000\n"))
	rec, err := r.Next()
	require.NoError(t, err)
	require.True(t, rec.IsClearAll())

	rec, err = r.Next()
	require.NoError(t, err)
	require.False(t, rec.IsClearAll())
	v, ok := rec.ReadHex()
	require.True(t, ok)
	require.EqualValues(t, 1, v)
}

func TestHasMore(t *testing.T) {
	r := NewReader(strings.NewReader("t 1 0\n"))
	rec, err := r.Next()
	require.NoError(t, err)
	require.True(t, rec.HasMore())
	rec.ReadHex()
	require.True(t, rec.HasMore())
	rec.ReadHex()
	require.False(t, rec.HasMore())
}
