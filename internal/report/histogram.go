// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"fmt"
	"io"

	"github.com/KDE/heaptrack-sub001/internal/costmodel"
)

// WriteHistogram emits the allocation-size histogram as TSV,
// <size>\t<count>\n, ordered by size ascending.
func WriteHistogram(w io.Writer, entries []costmodel.HistogramEntry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%d\t%d\n", e.Size, e.Count); err != nil {
			return err
		}
	}
	return nil
}
