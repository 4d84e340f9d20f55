// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/KDE/heaptrack-sub001/internal/strintern"
)

// MassifWriter emits the public massif textual schema: a header
// followed by one snapshot per clock tick, with a full heap tree at
// every massif_detailed_freq'th snapshot (and always at the final
// one).
type MassifWriter struct {
	w             io.Writer
	detailedFreq  int
	thresholdPct  float64
	snapshotCount int
	headerWritten bool
	cmd           string
}

// NewMassifWriter returns a writer for massif output, detailing every
// detailedFreq'th snapshot at a threshold of thresholdPct percent of
// the peak observed at that snapshot.
func NewMassifWriter(w io.Writer, cmd string, detailedFreq int, thresholdPct float64) *MassifWriter {
	if detailedFreq <= 0 {
		detailedFreq = 1
	}
	return &MassifWriter{w: w, cmd: cmd, detailedFreq: detailedFreq, thresholdPct: thresholdPct}
}

func (m *MassifWriter) writeHeader() error {
	if m.headerWritten {
		return nil
	}
	m.headerWritten = true
	_, err := fmt.Fprintf(m.w, "desc: heaptrack\ncmd: %s\ntime_unit: s\n", m.cmd)
	return err
}

// WriteSnapshot emits one snapshot at timeMs, whose heap usage is
// peakSinceLastSnapshot. last forces a detailed tree regardless of
// the configured frequency, per §4.7.
func (m *MassifWriter) WriteSnapshot(timeMs int64, peakSinceLastSnapshot uint64, buckets []*Bucket, metric CostMetric, strs *strintern.Pool, last bool) error {
	if err := m.writeHeader(); err != nil {
		return err
	}

	id := m.snapshotCount
	m.snapshotCount++
	detailed := last || id%m.detailedFreq == 0

	fmt.Fprintf(m.w, "#-----------\nsnapshot=%d\n#-----------\ntime=%.3f\nmem_heap_B=%d\nmem_heap_extra_B=0\nmem_stacks_B=0\n",
		id, float64(timeMs)/1000.0, peakSinceLastSnapshot)

	if !detailed {
		fmt.Fprintln(m.w, "heap_tree=empty")
		return nil
	}

	nodes := buildHeapTree(buckets, metric, peakSinceLastSnapshot, m.thresholdPct/100.0, strs)
	fmt.Fprintln(m.w, "heap_tree=detailed")
	fmt.Fprintf(m.w, "n%d: %d (heap)\n", len(nodes), peakSinceLastSnapshot)
	for _, n := range nodes {
		fmt.Fprintf(m.w, " n0: %d %s\n", n.Leaked, n.Label)
	}
	return nil
}

// massifNode is one direct child of the synthetic "(heap)" root in a
// detailed snapshot.
type massifNode struct {
	Label  string
	Leaked int64
}

// buildHeapTree ranks buckets by the selected metric's magnitude and
// collapses every bucket below threshold (a fraction of lastPeak, the
// snapshot's tracked peak - not a re-sum of the current bucket set;
// §4.7: "threshold = last_peak × (massif_threshold/100)") into one
// synthetic entry, inserted back into sorted position so the output
// stays sorted descending by leaked bytes - matching the concrete
// scenario in §8.
func buildHeapTree(buckets []*Bucket, metric CostMetric, lastPeak uint64, threshold float64, strs *strintern.Pool) []massifNode {
	cutoff := int64(float64(lastPeak) * threshold)

	var kept []massifNode
	var skippedSum int64
	var skippedCount int
	for _, b := range buckets {
		v := metric.Value(b.Total)
		if abs64(v) >= cutoff {
			kept = append(kept, massifNode{Label: bucketLabel(b, strs), Leaked: v})
		} else {
			skippedSum += v
			skippedCount++
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return abs64(kept[i].Leaked) > abs64(kept[j].Leaked) })

	if skippedCount == 0 {
		return kept
	}
	synthetic := massifNode{
		Label:  fmt.Sprintf("in %d places, all below massif's threshold (%.2f%%)", skippedCount, threshold*100),
		Leaked: skippedSum,
	}
	i := sort.Search(len(kept), func(i int) bool { return abs64(kept[i].Leaked) <= abs64(synthetic.Leaked) })
	out := make([]massifNode, 0, len(kept)+1)
	out = append(out, kept[:i]...)
	out = append(out, synthetic)
	out = append(out, kept[i:]...)
	return out
}

func bucketLabel(b *Bucket, strs *strintern.Pool) string {
	name := strs.String(b.TopIP.Frame.Func)
	if name == "" {
		name = "??"
	}
	return fmt.Sprintf("%s (%s:%d)", name, strs.String(b.TopIP.Frame.File), b.TopIP.Frame.Line)
}
