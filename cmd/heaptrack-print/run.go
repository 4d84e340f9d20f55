// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/KDE/heaptrack-sub001/internal/analysis"
	"github.com/KDE/heaptrack-sub001/internal/costmodel"
	"github.com/KDE/heaptrack-sub001/internal/report"
	"github.com/KDE/heaptrack-sub001/internal/suppress"
	"github.com/KDE/heaptrack-sub001/internal/symbolize"
)

func runPrint(log *logrus.Logger, primaryPath string, opts *options) error {
	wantHistogram := opts.printHistogram != ""

	// §5: diff-mode reads the secondary file concurrently with the
	// primary via a single background reader; merging happens once
	// both resolve. The two Apps share no state, so this is just two
	// independent ingestion passes joined at a barrier.
	var primary, secondary *analysis.App
	var g errgroup.Group
	g.Go(func() error {
		var err error
		primary, err = loadFile(log, primaryPath, wantHistogram)
		return err
	})
	if opts.diffFile != "" {
		g.Go(func() error {
			var err error
			secondary, err = loadFile(log, opts.diffFile, false)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	defer primary.Close()

	report.SetTemplateShortener(symbolize.ShortenTemplates)

	allocs := primary.Cost.Allocations()
	if secondary != nil {
		defer secondary.Close()
		allocs = costmodel.Diff(allocs, secondary.Cost.Allocations())
	}

	if opts.filterBtFunction != "" {
		allocs = filterByFunction(allocs, opts.filterBtFunction, primary)
	}

	primary.FinalizeSuppressions(allocs)

	if primary.DebuggeeCmd != "" {
		fmt.Fprintf(os.Stdout, "Debuggee command was: %s\n", primary.DebuggeeCmd)
	}

	printer := &report.Printer{
		W:       os.Stdout,
		Strs:    primary.Strs,
		Traces:  primary.Traces,
		IPs:     primary.IPs,
		Shorten: opts.shortenTemplates,
	}

	for _, sel := range reportSelections(opts) {
		buckets := allocs2Buckets(allocs, primary, opts.mergeBacktraces)
		report.SortBuckets(buckets, sel.metric)
		printer.PrintTop(sel.label, buckets, sel.metric, opts.peakLimit, opts.subPeakLimit)
	}

	printSuppressions(primary)

	if opts.printHistogram != "" {
		if err := withCreatedFile(opts.printHistogram, func(f *os.File) error {
			return report.WriteHistogram(f, primary.Cost.SizeHistogram())
		}); err != nil {
			return err
		}
	}

	if opts.printFlamegraph != "" {
		metric := parseCostType(opts.flamegraphCost)
		if err := withCreatedFile(opts.printFlamegraph, func(f *os.File) error {
			return report.WriteFlamegraph(f, allocs, metric, primary.Traces, primary.IPs, primary.Strs)
		}); err != nil {
			return err
		}
	}

	if opts.printMassif != "" {
		if err := writeMassif(primary, allocs, opts); err != nil {
			return err
		}
	}

	return nil
}

func loadFile(log *logrus.Logger, path string, recordHistogram bool) (*analysis.App, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	app := analysis.NewApp(log, recordHistogram, suppress.Builtin())
	if err := app.Run(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return app, nil
}

type selection struct {
	label  string
	metric report.CostMetric
}

func reportSelections(opts *options) []selection {
	var out []selection
	if opts.printAllocators {
		out = append(out, selection{"MOST CALLS TO ALLOCATION FUNCTIONS", report.CostAllocations})
	}
	if opts.printPeaks {
		out = append(out, selection{"PEAK MEMORY CONSUMERS", report.CostPeak})
	}
	if opts.printTemporary {
		out = append(out, selection{"MOST TEMPORARY ALLOCATIONS", report.CostTemporary})
	}
	if opts.printLeaks {
		out = append(out, selection{"MEMORY LEAKS", report.CostLeaked})
	}
	return out
}

func parseCostType(s string) report.CostMetric {
	switch s {
	case "allocations":
		return report.CostAllocations
	case "temporary":
		return report.CostTemporary
	case "leaked":
		return report.CostLeaked
	default:
		return report.CostPeak
	}
}

func allocs2Buckets(allocs []costmodel.Allocation, app *analysis.App, merge bool) []*report.Bucket {
	if !merge {
		buckets := make([]*report.Bucket, len(allocs))
		for i, a := range allocs {
			buckets[i] = &report.Bucket{Traces: []costmodel.Allocation{a}, Total: a}
		}
		return buckets
	}
	return report.MergeAllocations(allocs, app.Traces, app.IPs)
}

func filterByFunction(allocs []costmodel.Allocation, fn string, app *analysis.App) []costmodel.Allocation {
	var out []costmodel.Allocation
	for _, a := range allocs {
		if report.FilterByBacktraceFunction(a.Trace, fn, app.Traces, app.IPs, app.Strs) {
			out = append(out, a)
		}
	}
	return out
}

func printSuppressions(app *analysis.App) {
	for _, s := range app.Suppressions.Suppressions() {
		if s.Matches > 0 {
			fmt.Fprintf(os.Stdout, "suppressed %d bytes in %d calls matching %q\n", s.Leaked, s.Matches, s.Pattern)
		}
	}
}

func withCreatedFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return fn(f)
}

func writeMassif(app *analysis.App, allocs []costmodel.Allocation, opts *options) error {
	return withCreatedFile(opts.printMassif, func(f *os.File) error {
		mw := report.NewMassifWriter(f, app.DebuggeeCmd, opts.massifDetailFreq, opts.massifThreshold)
		buckets := report.MergeAllocations(allocs, app.Traces, app.IPs)
		report.SortBuckets(buckets, report.CostLeaked)
		return mw.WriteSnapshot(app.Cost.TotalTimeMs(), app.Cost.PeakHeap(), buckets, report.CostLeaked, app.Strs, true)
	})
}
