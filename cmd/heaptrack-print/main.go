// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command heaptrack-print reads a heaptrack event stream, optionally
// a second stream to diff against, and prints the allocation reports
// requested on the command line: peaks, allocators, temporary
// allocations, leaks, a size histogram, a flamegraph, and/or a massif
// snapshot stream.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	diffFile         string
	shortenTemplates bool
	mergeBacktraces  bool
	printPeaks       bool
	printAllocators  bool
	printTemporary   bool
	printLeaks       bool
	peakLimit        int
	subPeakLimit     int
	printHistogram   string
	printFlamegraph  string
	flamegraphCost   string
	printMassif      string
	massifThreshold  float64
	massifDetailFreq int
	filterBtFunction string
	verbose          bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:     "heaptrack-print <file>",
		Short:   "Print reports from a heaptrack data file",
		Version: version,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			if opts.verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			return runPrint(log, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.diffFile, "diff", "", "diff against a second data file")
	flags.BoolVar(&opts.shortenTemplates, "shorten-templates", false, "collapse deeply nested template arguments")
	flags.BoolVar(&opts.mergeBacktraces, "merge-backtraces", true, "merge traces sharing a call site before printing")
	flags.BoolVar(&opts.printPeaks, "print-peaks", false, "print the backtraces with the largest peak memory consumption")
	flags.BoolVar(&opts.printAllocators, "print-allocators", false, "print the backtraces with the most allocation calls")
	flags.BoolVar(&opts.printTemporary, "print-temporary", false, "print the backtraces with the most temporary allocations")
	flags.BoolVar(&opts.printLeaks, "print-leaks", true, "print the backtraces responsible for the most leaked memory")
	flags.IntVar(&opts.peakLimit, "peak-limit", 10, "limit the number of call sites printed per report")
	flags.IntVar(&opts.subPeakLimit, "sub-peak-limit", 5, "limit the number of backtraces printed per call site")
	flags.StringVar(&opts.printHistogram, "print-histogram", "", "write the allocation size histogram to PATH")
	flags.StringVar(&opts.printFlamegraph, "print-flamegraph", "", "write a flamegraph-compatible collapsed stack file to PATH")
	flags.StringVar(&opts.flamegraphCost, "flamegraph-cost-type", "peak", "cost type for --print-flamegraph: allocations|temporary|leaked|peak")
	flags.StringVar(&opts.printMassif, "print-massif", "", "write a massif-compatible snapshot stream to PATH")
	flags.Float64Var(&opts.massifThreshold, "massif-threshold", 1.0, "percentage below which massif tree entries are collapsed")
	flags.IntVar(&opts.massifDetailFreq, "massif-detailed-freq", 5, "emit a detailed massif snapshot every N snapshots")
	flags.StringVar(&opts.filterBtFunction, "filter-bt-function", "", "only consider backtraces containing this function")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}
