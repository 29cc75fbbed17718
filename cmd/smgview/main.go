// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The smgview tool explores symbolic memory graphs on example heaps.
// It exists for debugging the analysis: it builds one of the built-in
// scenarios, runs the requested pipeline and renders the result.
//
// Run "smgview help" for the list of commands.
package main

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jcdubois/gosmg/internal/logflags"
	"github.com/jcdubois/gosmg/internal/options"
	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/state"
)

var (
	flagLog     []string
	flagOptions string
)

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

func loadOptions() *options.Options {
	if flagOptions == "" {
		return options.Default()
	}
	o, err := options.Load(flagOptions)
	if err != nil {
		exitf("%v\n", err)
	}
	return o
}

func printErrors(s state.State) {
	red := color.New(color.FgRed)
	for _, e := range s.Errors() {
		red.Fprintf(os.Stderr, "ERROR: %s\n", e.Error())
	}
}

func main() {
	root := &cobra.Command{
		Use:   "smgview",
		Short: "explore symbolic memory graphs on example heaps",
	}
	root.PersistentFlags().StringSliceVar(&flagLog, "log", nil, "subsystems to log (smg, shape, all)")
	root.PersistentFlags().StringVar(&flagOptions, "options", "", "YAML file with analysis options")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logflags.Setup(flagLog, os.Stderr)
	}

	demo := &cobra.Command{
		Use:       "demo [scenario]",
		Short:     "run a scenario and print the state evolution",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: scenarioNames(),
		Run:       runDemo,
	}

	dot := &cobra.Command{
		Use:   "dot [scenario]",
		Short: "render a scenario's final memory graph as Graphviz",
		Args:  cobra.MaximumNArgs(1),
		Run:   runDot,
	}
	dot.Flags().StringP("output", "o", "", "write to file instead of stdout")
	dot.Flags().Bool("abstract", true, "fold lists before rendering")

	dump := &cobra.Command{
		Use:   "dump [scenario]",
		Short: "dump the raw object and edge records",
		Args:  cobra.MaximumNArgs(1),
		Run:   runDump,
	}

	explore := &cobra.Command{
		Use:   "explore [scenario]",
		Short: "interactively inspect a scenario's states",
		Args:  cobra.MaximumNArgs(1),
		Run:   runExplore,
	}

	stats := &cobra.Command{
		Use:   "stats [scenario]",
		Short: "print analysis statistics for a scenario",
		Args:  cobra.MaximumNArgs(1),
		Run:   runStats,
	}

	root.AddCommand(demo, dot, dump, explore, stats)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func scenarioArg(args []string) string {
	if len(args) == 0 {
		return "sll"
	}
	return args[0]
}

func runDemo(cmd *cobra.Command, args []string) {
	sc, ok := scenarios[scenarioArg(args)]
	if !ok {
		exitf("unknown scenario %q; have %v\n", scenarioArg(args), scenarioNames())
	}
	bold := color.New(color.Bold)
	for _, step := range sc.run(loadOptions()) {
		bold.Printf("%s\n", step.name)
		fmt.Printf("  %s\n", step.state.Label())
		printErrors(step.state)
	}
}

func runDot(cmd *cobra.Command, args []string) {
	sc, ok := scenarios[scenarioArg(args)]
	if !ok {
		exitf("unknown scenario %q\n", scenarioArg(args))
	}
	steps := sc.run(loadOptions())
	s := steps[len(steps)-1].state
	if fold, _ := cmd.Flags().GetBool("abstract"); fold {
		s = s.Abstract()
	}

	out := os.Stdout
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			exitf("%v\n", err)
		}
		defer f.Close()
		out = f
	}
	if err := s.WriteDOT(out, "smg"); err != nil {
		exitf("%v\n", err)
	}
}

func runDump(cmd *cobra.Command, args []string) {
	sc, ok := scenarios[scenarioArg(args)]
	if !ok {
		exitf("unknown scenario %q\n", scenarioArg(args))
	}
	steps := sc.run(loadOptions())
	s := steps[len(steps)-1].state

	var objs []smg.Object
	s.SPC().Graph().Objects(func(o smg.Object) bool {
		objs = append(objs, o)
		return true
	})
	var edges []smg.HasValueEdge
	s.SPC().Graph().AllHVEdges(func(e smg.HasValueEdge) bool {
		edges = append(edges, e)
		return true
	})
	cfg := spew.ConfigState{Indent: "  ", DisableMethods: true}
	cfg.Dump(objs)
	cfg.Dump(edges)
}

func runStats(cmd *cobra.Command, args []string) {
	sc, ok := scenarios[scenarioArg(args)]
	if !ok {
		exitf("unknown scenario %q\n", scenarioArg(args))
	}
	steps := sc.run(loadOptions())
	fmt.Print(steps[len(steps)-1].state.Stats().String())
}
