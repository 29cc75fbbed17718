// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jcdubois/gosmg/internal/smg"
)

const exploreHelp = `Commands:
  steps            list the scenario's steps
  step             advance to the next step
  use <n>          jump to step n
  label            print the state label
  objects          list all objects
  values           list all values and their pointers
  edges <obj>      list the has-value edges of an object
  deref <val>      dereference a value, materializing summaries
  errors           list recorded memory errors
  dot <file>       write the current graph as Graphviz
  help             print this message
  quit             leave
`

func runExplore(cmd *cobra.Command, args []string) {
	sc, ok := scenarios[scenarioArg(args)]
	if !ok {
		exitf("unknown scenario %q\n", scenarioArg(args))
	}
	steps := sc.run(loadOptions())
	cur := len(steps) - 1

	rl, err := readline.New("smg> ")
	if err != nil {
		exitf("%v\n", err)
	}
	defer rl.Close()

	fmt.Printf("scenario %s: %s\n", scenarioArg(args), sc.doc)
	fmt.Printf("at step %d (%s); try \"help\"\n", cur, steps[cur].name)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		s := steps[cur].state
		switch fields[0] {
		case "help":
			fmt.Print(exploreHelp)
		case "quit", "exit":
			return
		case "steps":
			for i, st := range steps {
				marker := "  "
				if i == cur {
					marker = "* "
				}
				fmt.Printf("%s%d: %s\n", marker, i, st.name)
			}
		case "step":
			if cur+1 >= len(steps) {
				fmt.Println("already at the last step")
				continue
			}
			cur++
			fmt.Printf("at step %d (%s)\n", cur, steps[cur].name)
		case "use":
			if len(fields) != 2 {
				fmt.Println("usage: use <n>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 || n >= len(steps) {
				fmt.Printf("no step %s\n", fields[1])
				continue
			}
			cur = n
			fmt.Printf("at step %d (%s)\n", cur, steps[cur].name)
		case "label":
			fmt.Println(s.Label())
		case "objects":
			s.SPC().Graph().Objects(func(o smg.Object) bool {
				validity := "valid"
				if !s.SPC().Graph().IsValid(o.ID) {
					validity = "invalid"
				}
				fmt.Printf("%v %s\n", o, validity)
				return true
			})
		case "values":
			g := s.SPC().Graph()
			g.Values(func(id smg.ValueID, level int) bool {
				line := fmt.Sprintf("v%d level=%d", id, level)
				if v, ok := s.SPC().ValueFor(id); ok {
					line += " = " + v.String()
				}
				if pt, ok := g.PointsTo(id); ok {
					line += fmt.Sprintf(" -> obj#%d+%d %s", pt.Target, pt.Offset, pt.Specifier)
				}
				fmt.Println(line)
				return true
			})
		case "edges":
			if len(fields) != 2 {
				fmt.Println("usage: edges <obj>")
				continue
			}
			n, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				fmt.Printf("bad object id %s\n", fields[1])
				continue
			}
			for _, e := range s.SPC().Graph().HVEdges(smg.ObjectID(n)) {
				fmt.Printf("%v\n", e)
			}
		case "deref":
			if len(fields) != 2 {
				fmt.Println("usage: deref <val>")
				continue
			}
			n, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "v"), 10, 64)
			if err != nil {
				fmt.Printf("bad value id %s\n", fields[1])
				continue
			}
			v, ok := s.SPC().ValueFor(smg.ValueID(n))
			if !ok {
				fmt.Printf("v%d is not a mapped value\n", n)
				continue
			}
			drs := s.DereferencePointer(v)
			first := len(steps)
			for i, dr := range drs {
				name := fmt.Sprintf("deref v%d", n)
				if len(drs) > 1 {
					name = fmt.Sprintf("%s (successor %d)", name, i+1)
				}
				if dr.Object.ID == 0 {
					fmt.Printf("%s: error state\n", name)
				} else {
					fmt.Printf("%s: %v at offset %d\n", name, dr.Object, dr.Offset)
				}
				printErrors(dr.State)
				steps = append(steps, step{name: name, state: dr.State})
			}
			cur = first
			fmt.Printf("at step %d (%s); %d successor(s) appended\n", cur, steps[cur].name, len(drs))
		case "errors":
			if len(s.Errors()) == 0 {
				fmt.Println("no errors")
			}
			printErrors(s)
		case "dot":
			if len(fields) != 2 {
				fmt.Println("usage: dot <file>")
				continue
			}
			f, err := os.Create(fields[1])
			if err != nil {
				fmt.Printf("%v\n", err)
				continue
			}
			err = steps[cur].state.WriteDOT(f, "smg")
			f.Close()
			if err != nil {
				fmt.Printf("%v\n", err)
			} else {
				fmt.Printf("wrote %s\n", fields[1])
			}
		default:
			fmt.Printf("unknown command %q; try \"help\"\n", fields[0])
		}
	}
}
