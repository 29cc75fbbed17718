// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"sort"

	"github.com/jcdubois/gosmg/internal/mmodel"
	"github.com/jcdubois/gosmg/internal/options"
	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/state"
	"github.com/jcdubois/gosmg/internal/value"
)

// A step is one labeled point in a scenario's state evolution.
type step struct {
	name  string
	state state.State
}

// A scenario builds a heap and drives it through the analysis.
type scenario struct {
	doc string
	run func(*options.Options) []step
}

var scenarios = map[string]scenario{
	"sll": {
		doc: "fold a five-node list, then walk it back out",
		run: runSLLScenario,
	},
	"leak": {
		doc: "drop the only pointer to a heap object",
		run: runLeakScenario,
	},
	"free": {
		doc: "free an object twice",
		run: runFreeScenario,
	},
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for n := range scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func newScenarioState(opts *options.Options) state.State {
	return state.New(mmodel.LP64, opts, nil, nil)
}

// runSLLScenario builds the canonical linked-list example: five nodes
// with payload 7 linked at offset 64, abstracted and rewalked.
func runSLLScenario(opts *options.Options) []step {
	s := newScenarioState(opts)
	s = s.PushFrame("main", 0)
	s, head := s.CreateLocal("head", 64)

	addrs := make([]value.Value, 5)
	objs := make([]smg.Object, 5)
	for i := range addrs {
		s, addrs[i] = s.AllocateHeap(128)
		drs := s.DereferencePointer(addrs[i])
		s, objs[i] = drs[0].State, drs[0].Object
	}
	for i, o := range objs {
		s = s.Write(o, 0, 64, value.Int(7))
		next := value.Value(value.Zero)
		if i+1 < len(objs) {
			next = addrs[i+1]
		}
		s = s.Write(o, 64, 64, next)
	}
	s = s.Write(head, 0, 64, addrs[0])
	steps := []step{{"built chain", s}}

	s = s.Abstract()
	steps = append(steps, step{"abstracted", s})

	rs := s.Read(head, 0, 64, state.AsBits)
	s = rs[0].State
	cur := rs[0].Value
	for i := 0; i < 4; i++ {
		drs := s.DereferencePointer(cur)
		s = drs[0].State
		rs = s.Read(drs[0].Object, 64, 64, state.AsBits)
		s = rs[0].State
		cur = rs[0].Value
	}
	steps = append(steps, step{"walked out", s})
	return steps
}

func runLeakScenario(opts *options.Options) []step {
	s := newScenarioState(opts)
	s = s.PushFrame("main", 0)
	s, p := s.CreateLocal("p", 64)
	s, addr := s.AllocateHeap(64)
	s = s.Write(p, 0, 64, addr)
	steps := []step{{"allocated", s}}

	s = s.Write(p, 0, 64, value.Zero)
	s = s.PruneUnreachable()
	steps = append(steps, step{"pointer dropped", s})
	return steps
}

func runFreeScenario(opts *options.Options) []step {
	s := newScenarioState(opts)
	s = s.PushFrame("main", 0)
	s, p := s.CreateLocal("p", 64)
	s, addr := s.AllocateHeap(64)
	s = s.Write(p, 0, 64, addr)
	steps := []step{{"allocated", s}}

	s = s.Free(addr)
	steps = append(steps, step{"freed", s})

	s = s.Free(addr)
	steps = append(steps, step{"freed again", s})
	return steps
}
