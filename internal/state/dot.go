// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/value"
)

// Label renders the state as the compact `[var1=v1, var2=v2, ...]`
// debugging form: every tracked variable with the value stored at its
// base, in name order.
func (s State) Label() string {
	vals := map[string]string{}
	collect := func(name string, obj smg.ObjectID) bool {
		o, _ := s.spc.Graph().Object(obj)
		edges := s.spc.Graph().HVEdges(obj)
		if len(edges) == 0 || edges[0].Offset != o.Offset {
			vals[name] = "?"
			return true
		}
		if v, ok := s.spc.ValueFor(edges[0].Value); ok {
			vals[name] = v.String()
		} else {
			vals[name] = fmt.Sprintf("v%d", edges[0].Value)
		}
		return true
	}
	s.spc.GlobalNames(collect)
	for i := 0; i < s.spc.NumFrames(); i++ {
		s.spc.Frame(i).ForEachVariable(collect)
	}

	names := lo.Keys(vals)
	sort.Strings(names)
	parts := lo.Map(names, func(n string, _ int) string {
		return n + "=" + vals[n]
	})
	return "[" + strings.Join(parts, ", ") + "]"
}

// An Assignment is one concrete path fact handed to the witness writer:
// the value stored at a named memory location.
type Assignment struct {
	Location string
	Value    value.Value
	SizeBits int64
}

// ConcreteAssignments returns the (memory location, value, size)
// triples of every tracked variable field with a mapped value, in
// name order. This is the whole interface the witness export sees.
func (s State) ConcreteAssignments() []Assignment {
	var out []Assignment
	collect := func(name string, obj smg.ObjectID) bool {
		for _, e := range s.spc.Graph().HVEdges(obj) {
			v, ok := s.spc.ValueFor(e.Value)
			if !ok {
				continue
			}
			loc := name
			if e.Offset != 0 {
				loc = fmt.Sprintf("%s+%d", name, e.Offset)
			}
			out = append(out, Assignment{Location: loc, Value: v, SizeBits: e.SizeBits})
		}
		return true
	}
	s.spc.GlobalNames(collect)
	for i := 0; i < s.spc.NumFrames(); i++ {
		s.spc.Frame(i).ForEachVariable(collect)
	}
	return out
}

// WriteDOT renders the memory graph as a Graphviz digraph: objects as
// boxes (summaries annotated with their minimum length), field contents
// as labeled edges, pointers as arrows into their targets.
func (s State) WriteDOT(w io.Writer, name string) error {
	g := s.spc.Graph()
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", name)
	fmt.Fprintf(&b, "  node [shape=box];\n")

	g.Objects(func(o smg.Object) bool {
		label := o.String()
		if !g.IsValid(o.ID) && !s.spc.IsExternallyAllocated(o.ID) {
			label += " (invalid)"
		}
		shape := ""
		if o.IsSegment() {
			shape = " style=dashed"
		}
		fmt.Fprintf(&b, "  o%d [label=%q%s];\n", o.ID, label, shape)
		return true
	})

	g.AllHVEdges(func(e smg.HasValueEdge) bool {
		if pt, ok := g.PointsTo(e.Value); ok {
			fmt.Fprintf(&b, "  o%d -> o%d [label=\"+%d %s\"];\n", e.Object, pt.Target, e.Offset, pt.Specifier)
			return true
		}
		v := fmt.Sprintf("v%d", e.Value)
		if mapped, ok := s.spc.ValueFor(e.Value); ok {
			v = mapped.String()
		}
		fmt.Fprintf(&b, "  o%d_f%d [label=%q shape=plaintext];\n", e.Object, e.Offset, v)
		fmt.Fprintf(&b, "  o%d -> o%d_f%d [label=\"+%d\"];\n", e.Object, e.Object, e.Offset, e.Offset)
		return true
	})

	names := map[string]smg.ObjectID{}
	s.spc.GlobalNames(func(n string, obj smg.ObjectID) bool {
		names[n] = obj
		return true
	})
	for i := 0; i < s.spc.NumFrames(); i++ {
		s.spc.Frame(i).ForEachVariable(func(n string, obj smg.ObjectID) bool {
			names[n] = obj
			return true
		})
	}
	keys := lo.Keys(names)
	sort.Strings(keys)
	for _, n := range keys {
		fmt.Fprintf(&b, "  %q [shape=plaintext];\n", n)
		fmt.Fprintf(&b, "  %q -> o%d;\n", n, names[n])
	}

	fmt.Fprintf(&b, "}\n")
	_, err := io.WriteString(w, b.String())
	return err
}
