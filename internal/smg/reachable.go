// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smg

import "github.com/bits-and-blooms/bitset"

// Reachable holds the result of a reachability sweep: mark bits indexed
// by object and value id. Ids are dense, so bit vectors are the natural
// mark set.
type Reachable struct {
	Objects *bitset.BitSet
	Values  *bitset.BitSet
}

// HasObject reports whether id was reached.
func (r Reachable) HasObject(id ObjectID) bool { return r.Objects.Test(uint(id)) }

// HasValue reports whether id was reached.
func (r Reachable) HasValue(id ValueID) bool { return r.Values.Test(uint(id)) }

// CollectReachable walks the graph from the given root objects,
// following has-value edges to values and points-to edges onward to
// objects, and returns the visited sets. The null object and the zero
// value are always part of the result.
func (g Graph) CollectReachable(roots []ObjectID) Reachable {
	r := Reachable{
		Objects: bitset.New(uint(g.nextObject)),
		Values:  bitset.New(uint(g.nextValue)),
	}
	r.Objects.Set(uint(NullObject))
	r.Values.Set(uint(ZeroValue))

	var stack []ObjectID
	push := func(id ObjectID) {
		if !g.HasObject(id) || r.Objects.Test(uint(id)) {
			return
		}
		r.Objects.Set(uint(id))
		stack = append(stack, id)
	}
	for _, id := range roots {
		push(id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if o, ok := g.Object(id); ok && !o.Size.Concrete() {
			r.Values.Set(uint(o.Size.Sym))
		}
		for _, e := range g.objectEdges(id) {
			r.Values.Set(uint(e.Value))
			if pt, ok := g.PointsTo(e.Value); ok {
				push(pt.Target)
			}
		}
	}
	return r
}
