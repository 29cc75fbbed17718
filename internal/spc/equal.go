// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spc

import (
	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/value"
)

// A ValuePair keys one step of a shape comparison: a graph value of the
// left configuration against one of the right.
type ValuePair struct {
	A, B smg.ValueID
}

// EqualOptions tunes shape equality.
type EqualOptions struct {
	// Subsume relaxes segment comparison to the subsumption direction:
	// the left segment may promise a longer minimum than the right.
	Subsume bool
	// SymbolicEqual, when non-nil, decides equality of two symbolic
	// values that are not identical (e.g. both unconstrained).
	SymbolicEqual func(a, b value.Value) bool
}

// ValuesEqual reports whether graph value av of a is shape-equivalent to
// bv of b. Numerics compare by content (NaN never equals NaN), pointers
// by the shape of their targets, symbolics by identity unless
// SymbolicEqual says otherwise. visited carries the pairs already on the
// comparison path; a recurring pair is treated as equal, which breaks
// cycles in cyclic lists.
func ValuesEqual(a SPC, av smg.ValueID, b SPC, bv smg.ValueID, visited map[ValuePair]bool, opts EqualOptions) bool {
	pair := ValuePair{A: av, B: bv}
	if visited[pair] {
		return true
	}
	visited[pair] = true

	apt, aPtr := a.g.PointsTo(av)
	bpt, bPtr := b.g.PointsTo(bv)
	if aPtr != bPtr {
		return false
	}
	if aPtr {
		return pointersEqual(a, apt, b, bpt, visited, opts)
	}

	ava, aok := a.vmap.reverse(av)
	bva, bok := b.vmap.reverse(bv)
	if !aok || !bok {
		// Unmapped graph values carry no information; equal only if
		// both sides are equally uninformative.
		return aok == bok
	}
	switch x := ava.(type) {
	case value.Numeric:
		y, ok := bva.(value.Numeric)
		return ok && x.Equal(y)
	case value.Symbolic:
		y, ok := bva.(value.Symbolic)
		if !ok {
			return false
		}
		if x.ID == y.ID {
			return true
		}
		if opts.SymbolicEqual != nil {
			return opts.SymbolicEqual(x, y)
		}
		return false
	}
	return false
}

// pointersEqual compares two pointers by target shape.
func pointersEqual(a SPC, apt smg.PointsToEdge, b SPC, bpt smg.PointsToEdge, visited map[ValuePair]bool, opts EqualOptions) bool {
	if apt.Offset != bpt.Offset || apt.Specifier != bpt.Specifier {
		return false
	}
	ao, aok := a.g.Object(apt.Target)
	bo, bok := b.g.Object(bpt.Target)
	if !aok || !bok {
		return aok == bok
	}
	if ao.Kind != bo.Kind || ao.Size != bo.Size || ao.Offset != bo.Offset || ao.Level != bo.Level {
		return false
	}
	if a.g.IsValid(ao.ID) != b.g.IsValid(bo.ID) {
		return false
	}
	if ao.IsSegment() {
		if ao.HeadOffset != bo.HeadOffset || ao.NFO != bo.NFO || ao.PFO != bo.PFO {
			return false
		}
		if opts.Subsume {
			if ao.MinLength < bo.MinLength {
				return false
			}
		} else if ao.MinLength != bo.MinLength {
			return false
		}
	}
	return objectFieldsEqual(a, ao, b, bo, visited, opts)
}

// objectFieldsEqual compares the has-value edges of two objects,
// excluding the linking fields of segments. In subsumption mode every
// edge of the right object must have an equivalent on the left; strict
// mode additionally requires the edge sets to coincide.
func objectFieldsEqual(a SPC, ao smg.Object, b SPC, bo smg.Object, visited map[ValuePair]bool, opts EqualOptions) bool {
	skip := func(o smg.Object, e smg.HasValueEdge) bool {
		if !o.IsSegment() {
			return false
		}
		if e.Offset == o.NFO {
			return true
		}
		return o.Kind == smg.KindDLL && e.Offset == o.PFO
	}

	aEdges := map[[2]int64]smg.ValueID{}
	for _, e := range a.g.HVEdges(ao.ID) {
		if !skip(ao, e) {
			aEdges[[2]int64{e.Offset, e.SizeBits}] = e.Value
		}
	}
	n := 0
	for _, e := range b.g.HVEdges(bo.ID) {
		if skip(bo, e) {
			continue
		}
		n++
		av, ok := aEdges[[2]int64{e.Offset, e.SizeBits}]
		if !ok {
			return false
		}
		if !ValuesEqual(a, av, b, e.Value, visited, opts) {
			return false
		}
	}
	if !opts.Subsume && n != len(aEdges) {
		return false
	}
	return true
}
