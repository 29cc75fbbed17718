// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/spc"
	"github.com/jcdubois/gosmg/internal/value"
)

// compareCache memoizes whole-state comparisons. States are immutable
// and carry unique ids, so a cached verdict never goes stale.
var compareCache, _ = lru.New[[2]uint64, bool](4096)

// IsLessOrEqual reports whether s is covered by other: every concrete
// path through s is also a path through other, with equal or more
// permissive shape. Summary segments subsume in the direction
// s.minLength >= other.minLength. A pointer to a concrete region never
// matches a pointer into a summary segment, so a state holding a
// concrete list is not covered by its own abstraction.
func (s State) IsLessOrEqual(other State) bool {
	s.stats.Comparisons++
	key := [2]uint64{s.id, other.id}
	if v, ok := compareCache.Get(key); ok {
		return v
	}
	res := s.isLessOrEqual(other)
	compareCache.Add(key, res)
	return res
}

func (s State) isLessOrEqual(other State) bool {
	if s.countTrackedVariables() != other.countTrackedVariables() {
		return false
	}
	if !constraintsSuperset(other.consts, s.consts) {
		return false
	}
	for _, e := range s.errs {
		if !errorRecorded(other.errs, e) {
			return false
		}
	}
	if s.spc.NumFrames() != other.spc.NumFrames() {
		return false
	}

	eq := spc.EqualOptions{Subsume: true}
	if s.opts.SymbolicsEqualWhenUnconstrained {
		eq.SymbolicEqual = func(a, b value.Value) bool {
			return !s.mentionedInConstraints(a) && !other.mentionedInConstraints(b) &&
				!s.mentionedInConstraints(b) && !other.mentionedInConstraints(a)
		}
	}
	visited := map[spc.ValuePair]bool{}

	for i := 0; i < s.spc.NumFrames(); i++ {
		sf, of := s.spc.Frame(i), other.spc.Frame(i)
		if sf.Function() != of.Function() {
			return false
		}
		if (sf.ReturnObject() == 0) != (of.ReturnObject() == 0) {
			return false
		}
		if of.ReturnObject() != 0 &&
			!s.objectCovers(other, sf.ReturnObject(), of.ReturnObject(), visited, eq) {
			return false
		}
	}

	// Every tracked location of other must be matched in s.
	ok := true
	other.spc.GlobalNames(func(name string, oobj smg.ObjectID) bool {
		sobj, found := s.spc.ObjectForName(name)
		if !found || !s.objectCovers(other, sobj.ID, oobj, visited, eq) {
			ok = false
			return false
		}
		return true
	})
	if !ok {
		return false
	}
	for i := 0; i < other.spc.NumFrames(); i++ {
		sf, of := s.spc.Frame(i), other.spc.Frame(i)
		of.ForEachVariable(func(name string, oobj smg.ObjectID) bool {
			sid, found := sf.Variable(name)
			if !found || !s.objectCovers(other, sid, oobj, visited, eq) {
				ok = false
				return false
			}
			return true
		})
		if !ok {
			return false
		}
	}
	return true
}

// objectCovers checks that every value stored in other's object oid has
// an equivalent at the same location in s's object sid.
func (s State) objectCovers(other State, sid, oid smg.ObjectID, visited map[spc.ValuePair]bool, eq spc.EqualOptions) bool {
	sg, og := s.spc.Graph(), other.spc.Graph()
	if sg.IsValid(sid) != og.IsValid(oid) {
		return false
	}
	for _, oe := range og.HVEdges(oid) {
		se, ok := sg.HVEdgeAt(sid, oe.Offset, oe.SizeBits)
		if !ok {
			return false
		}
		if !spc.ValuesEqual(s.spc, se.Value, other.spc, oe.Value, visited, eq) {
			return false
		}
	}
	return true
}

func (s State) countTrackedVariables() int {
	n := 0
	s.spc.GlobalNames(func(string, smg.ObjectID) bool {
		n++
		return true
	})
	for i := 0; i < s.spc.NumFrames(); i++ {
		n += s.spc.Frame(i).NumVariables()
	}
	return n
}

// constraintsSuperset reports whether sup contains every constraint of
// sub.
func constraintsSuperset(sup, sub []Constraint) bool {
	for _, c := range sub {
		found := false
		for _, d := range sup {
			if c.Op == d.Op && c.Lhs.Key() == d.Lhs.Key() && c.Rhs.Key() == d.Rhs.Key() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func errorRecorded(errs []MemoryError, e MemoryError) bool {
	for _, o := range errs {
		if o.Covers(e) {
			return true
		}
	}
	return false
}
