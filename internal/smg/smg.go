// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package smg implements the symbolic memory graph: objects, values,
// has-value edges and points-to edges, with validity and nesting-level
// bookkeeping. The graph is purely functional; every mutator returns a
// new graph. Edge sets live in copy-on-write B-trees, so successor
// graphs share structure with their parents.
package smg

import (
	"math"

	"github.com/google/btree"
)

// btree degree for all edge and object sets. Small analyses dominate;
// a low degree keeps clones cheap.
const treeDegree = 8

type validEntry struct {
	id    ObjectID
	valid bool
}

type valueEntry struct {
	id    ValueID
	level int
}

// A Graph is the symbolic memory graph. The zero Graph is not usable;
// call New.
type Graph struct {
	objects *btree.BTreeG[Object]
	valid   *btree.BTreeG[validEntry]
	values  *btree.BTreeG[valueEntry]
	hve     *btree.BTreeG[HasValueEdge]
	pte     *btree.BTreeG[PointsToEdge]

	nextObject ObjectID
	nextValue  ValueID
}

// New returns a graph holding only the null object, the zero value and
// the null pointer (zero value pointing at the null object).
func New() Graph {
	g := Graph{
		objects:    btree.NewG(treeDegree, func(a, b Object) bool { return a.ID < b.ID }),
		valid:      btree.NewG(treeDegree, func(a, b validEntry) bool { return a.id < b.id }),
		values:     btree.NewG(treeDegree, func(a, b valueEntry) bool { return a.id < b.id }),
		hve:        btree.NewG(treeDegree, hveLess),
		pte:        btree.NewG(treeDegree, pteLess),
		nextObject: 1,
		nextValue:  1,
	}
	g.objects.ReplaceOrInsert(Object{ID: NullObject, Kind: KindRegion})
	g.valid.ReplaceOrInsert(validEntry{id: NullObject, valid: false})
	g.values.ReplaceOrInsert(valueEntry{id: ZeroValue})
	g.pte.ReplaceOrInsert(PointsToEdge{Value: ZeroValue, Target: NullObject, Offset: 0, Specifier: TSRegion})
	return g
}

// AddObject assigns a fresh id to o, inserts it as valid, and returns
// the new graph together with the stored record.
func (g Graph) AddObject(o Object) (Graph, Object) {
	o.ID = g.nextObject
	g.nextObject++
	g.objects = clone(g.objects)
	g.objects.ReplaceOrInsert(o)
	g.valid = clone(g.valid)
	g.valid.ReplaceOrInsert(validEntry{id: o.ID, valid: true})
	return g, o
}

// SetObject replaces the record of an existing object.
func (g Graph) SetObject(o Object) Graph {
	if _, ok := g.objects.Get(Object{ID: o.ID}); !ok {
		panic("smg: SetObject of unknown object")
	}
	g.objects = clone(g.objects)
	g.objects.ReplaceOrInsert(o)
	return g
}

// Object returns the record for id.
func (g Graph) Object(id ObjectID) (Object, bool) {
	return g.objects.Get(Object{ID: id})
}

// HasObject reports whether id is in the graph.
func (g Graph) HasObject(id ObjectID) bool {
	return g.objects.Has(Object{ID: id})
}

// IsValid reports the validity bit of id. Unknown objects are invalid.
func (g Graph) IsValid(id ObjectID) bool {
	e, ok := g.valid.Get(validEntry{id: id})
	return ok && e.valid
}

// SetValidity flips the validity bit of id.
func (g Graph) SetValidity(id ObjectID, valid bool) Graph {
	g.valid = clone(g.valid)
	g.valid.ReplaceOrInsert(validEntry{id: id, valid: valid})
	return g
}

// RemoveObject drops the object record, its validity bit and all of its
// has-value edges. Pointers toward the object are the caller's concern.
func (g Graph) RemoveObject(id ObjectID) Graph {
	if id == NullObject {
		panic("smg: removing the null object")
	}
	g.objects = clone(g.objects)
	g.objects.Delete(Object{ID: id})
	g.valid = clone(g.valid)
	g.valid.Delete(validEntry{id: id})
	g.hve = clone(g.hve)
	for _, e := range g.objectEdges(id) {
		g.hve.Delete(e)
	}
	return g
}

// AddValue mints a fresh value at the given nesting level.
func (g Graph) AddValue(level int) (Graph, ValueID) {
	id := g.nextValue
	g.nextValue++
	g.values = clone(g.values)
	g.values.ReplaceOrInsert(valueEntry{id: id, level: level})
	return g, id
}

// HasValue reports whether id is in the graph's value set.
func (g Graph) HasValue(id ValueID) bool {
	return g.values.Has(valueEntry{id: id})
}

// ValueLevel returns the nesting level of id.
func (g Graph) ValueLevel(id ValueID) int {
	e, _ := g.values.Get(valueEntry{id: id})
	return e.level
}

// SetValueLevel sets the nesting level of id.
func (g Graph) SetValueLevel(id ValueID, level int) Graph {
	if !g.values.Has(valueEntry{id: id}) {
		panic("smg: SetValueLevel of unknown value")
	}
	g.values = clone(g.values)
	g.values.ReplaceOrInsert(valueEntry{id: id, level: level})
	return g
}

// RemoveValue drops a value and its points-to edge, if any.
func (g Graph) RemoveValue(id ValueID) Graph {
	if id == ZeroValue {
		panic("smg: removing the zero value")
	}
	g.values = clone(g.values)
	g.values.Delete(valueEntry{id: id})
	g.pte = clone(g.pte)
	g.pte.Delete(PointsToEdge{Value: id})
	return g
}

// objectEdges returns the has-value edges of obj in offset order.
func (g Graph) objectEdges(obj ObjectID) []HasValueEdge {
	var out []HasValueEdge
	lo := HasValueEdge{Object: obj, Offset: math.MinInt64, SizeBits: math.MinInt64}
	hi := HasValueEdge{Object: obj + 1, Offset: math.MinInt64, SizeBits: math.MinInt64}
	g.hve.AscendRange(lo, hi, func(e HasValueEdge) bool {
		out = append(out, e)
		return true
	})
	return out
}

// HVEdges returns the has-value edges of obj in offset order.
func (g Graph) HVEdges(obj ObjectID) []HasValueEdge {
	return g.objectEdges(obj)
}

// HVEdgeAt returns the edge of obj exactly covering [off, off+size), if any.
func (g Graph) HVEdgeAt(obj ObjectID, off, size int64) (HasValueEdge, bool) {
	for _, e := range g.objectEdges(obj) {
		if e.CoversExactly(off, size) {
			return e, true
		}
	}
	return HasValueEdge{}, false
}

// ReadValue returns the has-value edges of obj overlapping
// [off, off+size). With precise set, a single edge that fully covers the
// range is returned alone; in every other case all overlapping edges are
// returned and the caller decides whether a partial extraction applies.
func (g Graph) ReadValue(obj ObjectID, off, size int64, precise bool) []HasValueEdge {
	var overlap []HasValueEdge
	for _, e := range g.objectEdges(obj) {
		if e.Overlaps(off, size) {
			overlap = append(overlap, e)
		}
	}
	if precise && len(overlap) == 1 && overlap[0].Covers(off, size) {
		return overlap
	}
	return overlap
}

// WriteValue removes every edge of obj intersecting [off, off+size) and
// inserts the new edge. Writing the zero value over an already-zero
// range leaves the graph untouched.
func (g Graph) WriteValue(obj ObjectID, off, size int64, v ValueID) Graph {
	if v == ZeroValue && g.zeroCovered(obj, off, size) {
		return g
	}
	if !g.values.Has(valueEntry{id: v}) {
		panic("smg: WriteValue with unknown value")
	}
	g.hve = clone(g.hve)
	for _, e := range g.objectEdges(obj) {
		if e.Overlaps(off, size) {
			g.hve.Delete(e)
			// A zero edge sticking out of the overwritten range is
			// split, keeping the zero bits that survive the write.
			if e.Value == ZeroValue {
				if e.Offset < off {
					g.hve.ReplaceOrInsert(HasValueEdge{Object: obj, Offset: e.Offset, SizeBits: off - e.Offset, Value: ZeroValue})
				}
				if e.Offset+e.SizeBits > off+size {
					g.hve.ReplaceOrInsert(HasValueEdge{Object: obj, Offset: off + size, SizeBits: e.Offset + e.SizeBits - (off + size), Value: ZeroValue})
				}
			}
		}
	}
	g.hve.ReplaceOrInsert(HasValueEdge{Object: obj, Offset: off, SizeBits: size, Value: v})
	return g
}

// zeroCovered reports whether [off, off+size) of obj is entirely covered
// by zero-valued edges.
func (g Graph) zeroCovered(obj ObjectID, off, size int64) bool {
	next := off
	for _, e := range g.objectEdges(obj) {
		if e.Value != ZeroValue || !e.Overlaps(off, size) {
			continue
		}
		if e.Offset > next {
			return false
		}
		if e.Offset+e.SizeBits > next {
			next = e.Offset + e.SizeBits
		}
	}
	return next >= off+size
}

// RemoveHVEdge deletes one has-value edge.
func (g Graph) RemoveHVEdge(e HasValueEdge) Graph {
	g.hve = clone(g.hve)
	g.hve.Delete(e)
	return g
}

// AddHVEdge inserts one has-value edge without overlap removal. The
// caller guarantees the no-overlap invariant.
func (g Graph) AddHVEdge(e HasValueEdge) Graph {
	g.hve = clone(g.hve)
	g.hve.ReplaceOrInsert(e)
	return g
}

// IsPointer reports whether v has a points-to edge.
func (g Graph) IsPointer(v ValueID) bool {
	return g.pte.Has(PointsToEdge{Value: v})
}

// PointsTo returns the points-to edge of v.
func (g Graph) PointsTo(v ValueID) (PointsToEdge, bool) {
	return g.pte.Get(PointsToEdge{Value: v})
}

// SetPointsTo installs or replaces the points-to edge of e.Value.
func (g Graph) SetPointsTo(e PointsToEdge) Graph {
	if !g.values.Has(valueEntry{id: e.Value}) {
		panic("smg: SetPointsTo with unknown value")
	}
	g.pte = clone(g.pte)
	g.pte.ReplaceOrInsert(e)
	return g
}

// RemovePointsTo deletes the points-to edge of v, if any.
func (g Graph) RemovePointsTo(v ValueID) Graph {
	g.pte = clone(g.pte)
	g.pte.Delete(PointsToEdge{Value: v})
	return g
}

// PointersTowards returns every points-to edge targeting obj, in value
// order.
func (g Graph) PointersTowards(obj ObjectID) []PointsToEdge {
	var out []PointsToEdge
	g.pte.Ascend(func(e PointsToEdge) bool {
		if e.Target == obj {
			out = append(out, e)
		}
		return true
	})
	return out
}

// ReplaceSpecificPointersTowards redirects the pointers toward old whose
// specifier is in specs and whose value nesting level equals matchLevel.
// Redirected pointers land on new as plain region pointers at level 0;
// their target offset is preserved. Used by the materializer to peel the
// front (or back) element off a segment.
func (g Graph) ReplaceSpecificPointersTowards(old, new ObjectID, matchLevel int, specs SpecifierSet) Graph {
	for _, e := range g.PointersTowards(old) {
		if !specs.Has(e.Specifier) || g.ValueLevel(e.Value) != matchLevel {
			continue
		}
		e.Target = new
		e.Specifier = TSRegion
		g = g.SetPointsTo(e)
		g = g.SetValueLevel(e.Value, 0)
	}
	return g
}

// ReplaceAllPointersTowardsWith redirects every pointer toward old to
// new, keeping specifier, offset and nesting level.
func (g Graph) ReplaceAllPointersTowardsWith(old, new ObjectID) Graph {
	for _, e := range g.PointersTowards(old) {
		e.Target = new
		g = g.SetPointsTo(e)
	}
	return g
}

// ReplaceAllPointersTowardsWithAndIncrementNestingLevel redirects every
// pointer toward old to new and bumps each pointer value's nesting level
// by delta. Used when folding a chain element into a segment.
func (g Graph) ReplaceAllPointersTowardsWithAndIncrementNestingLevel(old, new ObjectID, delta int) Graph {
	for _, e := range g.PointersTowards(old) {
		e.Target = new
		g = g.SetPointsTo(e)
		g = g.SetValueLevel(e.Value, g.ValueLevel(e.Value)+delta)
	}
	return g
}

// AllHVEdges calls fn for every has-value edge, ordered by object and
// offset. fn returning false stops the walk.
func (g Graph) AllHVEdges(fn func(HasValueEdge) bool) {
	g.hve.Ascend(func(e HasValueEdge) bool { return fn(e) })
}

// ValueUses returns the number of has-value edges carrying v.
func (g Graph) ValueUses(v ValueID) int {
	n := 0
	g.hve.Ascend(func(e HasValueEdge) bool {
		if e.Value == v {
			n++
		}
		return true
	})
	return n
}

// ReplaceValueWith rewrites every has-value edge carrying old to carry
// new, then drops old together with its points-to edge. Used when a
// zero-length segment collapses and its address becomes the address of
// whatever followed it.
func (g Graph) ReplaceValueWith(old, new ValueID) Graph {
	if old == ZeroValue {
		panic("smg: replacing the zero value")
	}
	if !g.values.Has(valueEntry{id: new}) {
		panic("smg: ReplaceValueWith unknown replacement")
	}
	var rewrite []HasValueEdge
	g.hve.Ascend(func(e HasValueEdge) bool {
		if e.Value == old {
			rewrite = append(rewrite, e)
		}
		return true
	})
	if len(rewrite) > 0 {
		g.hve = clone(g.hve)
		for _, e := range rewrite {
			g.hve.Delete(e)
			e.Value = new
			g.hve.ReplaceOrInsert(e)
		}
	}
	return g.RemoveValue(old)
}

// Objects calls fn for every object in id order. fn returning false
// stops the walk.
func (g Graph) Objects(fn func(Object) bool) {
	g.objects.Ascend(func(o Object) bool { return fn(o) })
}

// Values calls fn with every value id and nesting level in id order.
func (g Graph) Values(fn func(ValueID, int) bool) {
	g.values.Ascend(func(e valueEntry) bool { return fn(e.id, e.level) })
}

// NumObjects returns the number of objects, the null object included.
func (g Graph) NumObjects() int { return g.objects.Len() }

// NumValues returns the number of values, the zero value included.
func (g Graph) NumValues() int { return g.values.Len() }

// MaxObjectID returns the upper bound of assigned object ids.
func (g Graph) MaxObjectID() ObjectID { return g.nextObject }

// MaxValueID returns the upper bound of assigned value ids.
func (g Graph) MaxValueID() ValueID { return g.nextValue }

func clone[T any](t *btree.BTreeG[T]) *btree.BTreeG[T] { return t.Clone() }
