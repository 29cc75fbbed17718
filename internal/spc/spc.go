// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spc implements the symbolic program configuration: one
// immutable snapshot of the memory graph together with the global scope,
// the stack of function frames, the heap object set, and the bijection
// between analysis values and graph values. Every mutator returns a new
// configuration; B-tree clones keep the copies cheap.
package spc

import (
	"fmt"

	"github.com/google/btree"

	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/value"
)

type objEntry struct {
	id smg.ObjectID
}

type extEntry struct {
	id    smg.ObjectID
	valid bool
}

type valEntry struct {
	id smg.ValueID
}

// An SPC is a symbolic program configuration.
type SPC struct {
	g       smg.Graph
	globals *btree.BTreeG[namedObject]
	frames  []StackFrame
	heap    *btree.BTreeG[objEntry]
	// Externally allocated objects and whether the allocation is still
	// considered valid. Reads and writes to them succeed while valid.
	external *btree.BTreeG[extEntry]
	vmap     valueMap
	// Values exempt from unreachability pruning, e.g. addresses an
	// assumption still mentions.
	whitelist *btree.BTreeG[valEntry]
}

// Empty returns a configuration holding only the null object and the
// zero value, with no frames.
func Empty() SPC {
	return SPC{
		g:         smg.New(),
		globals:   btree.NewG(8, func(a, b namedObject) bool { return a.name < b.name }),
		heap:      btree.NewG(8, func(a, b objEntry) bool { return a.id < b.id }),
		external:  btree.NewG(8, func(a, b extEntry) bool { return a.id < b.id }),
		vmap:      newValueMap(),
		whitelist: btree.NewG(8, func(a, b valEntry) bool { return a.id < b.id }),
	}
}

// Graph returns the underlying memory graph.
func (c SPC) Graph() smg.Graph { return c.g }

// WithGraph returns c with the graph replaced. For use by the shape
// transformations in this package and nowhere else.
func (c SPC) WithGraph(g smg.Graph) SPC {
	c.g = g
	return c
}

// AddGlobal creates a valid object of the given size and binds it in the
// global scope.
func (c SPC) AddGlobal(name string, size smg.Size) (SPC, smg.Object) {
	g, o := c.g.AddObject(smg.Region(size))
	c.g = g
	c.globals = c.globals.Clone()
	c.globals.ReplaceOrInsert(namedObject{name: name, obj: o.ID})
	return c, o
}

// AddStackObject creates a valid object of the given size and binds it
// in the topmost frame. Panics without a frame.
func (c SPC) AddStackObject(name string, size smg.Size) (SPC, smg.Object) {
	if len(c.frames) == 0 {
		panic("spc: AddStackObject without a stack frame")
	}
	g, o := c.g.AddObject(smg.Region(size))
	c.g = g
	frames := append([]StackFrame(nil), c.frames...)
	frames[len(frames)-1] = frames[len(frames)-1].withVariable(name, o.ID)
	c.frames = frames
	return c, o
}

// AddHeapObject creates a valid anonymous object in the heap set.
func (c SPC) AddHeapObject(size smg.Size) (SPC, smg.Object) {
	g, o := c.g.AddObject(smg.Region(size))
	c.g = g
	c.heap = c.heap.Clone()
	c.heap.ReplaceOrInsert(objEntry{id: o.ID})
	return c, o
}

// AddObjectToHeap inserts an already created object (a fresh segment or
// materialized region) into the heap set.
func (c SPC) AddObjectToHeap(id smg.ObjectID) SPC {
	c.heap = c.heap.Clone()
	c.heap.ReplaceOrInsert(objEntry{id: id})
	return c
}

// IsHeapObject reports whether id is in the heap set.
func (c SPC) IsHeapObject(id smg.ObjectID) bool {
	return c.heap.Has(objEntry{id: id})
}

// RemoveGlobal invalidates the object bound to name. The binding stays
// as a tombstone so later accesses are flagged as invalid.
func (c SPC) RemoveGlobal(name string) SPC {
	e, ok := c.globals.Get(namedObject{name: name})
	if !ok {
		return c
	}
	c.g = c.g.SetValidity(e.obj, false)
	return c
}

// RemoveStackVariable invalidates the object bound to name in the top
// frame, keeping the tombstone binding.
func (c SPC) RemoveStackVariable(name string) SPC {
	if len(c.frames) == 0 {
		return c
	}
	obj, ok := c.frames[len(c.frames)-1].Variable(name)
	if !ok {
		return c
	}
	c.g = c.g.SetValidity(obj, false)
	return c
}

// PushFrame pushes a frame for fn. returnSize is the size of the return
// slot; pass the zero Size for void functions.
func (c SPC) PushFrame(fn string, returnSize smg.Size) SPC {
	var ret smg.ObjectID
	if returnSize != (smg.Size{}) {
		g, o := c.g.AddObject(smg.Region(returnSize))
		c.g = g
		ret = o.ID
	}
	frames := append([]StackFrame(nil), c.frames...)
	c.frames = append(frames, NewStackFrame(fn, ret))
	return c
}

// SetVarArgs records the variable-argument vector on the top frame.
func (c SPC) SetVarArgs(args []smg.ValueID) SPC {
	if len(c.frames) == 0 {
		panic("spc: SetVarArgs without a stack frame")
	}
	frames := append([]StackFrame(nil), c.frames...)
	frames[len(frames)-1] = frames[len(frames)-1].withVarArgs(args)
	c.frames = frames
	return c
}

// DropTopFrame invalidates every object the top frame owns, return slot
// included, and pops it. The caller prunes afterwards to collect what
// the frame kept alive.
func (c SPC) DropTopFrame() SPC {
	if len(c.frames) == 0 {
		panic("spc: DropTopFrame on an empty stack")
	}
	f := c.frames[len(c.frames)-1]
	g := c.g
	f.ForEachVariable(func(_ string, obj smg.ObjectID) bool {
		g = g.SetValidity(obj, false)
		return true
	})
	if f.ret != 0 {
		g = g.SetValidity(f.ret, false)
	}
	c.g = g
	c.frames = c.frames[: len(c.frames)-1 : len(c.frames)-1]
	return c
}

// TopFrame returns the topmost frame.
func (c SPC) TopFrame() (StackFrame, bool) {
	if len(c.frames) == 0 {
		return StackFrame{}, false
	}
	return c.frames[len(c.frames)-1], true
}

// NumFrames returns the stack depth.
func (c SPC) NumFrames() int { return len(c.frames) }

// Frame returns the i-th frame, 0 being the outermost.
func (c SPC) Frame(i int) StackFrame { return c.frames[i] }

// ObjectForName resolves name against the top frame, then the globals —
// the scopes visible at the current program point.
func (c SPC) ObjectForName(name string) (smg.Object, bool) {
	if len(c.frames) > 0 {
		if id, ok := c.frames[len(c.frames)-1].Variable(name); ok {
			o, _ := c.g.Object(id)
			return o, true
		}
	}
	if e, ok := c.globals.Get(namedObject{name: name}); ok {
		o, _ := c.g.Object(e.obj)
		return o, true
	}
	return smg.Object{}, false
}

// GlobalNames calls fn for every global binding in name order.
func (c SPC) GlobalNames(fn func(name string, obj smg.ObjectID) bool) {
	c.globals.Ascend(func(e namedObject) bool { return fn(e.name, e.obj) })
}

// ReadValue forwards to the graph read.
func (c SPC) ReadValue(obj smg.ObjectID, off, size int64, precise bool) []smg.HasValueEdge {
	return c.g.ReadValue(obj, off, size, precise)
}

// WriteValue maps v into the graph (creating the graph value on first
// appearance) and writes it at [off, off+size) of obj.
func (c SPC) WriteValue(obj smg.ObjectID, off, size int64, v value.Value) SPC {
	c, id := c.SMGValueFor(v)
	c.g = c.g.WriteValue(obj, off, size, id)
	return c
}

// WriteSMGValue writes an already mapped graph value.
func (c SPC) WriteSMGValue(obj smg.ObjectID, off, size int64, v smg.ValueID) SPC {
	c.g = c.g.WriteValue(obj, off, size, v)
	return c
}

// WritePTE installs a points-to edge for v.
func (c SPC) WritePTE(v value.Value, target smg.ObjectID, off int64, spec smg.TargetSpecifier) SPC {
	c, id := c.SMGValueFor(v)
	c.g = c.g.SetPointsTo(smg.PointsToEdge{Value: id, Target: target, Offset: off, Specifier: spec})
	return c
}

// Invalidate marks obj invalid, as free and scope exit do.
func (c SPC) Invalidate(obj smg.ObjectID) SPC {
	c.g = c.g.SetValidity(obj, false)
	return c
}

// SetExternallyAllocated marks obj as externally allocated memory.
func (c SPC) SetExternallyAllocated(obj smg.ObjectID, valid bool) SPC {
	c.external = c.external.Clone()
	c.external.ReplaceOrInsert(extEntry{id: obj, valid: valid})
	return c
}

// IsExternallyAllocated reports whether obj is valid external memory.
func (c SPC) IsExternallyAllocated(obj smg.ObjectID) bool {
	e, ok := c.external.Get(extEntry{id: obj})
	return ok && e.valid
}

// AddToWhitelist exempts a graph value from pruning.
func (c SPC) AddToWhitelist(v smg.ValueID) SPC {
	c.whitelist = c.whitelist.Clone()
	c.whitelist.ReplaceOrInsert(valEntry{id: v})
	return c
}

// SMGValueFor returns the graph value mapped to v, minting one on first
// appearance. Address expressions never enter the mapping; resolve them
// to a proper address value first.
func (c SPC) SMGValueFor(v value.Value) (SPC, smg.ValueID) {
	if _, ok := v.(value.AddressExpr); ok {
		panic("spc: address expression reached the value mapping")
	}
	if id, ok := c.vmap.lookup(v); ok {
		return c, id
	}
	g, id := c.g.AddValue(0)
	c.g = g
	c.vmap = c.vmap.insert(v, id)
	return c, id
}

// LookupSMGValue returns the graph value mapped to v without minting.
func (c SPC) LookupSMGValue(v value.Value) (smg.ValueID, bool) {
	return c.vmap.lookup(v)
}

// ValueFor returns the analysis value mapped to id.
func (c SPC) ValueFor(id smg.ValueID) (value.Value, bool) {
	return c.vmap.reverse(id)
}

// ValueForOrNew returns the analysis value mapped to id, minting a fresh
// symbolic value for a graph value seen for the first time.
func (c SPC) ValueForOrNew(id smg.ValueID) (SPC, value.Value) {
	if v, ok := c.vmap.reverse(id); ok {
		return c, v
	}
	if !c.g.HasValue(id) {
		panic(fmt.Sprintf("spc: ValueForOrNew of unknown graph value v%d", id))
	}
	v := value.NewSymbolic()
	c.vmap = c.vmap.insert(v, id)
	return c, v
}

// CheckBijection reports whether the value mapping is a bijection.
func (c SPC) CheckBijection() bool { return c.vmap.checkBijection() }

// NumMappedValues returns the size of the value mapping.
func (c SPC) NumMappedValues() int { return c.vmap.len() }

// DereferencePointer resolves v to its points-to edge. The second result
// is false when v is unknown or not a pointer.
func (c SPC) DereferencePointer(v value.Value) (smg.PointsToEdge, bool) {
	id, ok := c.vmap.lookup(v)
	if !ok {
		return smg.PointsToEdge{}, false
	}
	return c.g.PointsTo(id)
}

// specifierCompatible reports whether an existing pointer with specifier
// have can stand in for a requested want.
func specifierCompatible(have, want smg.TargetSpecifier) bool {
	return have == want || have == smg.TSAll
}

// SearchOrCreateAddress returns an address value pointing at
// (target, offset) with the given nesting level and specifier. An
// existing pointer with matching target, offset, level and a compatible
// specifier is reused; otherwise a fresh value and points-to edge are
// created.
func (c SPC) SearchOrCreateAddress(target smg.ObjectID, offset int64, level int, spec smg.TargetSpecifier) (SPC, value.Value) {
	for _, e := range c.g.PointersTowards(target) {
		if e.Offset != offset || !specifierCompatible(e.Specifier, spec) {
			continue
		}
		if c.g.ValueLevel(e.Value) != level {
			continue
		}
		return c.ValueForOrNew(e.Value)
	}
	g, id := c.g.AddValue(level)
	c.g = g.SetPointsTo(smg.PointsToEdge{Value: id, Target: target, Offset: offset, Specifier: spec})
	v := value.NewSymbolic()
	c.vmap = c.vmap.insert(v, id)
	return c, v
}

// CopyRange copies the edges of src fully contained in
// [srcOff, srcOff+size) into dst at dstOff, first clearing the
// destination range. Partially covered source edges are dropped, the
// usual overapproximation for byte-wise copies.
func (c SPC) CopyRange(src, dst smg.ObjectID, srcOff, dstOff, size int64) SPC {
	g := c.g
	for _, e := range g.HVEdges(dst) {
		if e.Overlaps(dstOff, size) {
			g = g.RemoveHVEdge(e)
		}
	}
	for _, e := range g.HVEdges(src) {
		if e.Offset >= srcOff && e.Offset+e.SizeBits <= srcOff+size {
			g = g.AddHVEdge(smg.HasValueEdge{
				Object:   dst,
				Offset:   e.Offset - srcOff + dstOff,
				SizeBits: e.SizeBits,
				Value:    e.Value,
			})
		}
	}
	c.g = g
	return c
}

// rootObjects returns the pruning roots: globals plus every stack
// binding and return slot.
func (c SPC) rootObjects() []smg.ObjectID {
	var roots []smg.ObjectID
	c.globals.Ascend(func(e namedObject) bool {
		roots = append(roots, e.obj)
		return true
	})
	for _, f := range c.frames {
		f.ForEachVariable(func(_ string, obj smg.ObjectID) bool {
			roots = append(roots, obj)
			return true
		})
		if f.ret != 0 {
			roots = append(roots, f.ret)
		}
	}
	return roots
}
