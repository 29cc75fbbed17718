// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spc

import (
	"fmt"

	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/value"
)

// A Materializer expands list summary segments when a pointer into one
// is dereferenced.
type Materializer struct {
	PtrSizeBits int64
	// MinimalFirst orders the two successors of a zero-length segment
	// with the segment-removed state first. Tests rely on this order.
	MinimalFirst bool
}

// A MatResult is one successor configuration of a materialization, along
// with the analysis value the dereferenced pointer denotes afterwards.
type MatResult struct {
	SPC SPC
	Ptr value.Value
}

// Materialize expands the segment ptrID points into. For a segment with
// positive minimum length it returns exactly one successor in which the
// addressed end has become a concrete region. For a zero-length segment
// it returns two: the configuration without the segment, and the
// configuration with one more concrete element and a fresh zero-length
// segment re-appended (order per MinimalFirst).
//
// Materializing through an invalid object, the null object or a
// non-segment is a caller bug and panics.
func (m Materializer) Materialize(c SPC, ptrID smg.ValueID) []MatResult {
	pt, ok := c.g.PointsTo(ptrID)
	if !ok {
		panic("spc: materializing a non-pointer")
	}
	if pt.Target == smg.NullObject {
		panic("spc: materializing through the null object")
	}
	seg, ok := c.g.Object(pt.Target)
	if !ok || !seg.IsSegment() {
		panic(fmt.Sprintf("spc: materializing non-segment %v", pt.Target))
	}
	if !c.g.IsValid(seg.ID) {
		panic(fmt.Sprintf("spc: materializing invalid segment %v", seg))
	}

	if seg.MinLength == 0 {
		minimal := m.removeZeroPlus(c, ptrID, pt, seg)
		extended := m.expand(c, ptrID, pt, seg)
		if m.MinimalFirst {
			return []MatResult{minimal, extended}
		}
		return []MatResult{extended, minimal}
	}
	return []MatResult{m.expand(c, ptrID, pt, seg)}
}

// expand peels one concrete element off the addressed end of seg and
// re-links it with a segment one shorter.
func (m Materializer) expand(c SPC, ptrID smg.ValueID, pt smg.PointsToEdge, seg smg.Object) MatResult {
	fromLeft := pt.Specifier != smg.TSLast

	// New concrete region carrying the segment's per-element fields.
	g, newObj := c.g.AddObject(smg.Object{Kind: smg.KindRegion, Size: seg.Size, Offset: seg.Offset})
	for _, e := range c.g.HVEdges(seg.ID) {
		g = g.AddHVEdge(smg.HasValueEdge{Object: newObj.ID, Offset: e.Offset, SizeBits: e.SizeBits, Value: e.Value})
	}

	// Pointers addressing the peeled end move to the new region.
	matchLevel := seg.MinLength - 1
	if matchLevel < 0 {
		matchLevel = 0
	}
	specs := smg.Specs(smg.TSFirst, smg.TSAll)
	if !fromLeft {
		specs = smg.Specs(smg.TSLast, smg.TSAll)
	}
	g = g.ReplaceSpecificPointersTowards(seg.ID, newObj.ID, matchLevel, specs)

	// The rest of the summary, one element shorter. Every pointer still
	// aimed at the old segment follows it.
	g, smaller := g.AddObject(seg.DecrementLength())
	for _, e := range c.g.HVEdges(seg.ID) {
		g = g.AddHVEdge(smg.HasValueEdge{Object: smaller.ID, Offset: e.Offset, SizeBits: e.SizeBits, Value: e.Value})
	}
	g = g.ReplaceAllPointersTowardsWith(seg.ID, smaller.ID)

	c = c.WithGraph(g)
	c = c.AddObjectToHeap(newObj.ID)
	c = c.AddObjectToHeap(smaller.ID)

	// Fresh pointer to the remaining summary.
	linkLevel := seg.MinLength - 2
	if linkLevel < 0 {
		linkLevel = 0
	}
	linkSpec := smg.TSFirst
	if !fromLeft {
		linkSpec = smg.TSLast
	}
	c, linkVal := c.SearchOrCreateAddress(smaller.ID, seg.HeadOffset, linkLevel, linkSpec)
	linkID, _ := c.vmap.lookup(linkVal)

	if fromLeft {
		// concrete -> smaller
		c = c.WriteSMGValue(newObj.ID, seg.NFO, m.PtrSizeBits, linkID)
		if seg.Kind == smg.KindDLL {
			// smaller.prev -> concrete
			var backVal value.Value
			c, backVal = c.SearchOrCreateAddress(newObj.ID, seg.HeadOffset, 0, smg.TSRegion)
			backID, _ := c.vmap.lookup(backVal)
			c = c.WriteSMGValue(smaller.ID, seg.PFO, m.PtrSizeBits, backID)
		}
	} else {
		// smaller -> concrete
		var backVal value.Value
		c, backVal = c.SearchOrCreateAddress(newObj.ID, seg.HeadOffset, 0, smg.TSRegion)
		backID, _ := c.vmap.lookup(backVal)
		c = c.WriteSMGValue(smaller.ID, seg.NFO, m.PtrSizeBits, backID)
		if seg.Kind == smg.KindDLL {
			// concrete.prev -> smaller
			c = c.WriteSMGValue(newObj.ID, seg.PFO, m.PtrSizeBits, linkID)
		}
	}

	c = c.removeFromHeapSet(seg.ID)
	c = c.WithGraph(c.g.RemoveObject(seg.ID))

	m.assertExpanded(c, ptrID, newObj, smaller, fromLeft)

	c, deref := c.ValueForOrNew(ptrID)
	return MatResult{SPC: c, Ptr: deref}
}

// assertExpanded checks the local chain around a fresh materialization:
// the concrete element links to the smaller summary (or the summary to
// the element, for right materialization), the summary length is sane,
// and the dereferenced pointer landed on the concrete element at level 0.
func (m Materializer) assertExpanded(c SPC, ptrID smg.ValueID, newObj, smaller smg.Object, fromLeft bool) {
	src, dst := newObj, smaller
	if !fromLeft {
		src, dst = smaller, newObj
	}
	e, ok := c.g.HVEdgeAt(src.ID, smaller.NFO, m.PtrSizeBits)
	if !ok {
		panic("spc: materialized chain has no next link")
	}
	link, ok := c.g.PointsTo(e.Value)
	if !ok || link.Target != dst.ID {
		panic("spc: materialized next link does not reach the summary neighbour")
	}
	if sm, _ := c.g.Object(smaller.ID); sm.MinLength < 0 {
		panic("spc: summary length went negative")
	}
	pt, ok := c.g.PointsTo(ptrID)
	if !ok || pt.Target != newObj.ID || c.g.ValueLevel(ptrID) != 0 {
		panic("spc: dereferenced pointer did not land on the new region at level 0")
	}
}

// removeZeroPlus builds the successor in which a zero-length segment
// stands for the empty list: front pointers collapse onto whatever
// followed the segment, back pointers onto whatever preceded it, and the
// segment with its private sub-graph disappears.
func (m Materializer) removeZeroPlus(c SPC, ptrID smg.ValueID, pt smg.PointsToEdge, seg smg.Object) MatResult {
	g := c.g

	nextV := smg.ZeroValue
	if e, ok := g.HVEdgeAt(seg.ID, seg.NFO, m.PtrSizeBits); ok {
		nextV = e.Value
	}
	prevObj, havePrev := m.findPredecessor(c, seg)

	derefToNext := false
	for _, e := range g.PointersTowards(seg.ID) {
		switch e.Specifier {
		case smg.TSFirst, smg.TSAll, smg.TSRegion:
			if e.Value == ptrID {
				derefToNext = true
			}
			if e.Value == nextV {
				continue
			}
			c = c.ReplaceSMGValueWith(e.Value, nextV)
			g = c.g
		case smg.TSLast:
			if havePrev {
				spec := smg.TSRegion
				if po, ok := g.Object(prevObj); ok && po.IsSegment() {
					spec = smg.TSLast
				}
				g = g.SetPointsTo(smg.PointsToEdge{Value: e.Value, Target: prevObj, Offset: e.Offset, Specifier: spec})
				g = g.SetValueLevel(e.Value, 0)
				c = c.WithGraph(g)
			} else if e.Value != nextV {
				c = c.ReplaceSMGValueWith(e.Value, nextV)
				g = c.g
				if e.Value == ptrID {
					derefToNext = true
				}
			}
		}
	}

	c = c.RemoveObjectAndSubgraph(seg.ID)

	var deref value.Value
	if derefToNext {
		c, deref = c.ValueForOrNew(nextV)
	} else {
		c, deref = c.ValueForOrNew(ptrID)
	}
	return MatResult{SPC: c, Ptr: deref}
}

// findPredecessor locates the element preceding seg: through the prev
// field for a DLL, by scanning for a matching next link for an SLL.
func (m Materializer) findPredecessor(c SPC, seg smg.Object) (smg.ObjectID, bool) {
	if seg.Kind == smg.KindDLL {
		if e, ok := c.g.HVEdgeAt(seg.ID, seg.PFO, m.PtrSizeBits); ok {
			if pt, ok := c.g.PointsTo(e.Value); ok && pt.Target != smg.NullObject {
				return pt.Target, true
			}
		}
		return 0, false
	}
	var found smg.ObjectID
	ok := false
	c.g.Objects(func(o smg.Object) bool {
		if o.ID == seg.ID || !c.g.IsValid(o.ID) || o.Size != seg.Size {
			return true
		}
		e, have := c.g.HVEdgeAt(o.ID, seg.NFO, m.PtrSizeBits)
		if !have {
			return true
		}
		if pt, isPtr := c.g.PointsTo(e.Value); isPtr && pt.Target == seg.ID &&
			(pt.Specifier == smg.TSFirst || pt.Specifier == smg.TSAll) {
			found, ok = o.ID, true
			return false
		}
		return true
	})
	return found, ok
}

// ReplaceSMGValueWith merges graph value old into new: every field
// holding old now holds new, and old leaves the graph and the mapping.
func (c SPC) ReplaceSMGValueWith(old, new smg.ValueID) SPC {
	c.g = c.g.ReplaceValueWith(old, new)
	c.vmap = c.vmap.remove(old)
	return c
}

// RemoveObjectAndSubgraph removes id and everything that was reachable
// only through it.
func (c SPC) RemoveObjectAndSubgraph(id smg.ObjectID) SPC {
	sub := c.g.CollectReachable([]smg.ObjectID{id})
	c = c.removeFromHeapSet(id)
	c.g = c.g.RemoveObject(id)

	keep := c.g.CollectReachable(c.rootObjects())
	var dropObjs []smg.ObjectID
	c.g.Objects(func(o smg.Object) bool {
		if o.ID != smg.NullObject && sub.HasObject(o.ID) && !keep.HasObject(o.ID) {
			dropObjs = append(dropObjs, o.ID)
		}
		return true
	})
	for _, oid := range dropObjs {
		c = c.removeFromHeapSet(oid)
		c.g = c.g.RemoveObject(oid)
	}
	var dropVals []smg.ValueID
	c.g.Values(func(v smg.ValueID, _ int) bool {
		if v != smg.ZeroValue && sub.HasValue(v) && !keep.HasValue(v) && !c.whitelist.Has(valEntry{id: v}) {
			dropVals = append(dropVals, v)
		}
		return true
	})
	for _, v := range dropVals {
		c.g = c.g.RemoveValue(v)
		c.vmap = c.vmap.remove(v)
	}
	return c
}

// removeFromHeapSet drops id from the heap and external sets.
func (c SPC) removeFromHeapSet(id smg.ObjectID) SPC {
	if !c.heap.Has(objEntry{id: id}) && !c.external.Has(extEntry{id: id}) {
		return c
	}
	c.heap = c.heap.Clone()
	c.heap.Delete(objEntry{id: id})
	c.external = c.external.Clone()
	c.external.Delete(extEntry{id: id})
	return c
}
