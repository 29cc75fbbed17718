// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/value"
)

const ptrBits = 64

// buildList links n heap nodes through offset 64 (and, for doubly
// linked lists, back through offset 128), stores 7 at offset 0 of each,
// and parks the head address in local "head".
func buildList(t *testing.T, n int, dll bool) (SPC, []smg.Object) {
	t.Helper()
	c := Empty()
	c = c.PushFrame("main", smg.Size{})
	c, head := c.AddStackObject("head", smg.BitsSize(ptrBits))

	size := int64(128)
	if dll {
		size = 192
	}
	nodes := make([]smg.Object, n)
	for i := range nodes {
		c, nodes[i] = c.AddHeapObject(smg.BitsSize(size))
	}
	addr := func(o smg.Object) value.Value {
		var a value.Value
		c, a = c.SearchOrCreateAddress(o.ID, 0, 0, smg.TSRegion)
		return a
	}
	for i, o := range nodes {
		c = c.WriteValue(o.ID, 0, 64, value.Int(7))
		if i+1 < n {
			c = c.WriteValue(o.ID, 64, ptrBits, addr(nodes[i+1]))
		} else {
			c = c.WriteValue(o.ID, 64, ptrBits, value.Zero)
		}
		if dll {
			if i > 0 {
				c = c.WriteValue(o.ID, 128, ptrBits, addr(nodes[i-1]))
			} else {
				c = c.WriteValue(o.ID, 128, ptrBits, value.Zero)
			}
		}
	}
	c = c.WriteValue(head.ID, 0, ptrBits, addr(nodes[0]))
	return c, nodes
}

func onlySegment(t *testing.T, c SPC) smg.Object {
	t.Helper()
	var segs []smg.Object
	c.Graph().Objects(func(o smg.Object) bool {
		if o.IsSegment() {
			segs = append(segs, o)
		}
		return true
	})
	require.Len(t, segs, 1)
	return segs[0]
}

func abstractOpts() AbstractionOptions {
	return AbstractionOptions{PtrSizeBits: ptrBits, MinChainLength: 2}
}

func TestAbstractSLLChain(t *testing.T) {
	c, _ := buildList(t, 4, false)
	c = Abstract(c, abstractOpts())

	seg := onlySegment(t, c)
	if seg.Kind != smg.KindSLL || seg.MinLength != 4 || seg.NFO != 64 {
		t.Fatalf("fold produced %v, want 4+ sll with nfo 64", seg)
	}

	head, _ := c.ObjectForName("head")
	e, ok := c.Graph().HVEdgeAt(head.ID, 0, ptrBits)
	require.True(t, ok)
	pt, ok := c.Graph().PointsTo(e.Value)
	require.True(t, ok)
	if pt.Target != seg.ID || pt.Specifier != smg.TSFirst {
		t.Errorf("head pointer = %v, want first pointer into the segment", pt)
	}
	if lvl := c.Graph().ValueLevel(e.Value); lvl != 3 {
		t.Errorf("head pointer nesting level = %d, want 3", lvl)
	}

	require.NoError(t, c.Graph().CheckConsistency())
	require.True(t, c.CheckBijection())
}

func TestAbstractDLLChain(t *testing.T) {
	c, _ := buildList(t, 4, true)
	c = Abstract(c, abstractOpts())

	seg := onlySegment(t, c)
	if seg.Kind != smg.KindDLL || seg.MinLength != 4 || seg.NFO != 64 || seg.PFO != 128 {
		t.Fatalf("fold produced %v, want 4+ dll with nfo 64 pfo 128", seg)
	}
	// The summary's own links are the chain's outer links.
	next, ok := c.Graph().HVEdgeAt(seg.ID, 64, ptrBits)
	require.True(t, ok)
	require.Equal(t, smg.ZeroValue, next.Value)
	prev, ok := c.Graph().HVEdgeAt(seg.ID, 128, ptrBits)
	require.True(t, ok)
	require.Equal(t, smg.ZeroValue, prev.Value)

	require.NoError(t, c.Graph().CheckConsistency())
	require.True(t, c.CheckBijection())
}

func TestAbstractSplitsAtMismatch(t *testing.T) {
	c, nodes := buildList(t, 5, false)
	// Poison the middle node; the chain must fold around it.
	c = c.WriteValue(nodes[2].ID, 0, 64, value.Int(8))
	c = Abstract(c, abstractOpts())

	var segs []smg.Object
	regions := 0
	c.Graph().Objects(func(o smg.Object) bool {
		if o.IsSegment() {
			segs = append(segs, o)
		} else if c.IsHeapObject(o.ID) {
			regions++
		}
		return true
	})
	require.Len(t, segs, 2)
	for _, s := range segs {
		require.Equal(t, 2, s.MinLength)
	}
	require.Equal(t, 1, regions)
	require.NoError(t, c.Graph().CheckConsistency())
}

// TestAbstractFoldsIntoExistingZeroPlus prepends concrete nodes to a
// summary left behind by an earlier round of abstraction and
// materialization, then re-abstracts. Folding a pair whose next is
// already a 0+ segment drops the forward link's points-to edge
// entirely: its only use was the dying next field.
func TestAbstractFoldsIntoExistingZeroPlus(t *testing.T) {
	c := Empty()
	c = c.PushFrame("main", smg.Size{})
	c, head := c.AddStackObject("head", smg.BitsSize(ptrBits))

	g, seg := c.Graph().AddObject(smg.SLL(smg.BitsSize(128), 0, 64, 0, 0))
	c = c.WithGraph(g)
	c = c.AddObjectToHeap(seg.ID)
	c = c.WriteValue(seg.ID, 0, 64, value.Int(7))
	c = c.WriteValue(seg.ID, 64, ptrBits, value.Zero)

	c, r1 := c.AddHeapObject(smg.BitsSize(128))
	c, r2 := c.AddHeapObject(smg.BitsSize(128))
	var segAddr, r1Addr, r2Addr value.Value
	c, segAddr = c.SearchOrCreateAddress(seg.ID, 0, 0, smg.TSFirst)
	c, r1Addr = c.SearchOrCreateAddress(r1.ID, 0, 0, smg.TSRegion)
	c, r2Addr = c.SearchOrCreateAddress(r2.ID, 0, 0, smg.TSRegion)
	c = c.WriteValue(r1.ID, 0, 64, value.Int(7))
	c = c.WriteValue(r2.ID, 0, 64, value.Int(7))
	c = c.WriteValue(r1.ID, 64, ptrBits, r2Addr)
	c = c.WriteValue(r2.ID, 64, ptrBits, segAddr)
	c = c.WriteValue(head.ID, 0, ptrBits, r1Addr)

	c = Abstract(c, abstractOpts())

	folded := onlySegment(t, c)
	if folded.Kind != smg.KindSLL || folded.MinLength != 2 || folded.NFO != 64 {
		t.Fatalf("fold produced %v, want 2+ sll with nfo 64", folded)
	}

	// The head pointer survived and fronts the new summary.
	e, ok := c.Graph().HVEdgeAt(head.ID, 0, ptrBits)
	require.True(t, ok)
	pt, ok := c.Graph().PointsTo(e.Value)
	require.True(t, ok)
	if pt.Target != folded.ID || pt.Specifier != smg.TSFirst {
		t.Errorf("head pointer = %v, want first pointer into the fold", pt)
	}
	if lvl := c.Graph().ValueLevel(e.Value); lvl != 1 {
		t.Errorf("head pointer nesting level = %d, want 1", lvl)
	}

	// The old segment's address died with the fold; the summary's
	// forward link is the 0+ segment's.
	if _, ok := c.LookupSMGValue(segAddr); ok {
		t.Error("pointer into the folded 0+ segment still mapped")
	}
	next, ok := c.Graph().HVEdgeAt(folded.ID, 64, ptrBits)
	require.True(t, ok)
	require.Equal(t, smg.ZeroValue, next.Value)

	require.NoError(t, c.Graph().CheckConsistency())
	require.True(t, c.CheckBijection())
}

func TestAbstractBelowThresholdKeepsChain(t *testing.T) {
	c, _ := buildList(t, 2, false)
	c = Abstract(c, AbstractionOptions{PtrSizeBits: ptrBits, MinChainLength: 3})
	c.Graph().Objects(func(o smg.Object) bool {
		if o.IsSegment() {
			t.Errorf("chain below the threshold folded into %v", o)
		}
		return true
	})
}

func headPointer(t *testing.T, c SPC) smg.ValueID {
	t.Helper()
	head, ok := c.ObjectForName("head")
	require.True(t, ok)
	e, ok := c.Graph().HVEdgeAt(head.ID, 0, ptrBits)
	require.True(t, ok)
	return e.Value
}

func TestMaterializeLeft(t *testing.T) {
	c, _ := buildList(t, 3, false)
	c = Abstract(c, abstractOpts())
	m := Materializer{PtrSizeBits: ptrBits, MinimalFirst: true}

	rs := m.Materialize(c, headPointer(t, c))
	require.Len(t, rs, 1)
	c = rs[0].SPC

	pt, ok := c.DereferencePointer(rs[0].Ptr)
	require.True(t, ok)
	front, _ := c.Graph().Object(pt.Target)
	if front.IsSegment() {
		t.Fatalf("materialized front %v is a summary", front)
	}
	// front -> 2+ segment
	e, ok := c.Graph().HVEdgeAt(front.ID, 64, ptrBits)
	require.True(t, ok)
	link, ok := c.Graph().PointsTo(e.Value)
	require.True(t, ok)
	rest, _ := c.Graph().Object(link.Target)
	if !rest.IsSegment() || rest.MinLength != 2 {
		t.Errorf("rest of list = %v, want 2+ segment", rest)
	}
	if link.Specifier != smg.TSFirst {
		t.Errorf("link specifier = %v, want first", link.Specifier)
	}
	require.NoError(t, c.Graph().CheckConsistency())
}

func TestMaterializeDLLKeepsBackLinks(t *testing.T) {
	c, _ := buildList(t, 3, true)
	c = Abstract(c, abstractOpts())
	m := Materializer{PtrSizeBits: ptrBits, MinimalFirst: true}

	rs := m.Materialize(c, headPointer(t, c))
	require.Len(t, rs, 1)
	c = rs[0].SPC

	pt, _ := c.DereferencePointer(rs[0].Ptr)
	front, _ := c.Graph().Object(pt.Target)

	// The first element's prev is still the end of list.
	prev, ok := c.Graph().HVEdgeAt(front.ID, 128, ptrBits)
	require.True(t, ok)
	require.Equal(t, smg.ZeroValue, prev.Value)

	// The summary's prev points back to the materialized element.
	e, _ := c.Graph().HVEdgeAt(front.ID, 64, ptrBits)
	link, _ := c.Graph().PointsTo(e.Value)
	rest, _ := c.Graph().Object(link.Target)
	back, ok := c.Graph().HVEdgeAt(rest.ID, 128, ptrBits)
	require.True(t, ok)
	backPt, ok := c.Graph().PointsTo(back.Value)
	require.True(t, ok)
	require.Equal(t, front.ID, backPt.Target)

	require.NoError(t, c.Graph().CheckConsistency())
}

func TestMaterializeZeroPlusSplits(t *testing.T) {
	c, _ := buildList(t, 2, false)
	c = Abstract(c, abstractOpts())
	m := Materializer{PtrSizeBits: ptrBits, MinimalFirst: true}

	// Walk both elements out.
	ptr := headPointer(t, c)
	for i := 0; i < 2; i++ {
		rs := m.Materialize(c, ptr)
		require.Len(t, rs, 1)
		c = rs[0].SPC
		pt, ok := c.DereferencePointer(rs[0].Ptr)
		require.True(t, ok)
		e, ok := c.Graph().HVEdgeAt(pt.Target, 64, ptrBits)
		require.True(t, ok)
		ptr = e.Value
	}
	seg := onlySegment(t, c)
	require.Equal(t, 0, seg.MinLength)

	rs := m.Materialize(c, ptr)
	require.Len(t, rs, 2)

	// Minimal first: the segment is gone and the pointer follows to
	// what came after the list.
	minimal := rs[0]
	minimal.SPC.Graph().Objects(func(o smg.Object) bool {
		if o.IsSegment() {
			t.Errorf("minimal successor still has %v", o)
		}
		return true
	})
	if n, ok := minimal.Ptr.(value.Numeric); !ok || !n.IsZero() {
		t.Errorf("minimal successor pointer = %s, want nil", minimal.Ptr)
	}

	// Extended: one more concrete element backed by a fresh 0+.
	extended := rs[1]
	pt, ok := extended.SPC.DereferencePointer(extended.Ptr)
	require.True(t, ok)
	o, _ := extended.SPC.Graph().Object(pt.Target)
	require.False(t, o.IsSegment())
	eseg := onlySegment(t, extended.SPC)
	require.Equal(t, 0, eseg.MinLength)

	require.NoError(t, minimal.SPC.Graph().CheckConsistency())
	require.NoError(t, extended.SPC.Graph().CheckConsistency())
}

func TestMaterializeOrderFlag(t *testing.T) {
	c, _ := buildList(t, 2, false)
	c = Abstract(c, abstractOpts())
	m := Materializer{PtrSizeBits: ptrBits, MinimalFirst: false}

	ptr := headPointer(t, c)
	for i := 0; i < 2; i++ {
		rs := m.Materialize(c, ptr)
		c = rs[0].SPC
		pt, _ := c.DereferencePointer(rs[0].Ptr)
		e, _ := c.Graph().HVEdgeAt(pt.Target, 64, ptrBits)
		ptr = e.Value
	}
	rs := m.Materialize(c, ptr)
	require.Len(t, rs, 2)
	// Extended comes first when the flag is off.
	pt, ok := rs[0].SPC.DereferencePointer(rs[0].Ptr)
	if !ok || pt.Target == smg.NullObject {
		t.Error("first successor should be the extended state with a live pointer")
	}
}
