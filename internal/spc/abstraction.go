// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spc

import (
	"github.com/jcdubois/gosmg/internal/smg"
)

// AbstractionOptions tunes list folding.
type AbstractionOptions struct {
	PtrSizeBits int64
	// MinChainLength is the number of list elements (summary lengths
	// counted) a chain needs before it is folded.
	MinChainLength int
	// AllowDifferentHeadOffsets permits merging two segments whose head
	// offsets differ when all non-link fields still match.
	AllowDifferentHeadOffsets bool
}

// A chainCandidate is a foldable run of equal-shaped list nodes.
type chainCandidate struct {
	head       smg.ObjectID
	nfo        int64
	pfo        int64 // -1 for singly linked chains
	headOffset int64
	length     int // total element count, summary lengths included
}

// Abstract folds every sufficiently long chain of equal objects into a
// summary segment and returns the resulting configuration. Chains split
// at the first pair whose non-link fields differ.
func Abstract(c SPC, opts AbstractionOptions) SPC {
	if opts.MinChainLength < 2 {
		opts.MinChainLength = 2
	}
	for {
		cand, ok := findCandidate(c, opts)
		if !ok {
			return c
		}
		c = foldChain(c, cand, opts)
	}
}

// elementCount is the abstraction weight of an object: one for a
// region, the minimum length for a summary.
func elementCount(o smg.Object) int {
	if o.IsSegment() {
		return o.MinLength
	}
	return 1
}

// findCandidate scans for the first chain head with a foldable run of
// at least MinChainLength elements.
func findCandidate(c SPC, opts AbstractionOptions) (chainCandidate, bool) {
	var cand chainCandidate
	found := false
	c.g.Objects(func(o smg.Object) bool {
		if o.ID == smg.NullObject || !c.g.IsValid(o.ID) || !c.IsHeapObject(o.ID) {
			return true
		}
		for _, e := range c.g.HVEdges(o.ID) {
			if e.SizeBits != opts.PtrSizeBits {
				continue
			}
			nfo := e.Offset
			next, ok := linkTarget(c, o, nfo, opts)
			if !ok {
				continue
			}
			pfo := detectBackLink(c, o, next, nfo, opts)
			if o.IsSegment() && ((pfo >= 0) != (o.Kind == smg.KindDLL) || o.NFO != nfo) {
				continue
			}
			if !mergeable(c, o, next, nfo, pfo, opts) {
				continue
			}
			if hasMergeablePredecessor(c, o, nfo, pfo, opts) {
				continue
			}
			// Measure the run.
			length := elementCount(o)
			cur := o
			seen := map[smg.ObjectID]bool{o.ID: true}
			for {
				n, ok := linkTarget(c, cur, nfo, opts)
				if !ok || seen[n.ID] || !mergeable(c, cur, n, nfo, pfo, opts) {
					break
				}
				seen[n.ID] = true
				length += elementCount(n)
				cur = n
			}
			if length >= opts.MinChainLength && len(seen) >= 2 {
				cand = chainCandidate{
					head:       o.ID,
					nfo:        nfo,
					pfo:        pfo,
					headOffset: inboundOffset(c, o.ID),
					length:     length,
				}
				found = true
				return false
			}
		}
		return true
	})
	return cand, found
}

// linkTarget resolves the nfo field of o to a candidate next node.
func linkTarget(c SPC, o smg.Object, nfo int64, opts AbstractionOptions) (smg.Object, bool) {
	e, ok := c.g.HVEdgeAt(o.ID, nfo, opts.PtrSizeBits)
	if !ok {
		return smg.Object{}, false
	}
	pt, ok := c.g.PointsTo(e.Value)
	if !ok || pt.Target == smg.NullObject || pt.Target == o.ID {
		return smg.Object{}, false
	}
	n, ok := c.g.Object(pt.Target)
	if !ok || !c.g.IsValid(n.ID) || !c.IsHeapObject(n.ID) {
		return smg.Object{}, false
	}
	return n, true
}

// detectBackLink returns the offset of next's pointer back to o, or -1.
func detectBackLink(c SPC, o, next smg.Object, nfo int64, opts AbstractionOptions) int64 {
	for _, f := range c.g.HVEdges(next.ID) {
		if f.SizeBits != opts.PtrSizeBits || f.Offset == nfo {
			continue
		}
		if pt, ok := c.g.PointsTo(f.Value); ok && pt.Target == o.ID {
			return f.Offset
		}
	}
	return -1
}

// inboundOffset returns the target offset of the first pointer into o,
// which becomes the segment's head offset.
func inboundOffset(c SPC, o smg.ObjectID) int64 {
	for _, e := range c.g.PointersTowards(o) {
		return e.Offset
	}
	return 0
}

func hasMergeablePredecessor(c SPC, o smg.Object, nfo, pfo int64, opts AbstractionOptions) bool {
	pred := false
	c.g.Objects(func(p smg.Object) bool {
		if p.ID == o.ID || !c.g.IsValid(p.ID) || !c.IsHeapObject(p.ID) {
			return true
		}
		n, ok := linkTarget(c, p, nfo, opts)
		if ok && n.ID == o.ID && mergeable(c, p, o, nfo, pfo, opts) {
			pred = true
			return false
		}
		return true
	})
	return pred
}

// linkRange reports whether [off, off+size) intersects a link field.
func linkRange(off, size, nfo, pfo, ptrBits int64) bool {
	if off < nfo+ptrBits && nfo < off+size {
		return true
	}
	return pfo >= 0 && off < pfo+ptrBits && pfo < off+size
}

// mergeable decides whether the pair (root, next) may fold: next is the
// nfo target of root, both are valid equal-shaped objects, next has no
// inbound pointers besides the chain links, and every non-link field
// compares equal.
func mergeable(c SPC, root, next smg.Object, nfo, pfo int64, opts AbstractionOptions) bool {
	if root.ID == next.ID {
		return false
	}
	if !c.g.IsValid(root.ID) || !c.g.IsValid(next.ID) {
		return false
	}
	if root.Size != next.Size || root.Offset != next.Offset || root.Level != next.Level {
		return false
	}
	wantKind := smg.KindSLL
	if pfo >= 0 {
		wantKind = smg.KindDLL
	}
	for _, o := range []smg.Object{root, next} {
		if o.IsSegment() {
			if o.Kind != wantKind || o.NFO != nfo {
				return false
			}
			if pfo >= 0 && o.PFO != pfo {
				return false
			}
		}
	}
	if root.IsSegment() && next.IsSegment() && !opts.AllowDifferentHeadOffsets &&
		root.HeadOffset != next.HeadOffset {
		return false
	}

	// DLL: next must point back at root.
	if pfo >= 0 {
		e, ok := c.g.HVEdgeAt(next.ID, pfo, opts.PtrSizeBits)
		if !ok {
			return false
		}
		pt, ok := c.g.PointsTo(e.Value)
		if !ok || pt.Target != root.ID {
			return false
		}
	}

	// Only the chain itself may point into next: root's nfo link, and
	// for a DLL the back link of the element after next.
	rootLink, _ := c.g.HVEdgeAt(root.ID, nfo, opts.PtrSizeBits)
	var afterBack smg.ValueID
	if pfo >= 0 {
		if nx, ok := linkTarget(c, next, nfo, opts); ok {
			if e, ok := c.g.HVEdgeAt(nx.ID, pfo, opts.PtrSizeBits); ok {
				afterBack = e.Value
			}
		}
	}
	for _, e := range c.g.PointersTowards(next.ID) {
		if e.Value != rootLink.Value && (pfo < 0 || e.Value != afterBack) {
			return false
		}
	}

	// Field equality outside the link ranges, both directions.
	visited := map[ValuePair]bool{}
	rEdges := map[[2]int64]smg.ValueID{}
	n := 0
	for _, e := range c.g.HVEdges(root.ID) {
		if linkRange(e.Offset, e.SizeBits, nfo, pfo, opts.PtrSizeBits) {
			continue
		}
		rEdges[[2]int64{e.Offset, e.SizeBits}] = e.Value
		n++
	}
	m := 0
	for _, e := range c.g.HVEdges(next.ID) {
		if linkRange(e.Offset, e.SizeBits, nfo, pfo, opts.PtrSizeBits) {
			continue
		}
		m++
		rv, ok := rEdges[[2]int64{e.Offset, e.SizeBits}]
		if !ok {
			return false
		}
		if !ValuesEqual(c, rv, c, e.Value, visited, EqualOptions{}) {
			return false
		}
	}
	return n == m
}

// foldChain folds the candidate run into a single summary segment,
// restarting past the first mismatching pair.
func foldChain(c SPC, cand chainCandidate, opts AbstractionOptions) SPC {
	root, _ := c.g.Object(cand.head)
	seen := map[smg.ObjectID]bool{root.ID: true}
	for {
		next, ok := linkTarget(c, root, cand.nfo, opts)
		if !ok || seen[next.ID] {
			return c
		}
		seen[next.ID] = true
		if !mergeable(c, root, next, cand.nfo, cand.pfo, opts) {
			// Chains split at the first inequality.
			root = next
			continue
		}
		c, root = foldPair(c, root, next, cand, opts)
	}
}

// foldPair merges root and next into one summary segment and returns it
// as the new chain root.
func foldPair(c SPC, root, next smg.Object, cand chainCandidate, opts AbstractionOptions) (SPC, smg.Object) {
	g := c.g
	lenNext := elementCount(next)

	rec := smg.Object{
		Kind:       smg.KindSLL,
		Size:       root.Size,
		Offset:     root.Offset,
		Level:      root.Level,
		HeadOffset: cand.headOffset,
		NFO:        cand.nfo,
		MinLength:  elementCount(root) + lenNext,
	}
	if cand.pfo >= 0 {
		rec.Kind = smg.KindDLL
		rec.PFO = cand.pfo
	}
	g, seg := g.AddObject(rec)

	// The segment's fields come from next: its forward link is the
	// chain's forward link. The back link, for a DLL, is root's.
	for _, e := range c.g.HVEdges(next.ID) {
		if cand.pfo >= 0 && e.Offset == cand.pfo {
			continue
		}
		g = g.AddHVEdge(smg.HasValueEdge{Object: seg.ID, Offset: e.Offset, SizeBits: e.SizeBits, Value: e.Value})
	}
	if cand.pfo >= 0 {
		if e, ok := c.g.HVEdgeAt(root.ID, cand.pfo, opts.PtrSizeBits); ok {
			g = g.AddHVEdge(smg.HasValueEdge{Object: seg.ID, Offset: cand.pfo, SizeBits: opts.PtrSizeBits, Value: e.Value})
		}
	}

	// Unhook root's forward link before rewriting pointers so the fold
	// cannot manufacture a cycle through the dying link value.
	rootLink, _ := c.g.HVEdgeAt(root.ID, cand.nfo, opts.PtrSizeBits)
	g = g.RemoveHVEdge(rootLink)

	// Pointers into next follow it into the segment. The back link of
	// the element after next becomes the segment's last pointer; note
	// that address dedup can make it the same value as root's forward
	// link, in which case it must be retargeted, not dropped.
	var afterBack smg.ValueID
	if cand.pfo >= 0 {
		if nx, ok := linkTarget(c, next, cand.nfo, opts); ok {
			if e, ok := c.g.HVEdgeAt(nx.ID, cand.pfo, opts.PtrSizeBits); ok {
				afterBack = e.Value
			}
		}
	}
	linkUses := g.ValueUses(rootLink.Value)
	for _, e := range g.PointersTowards(next.ID) {
		if e.Value == rootLink.Value && e.Value != afterBack && linkUses == 0 {
			// The forward link's only use was root's next field, which
			// is gone; the value dies with the fold.
			continue
		}
		spec := e.Specifier
		if e.Value == afterBack || spec == smg.TSRegion {
			spec = smg.TSLast
		}
		g = g.SetPointsTo(smg.PointsToEdge{Value: e.Value, Target: seg.ID, Offset: e.Offset, Specifier: spec})
	}

	// Pointers into root land on the segment's front, their nesting
	// deepened by the elements now folded in front of them.
	for _, e := range g.PointersTowards(root.ID) {
		spec := smg.TSFirst
		if root.IsSegment() && e.Specifier != smg.TSFirst {
			spec = smg.TSAll
		}
		g = g.SetPointsTo(smg.PointsToEdge{Value: e.Value, Target: seg.ID, Offset: e.Offset, Specifier: spec})
		g = g.SetValueLevel(e.Value, g.ValueLevel(e.Value)+lenNext)
	}

	var nextBack smg.ValueID
	if cand.pfo >= 0 {
		if e, ok := c.g.HVEdgeAt(next.ID, cand.pfo, opts.PtrSizeBits); ok {
			nextBack = e.Value
		}
	}
	g = g.RemoveObject(root.ID)
	g = g.RemoveObject(next.ID)
	for _, v := range []smg.ValueID{rootLink.Value, nextBack} {
		if v != smg.ZeroValue && g.HasValue(v) && g.ValueUses(v) == 0 {
			g = g.RemoveValue(v)
			c.vmap = c.vmap.remove(v)
		}
	}

	c = c.WithGraph(g)
	c = c.removeFromHeapSet(root.ID)
	c = c.removeFromHeapSet(next.ID)
	c = c.AddObjectToHeap(seg.ID)
	return c, seg
}
