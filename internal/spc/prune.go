// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spc

import "github.com/jcdubois/gosmg/internal/smg"

// PruneResult describes one pruning sweep. Removed holds the object
// records dropped from the graph; the caller attributes leaks from it
// (a removed object that was a valid heap object leaked).
type PruneResult struct {
	Removed []smg.Object
	// LeakCandidates are the removed objects that were valid heap
	// memory at the time of the sweep.
	LeakCandidates []smg.Object
}

// PruneUnreachable removes every object and value not reachable from the
// roots (globals and all stack bindings). The null object, the zero
// value and whitelisted values survive. Tombstone objects still bound in
// a scope are roots themselves and therefore stay.
func (c SPC) PruneUnreachable() (SPC, PruneResult) {
	reach := c.g.CollectReachable(c.rootObjects())

	var res PruneResult
	g := c.g
	var dropObjs []smg.Object
	g.Objects(func(o smg.Object) bool {
		if o.ID != smg.NullObject && !reach.HasObject(o.ID) {
			dropObjs = append(dropObjs, o)
		}
		return true
	})
	for _, o := range dropObjs {
		valid := g.IsValid(o.ID)
		heap := c.IsHeapObject(o.ID)
		g = g.RemoveObject(o.ID)
		res.Removed = append(res.Removed, o)
		if heap && valid && !c.IsExternallyAllocated(o.ID) {
			res.LeakCandidates = append(res.LeakCandidates, o)
		}
	}

	var dropVals []smg.ValueID
	g.Values(func(id smg.ValueID, _ int) bool {
		if id != smg.ZeroValue && !reach.HasValue(id) && !c.whitelist.Has(valEntry{id: id}) {
			dropVals = append(dropVals, id)
		}
		return true
	})
	vmap := c.vmap
	for _, id := range dropVals {
		g = g.RemoveValue(id)
		vmap = vmap.remove(id)
	}

	if len(dropObjs) > 0 {
		heap := c.heap.Clone()
		external := c.external.Clone()
		for _, o := range dropObjs {
			heap.Delete(objEntry{id: o.ID})
			external.Delete(extEntry{id: o.ID})
		}
		c.heap = heap
		c.external = external
	}
	c.g = g
	c.vmap = vmap
	return c, res
}
