// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"fmt"

	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/value"
)

// Free releases the heap memory ptr addresses. Freeing a null pointer
// succeeds silently; every other misuse is recorded as an invalid free
// with its sub-reason. Freeing the head of a structure leaks whatever
// only it kept reachable, which the pruning pass records.
func (s State) Free(ptr value.Value) State {
	s.stats.Frees++

	if n, ok := ptr.(value.Numeric); ok && n.IsZero() {
		return s
	}
	id, mapped := s.spc.LookupSMGValue(ptr)
	if mapped && id == smg.ZeroValue && s.opts.ZeroFreeAlwaysSucceeds {
		return s
	}

	pt, ok := s.spc.DereferencePointer(ptr)
	if !ok {
		return s.withError(MemoryError{
			Kind:    InvalidFree,
			Reason:  FreeUnknownPointer,
			Message: fmt.Sprintf("free of %s", ptr),
		})
	}
	if pt.Target == smg.NullObject {
		return s
	}
	obj, _ := s.spc.Graph().Object(pt.Target)

	if s.spc.IsExternallyAllocated(obj.ID) {
		c := s.spc.SetExternallyAllocated(obj.ID, false)
		c = c.Invalidate(obj.ID)
		return s.derive(c).PruneUnreachable()
	}
	if !s.spc.IsHeapObject(obj.ID) {
		return s.withError(MemoryError{
			Kind:    InvalidFree,
			Reason:  FreeNonHeap,
			Message: fmt.Sprintf("free of %v", obj),
			Objects: []smg.ObjectID{obj.ID},
			Value:   pt.Value,
		})
	}
	if pt.Offset != 0 {
		return s.withError(MemoryError{
			Kind:    InvalidFree,
			Reason:  FreeNonZeroOffset,
			Message: fmt.Sprintf("free of %v at offset %d", obj, pt.Offset),
			Objects: []smg.ObjectID{obj.ID},
			Value:   pt.Value,
		})
	}
	if !s.spc.Graph().IsValid(obj.ID) {
		return s.withError(MemoryError{
			Kind:    InvalidFree,
			Reason:  FreeDouble,
			Message: fmt.Sprintf("free of already freed %v", obj),
			Objects: []smg.ObjectID{obj.ID},
			Value:   pt.Value,
		})
	}

	g := s.spc.Graph()
	for _, e := range g.HVEdges(obj.ID) {
		g = g.RemoveHVEdge(e)
	}
	c := s.spc.WithGraph(g.SetValidity(obj.ID, false))
	return s.derive(c).PruneUnreachable()
}
