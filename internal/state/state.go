// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package state wraps a symbolic program configuration with the error
// list, path constraints and analysis options, and implements the
// operations the transfer relation needs: allocation, checked reads and
// writes, free, list abstraction, pruning and state comparison. States
// are immutable; every operation returns successors.
package state

import (
	"fmt"
	"sync/atomic"

	"github.com/jcdubois/gosmg/internal/logflags"
	"github.com/jcdubois/gosmg/internal/mmodel"
	"github.com/jcdubois/gosmg/internal/options"
	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/spc"
	"github.com/jcdubois/gosmg/internal/value"
)

var stateIDs atomic.Uint64

// A State is one abstract memory state on one analysis path.
type State struct {
	id     uint64
	spc    spc.SPC
	errs   []MemoryError
	consts []Constraint

	opts   *options.Options
	model  mmodel.Model
	solver Solver
	stats  *Stats
	mat    spc.Materializer
}

// New returns the initial state: empty configuration, no frames, no
// errors.
func New(model mmodel.Model, opts *options.Options, solver Solver, stats *Stats) State {
	if opts == nil {
		opts = options.Default()
	}
	if solver == nil {
		solver = UnknownSolver{}
	}
	if stats == nil {
		stats = &Stats{}
	}
	return State{
		id:     stateIDs.Add(1),
		spc:    spc.Empty(),
		opts:   opts,
		model:  model,
		solver: solver,
		stats:  stats,
		mat: spc.Materializer{
			PtrSizeBits:  model.PointerSizeBits,
			MinimalFirst: opts.MaterializeMinimalFirst,
		},
	}
}

// derive returns a successor of s with a fresh id and the given
// configuration.
func (s State) derive(c spc.SPC) State {
	s.id = stateIDs.Add(1)
	s.spc = c
	return s
}

// SPC returns the underlying configuration.
func (s State) SPC() spc.SPC { return s.spc }

// Options returns the analysis options.
func (s State) Options() *options.Options { return s.opts }

// Model returns the machine model.
func (s State) Model() mmodel.Model { return s.model }

// Stats returns the shared statistics.
func (s State) Stats() *Stats { return s.stats }

// Errors returns the accumulated memory errors.
func (s State) Errors() []MemoryError { return s.errs }

// HasError reports whether an error of kind k was recorded.
func (s State) HasError(k ErrorKind) bool {
	for _, e := range s.errs {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// withError returns a successor carrying one more error.
func (s State) withError(e MemoryError) State {
	s.id = stateIDs.Add(1)
	errs := make([]MemoryError, len(s.errs), len(s.errs)+1)
	copy(errs, s.errs)
	s.errs = append(errs, e)
	logflags.SMGLogger().Debugf("error: %s", e.Error())
	return s
}

// Constraints returns the accumulated path constraints.
func (s State) Constraints() []Constraint { return s.consts }

// AddConstraint records a path condition.
func (s State) AddConstraint(c Constraint) State {
	s.id = stateIDs.Add(1)
	consts := make([]Constraint, len(s.consts), len(s.consts)+1)
	copy(consts, s.consts)
	s.consts = append(consts, c)
	// Addresses an assumption mentions must survive pruning.
	for _, v := range []value.Value{c.Lhs, c.Rhs} {
		if id, ok := s.spc.LookupSMGValue(v); ok && s.spc.Graph().IsPointer(id) {
			s.spc = s.spc.AddToWhitelist(id)
		}
	}
	return s
}

// mentionedInConstraints reports whether v occurs in any constraint.
func (s State) mentionedInConstraints(v value.Value) bool {
	for _, c := range s.consts {
		if c.Mentions(v) {
			return true
		}
	}
	return false
}

// CreateGlobal declares a global of the given bit size and returns the
// new state with its object.
func (s State) CreateGlobal(name string, sizeBits int64) (State, smg.Object) {
	c, o := s.spc.AddGlobal(name, smg.BitsSize(sizeBits))
	return s.derive(c), o
}

// CreateLocal declares a local in the top frame.
func (s State) CreateLocal(name string, sizeBits int64) (State, smg.Object) {
	c, o := s.spc.AddStackObject(name, smg.BitsSize(sizeBits))
	return s.derive(c), o
}

// PushFrame enters a function. returnSizeBits is zero for void.
func (s State) PushFrame(fn string, returnSizeBits int64) State {
	var sz smg.Size
	if returnSizeBits > 0 {
		sz = smg.BitsSize(returnSizeBits)
	}
	return s.derive(s.spc.PushFrame(fn, sz))
}

// DropFrame leaves the current function, invalidating its locals and
// collecting whatever only they kept alive.
func (s State) DropFrame() State {
	s = s.derive(s.spc.DropTopFrame())
	return s.PruneUnreachable()
}

// AllocateHeap allocates size bits on the heap and returns the address
// value of its start.
func (s State) AllocateHeap(sizeBits int64) (State, value.Value) {
	c, o := s.spc.AddHeapObject(smg.BitsSize(sizeBits))
	c, addr := c.SearchOrCreateAddress(o.ID, 0, 0, smg.TSRegion)
	s.stats.HeapAllocations++
	return s.derive(c), addr
}

// AllocateExternal models memory allocated outside the analyzed code.
func (s State) AllocateExternal(name string) (State, value.Value) {
	c, o := s.spc.AddHeapObject(smg.BitsSize(s.opts.ExternalAllocationSize))
	c = c.SetExternallyAllocated(o.ID, true)
	c, addr := c.SearchOrCreateAddress(o.ID, 0, 0, smg.TSRegion)
	logflags.SMGLogger().Debugf("external allocation %q -> %v", name, o)
	return s.derive(c), addr
}

// ObjectForName resolves a variable name in the visible scopes.
func (s State) ObjectForName(name string) (smg.Object, bool) {
	return s.spc.ObjectForName(name)
}

// PruneUnreachable drops everything unreachable from the roots and
// records a leak when valid heap memory is among it.
func (s State) PruneUnreachable() State {
	c, res := s.spc.PruneUnreachable()
	if len(res.Removed) == 0 {
		return s
	}
	s = s.derive(c)
	s.stats.PrunedObjects += int64(len(res.Removed))
	if len(res.LeakCandidates) > 0 {
		ids := make([]smg.ObjectID, len(res.LeakCandidates))
		for i, o := range res.LeakCandidates {
			ids[i] = o.ID
		}
		s.stats.LeakedObjects += int64(len(ids))
		s = s.withError(MemoryError{
			Kind:    MemoryLeak,
			Message: fmt.Sprintf("%d heap object(s) became unreachable", len(ids)),
			Objects: ids,
		})
	}
	return s
}

// Abstract folds repetitive list shapes into summary segments.
func (s State) Abstract() State {
	before := s.spc.Graph().NumObjects()
	c := spc.Abstract(s.spc, spc.AbstractionOptions{
		PtrSizeBits:               s.model.PointerSizeBits,
		MinChainLength:            s.opts.ListAbstractionMinLength,
		AllowDifferentHeadOffsets: s.opts.AbstractDifferentHeadOffsets,
	})
	if after := c.Graph().NumObjects(); after < before {
		s.stats.Folds++
		logflags.ShapeLogger().Debugf("abstraction folded %d objects", before-after)
	}
	return s.derive(c)
}

// DerefResult is one successor of a pointer dereference.
type DerefResult struct {
	State  State
	Object smg.Object
	Offset int64
}

// DereferencePointer resolves ptr to its target, materializing summary
// segments. The result carries one state per shape alternative; a null
// or unknown pointer yields a single error state with a zero Object.
func (s State) DereferencePointer(ptr value.Value) []DerefResult {
	if ae, ok := ptr.(value.AddressExpr); ok {
		return s.dereferenceAddressExpr(ae)
	}
	pt, ok := s.spc.DereferencePointer(ptr)
	if !ok {
		if n, isNum := ptr.(value.Numeric); isNum {
			if n.IsZero() {
				return []DerefResult{{State: s.withError(MemoryError{
					Kind:    NullDereference,
					Message: "dereference of null pointer",
				})}}
			}
			return []DerefResult{{State: s.withError(MemoryError{
				Kind:    UndefinedBehavior,
				Message: fmt.Sprintf("dereference of integer %s", n),
			})}}
		}
		return []DerefResult{{State: s.withError(MemoryError{
			Kind:    InvalidRead,
			Message: fmt.Sprintf("dereference of unknown pointer %s", ptr),
		})}}
	}
	if pt.Target == smg.NullObject {
		return []DerefResult{{State: s.withError(MemoryError{
			Kind:    NullDereference,
			Message: "dereference of null pointer",
			Value:   pt.Value,
		})}}
	}

	obj, _ := s.spc.Graph().Object(pt.Target)
	if !obj.IsSegment() || pt.Specifier == smg.TSRegion {
		return []DerefResult{{State: s, Object: obj, Offset: pt.Offset}}
	}

	// The pointer lands on a summary: expand it first.
	var out []DerefResult
	for _, mr := range s.materialize(pt.Value) {
		ns := mr.State
		npt, ok := ns.spc.DereferencePointer(mr.Ptr)
		if !ok {
			// The segment was empty and nothing followed it.
			out = append(out, DerefResult{State: ns.withError(MemoryError{
				Kind:    NullDereference,
				Message: "dereference past the end of a list",
			})})
			continue
		}
		nobj, _ := ns.spc.Graph().Object(npt.Target)
		if npt.Target == smg.NullObject {
			out = append(out, DerefResult{State: ns.withError(MemoryError{
				Kind:    NullDereference,
				Message: "dereference of null pointer",
				Value:   npt.Value,
			})})
			continue
		}
		out = append(out, DerefResult{State: ns, Object: nobj, Offset: npt.Offset})
	}
	return out
}

// dereferenceAddressExpr resolves a pointer-plus-offset wrapper.
func (s State) dereferenceAddressExpr(ae value.AddressExpr) []DerefResult {
	results := s.DereferencePointer(ae.Base)
	if !ae.Offset.IsInt64() {
		return []DerefResult{{State: s.withError(MemoryError{
			Kind:    UnknownOffsetAccess,
			Message: "address offset exceeds the machine word",
		})}}
	}
	delta := ae.Offset.Int64()
	for i := range results {
		if results[i].Object.ID != 0 {
			results[i].Offset += delta
		}
	}
	return results
}

// matResult pairs a successor state with the value the dereferenced
// pointer denotes in it.
type matResult struct {
	State State
	Ptr   value.Value
}

// materialize expands the segment ptrID points into and lifts the
// configuration successors to states.
func (s State) materialize(ptrID smg.ValueID) []matResult {
	rs := s.mat.Materialize(s.spc, ptrID)
	s.stats.Materializations++
	if len(rs) == 2 {
		s.stats.ZeroPlusSplits++
	}
	out := make([]matResult, len(rs))
	for i, r := range rs {
		out[i] = matResult{State: s.derive(r.SPC), Ptr: r.Ptr}
	}
	return out
}
