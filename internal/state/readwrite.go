// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"fmt"
	"math"
	"math/big"

	"github.com/jcdubois/gosmg/internal/logflags"
	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/value"
)

// ReadAs tells the read algebra how to present the stored bits.
type ReadAs uint8

const (
	// AsBits returns the stored value unchanged.
	AsBits ReadAs = iota
	// AsInt reinterprets stored float bits as an integer.
	AsInt
	// AsFloat reinterprets stored integer bits as an IEEE float of the
	// read size.
	AsFloat
)

// A ReadResult is one successor of a read.
type ReadResult struct {
	State State
	Value value.Value
}

// Read reads [off, off+size) of obj. Several successors arise when the
// range holds a pointer into a summary segment that must be expanded
// first; exactly one otherwise.
func (s State) Read(obj smg.Object, off, size int64, as ReadAs) []ReadResult {
	s.stats.Reads++
	return s.read(obj, off, size, as, true)
}

func (s State) read(obj smg.Object, off, size int64, as ReadAs, mayMaterialize bool) []ReadResult {
	g := s.spc.Graph()
	if !g.IsValid(obj.ID) && !s.spc.IsExternallyAllocated(obj.ID) {
		ns := s.withError(MemoryError{
			Kind:    InvalidRead,
			Message: fmt.Sprintf("read from invalid memory %v", obj),
			Objects: []smg.ObjectID{obj.ID},
		})
		return []ReadResult{{State: ns, Value: value.NewSymbolic()}}
	}
	if obj.Size.Concrete() {
		if off < obj.Offset || off+size > obj.Offset+obj.Size.Bits {
			ns := s.withError(MemoryError{
				Kind:    InvalidRead,
				Message: fmt.Sprintf("read of %d bits at offset %d exceeds %v", size, off, obj),
				Objects: []smg.ObjectID{obj.ID},
			})
			return []ReadResult{{State: ns, Value: value.NewSymbolic()}}
		}
	} else if s.opts.OverapproximateValuesForSymbolicSize {
		return []ReadResult{{State: s, Value: value.NewSymbolic()}}
	}

	edges := s.spc.ReadValue(obj.ID, off, size, s.opts.PreciseSMGRead)
	if len(edges) == 0 {
		return []ReadResult{s.readUninitialized(obj, off, size)}
	}
	if len(edges) > 1 {
		logflags.SMGLogger().Debugf("read %v [%d,%d): %d covering edges, widening to unknown", obj, off, off+size, len(edges))
		return []ReadResult{{State: s, Value: value.NewSymbolic()}}
	}

	e := edges[0]
	if e.CoversExactly(off, size) {
		if mayMaterialize {
			if pt, ok := g.PointsTo(e.Value); ok && pt.Specifier != smg.TSRegion {
				if tgt, ok := g.Object(pt.Target); ok && tgt.IsSegment() {
					var out []ReadResult
					for _, mr := range s.materialize(e.Value) {
						out = append(out, mr.State.read(obj, off, size, as, false)...)
					}
					return out
				}
			}
		}
		ns, v := s.translate(e.Value, size, as)
		return []ReadResult{{State: ns, Value: v}}
	}

	if e.Covers(off, size) && s.opts.PreciseSMGRead {
		ns, v := s.partialRead(e, off, size, as)
		return []ReadResult{{State: ns, Value: v}}
	}
	logflags.SMGLogger().Debugf("read %v [%d,%d): no covering edge, widening to unknown", obj, off, off+size)
	return []ReadResult{{State: s, Value: value.NewSymbolic()}}
}

// readUninitialized yields the value of memory never written. With
// symbolic assignment on, a fresh symbolic value is stored back so the
// location reads stably from then on; with it off, the access is
// flagged.
func (s State) readUninitialized(obj smg.Object, off, size int64) ReadResult {
	v := value.NewSymbolic()
	if s.opts.AssignSymbolicValues {
		return ReadResult{State: s.derive(s.spc.WriteValue(obj.ID, off, size, v)), Value: v}
	}
	ns := s.withError(MemoryError{
		Kind:    UninitializedUse,
		Message: fmt.Sprintf("read of uninitialized memory in %v at offset %d", obj, off),
		Objects: []smg.ObjectID{obj.ID},
	})
	return ReadResult{State: ns, Value: v}
}

// translate maps a graph value to its analysis value, applying the
// requested reinterpretation.
func (s State) translate(id smg.ValueID, size int64, as ReadAs) (State, value.Value) {
	c, v := s.spc.ValueForOrNew(id)
	s = s.derive(c)
	if _, ok := v.(value.Symbolic); ok && s.opts.TreatSymbolicValuesAsUnknown {
		return s, value.NewSymbolic()
	}
	n, ok := v.(value.Numeric)
	if !ok {
		return s, v
	}
	switch as {
	case AsFloat:
		if n.IsInt() {
			return s, reinterpretAsFloat(s, n, size)
		}
	case AsInt:
		if n.IsFloat() {
			return s, value.Big(n.Bits())
		}
	}
	return s, v
}

// reinterpretAsFloat performs the bit-exact integer-to-float cast of a
// union read. Unsupported widths yield unknown.
func reinterpretAsFloat(s State, n value.Numeric, size int64) value.Value {
	bits := truncate(n.BigInt(), size)
	switch size {
	case 32:
		return value.Float(float64(math.Float32frombits(uint32(bits.Uint64()))), 32)
	case 64:
		return value.Float(math.Float64frombits(bits.Uint64()), 64)
	}
	logflags.SMGLogger().Debugf("float reinterpretation of %d bits unsupported", size)
	return value.NewSymbolic()
}

// partialRead extracts size bits at off from a wider covering edge,
// shifting according to the machine byte order.
func (s State) partialRead(e smg.HasValueEdge, off, size int64, as ReadAs) (State, value.Value) {
	s.stats.PartialReads++
	g := s.spc.Graph()
	if g.IsPointer(e.Value) {
		logflags.SMGLogger().Debugf("partial read of pointer %v, widening to unknown", e)
		return s, value.NewSymbolic()
	}
	v, ok := s.spc.ValueFor(e.Value)
	if !ok {
		return s, value.NewSymbolic()
	}
	n, ok := v.(value.Numeric)
	if !ok {
		logflags.SMGLogger().Debugf("partial read of symbolic %s, widening to unknown", v)
		return s, value.NewSymbolic()
	}
	if e.SizeBits > s.model.WordSizeBits {
		logflags.SMGLogger().Debugf("partial read from %d-bit value exceeds the machine word", e.SizeBits)
		return s, value.NewSymbolic()
	}

	var shift int64
	if s.model.LittleEndian {
		shift = off - e.Offset
	} else {
		shift = (e.Offset + e.SizeBits) - (off + size)
	}
	bits := truncate(n.Bits(), e.SizeBits)
	bits.Rsh(bits, uint(shift))
	bits = truncate(bits, size)

	res := value.Big(bits)
	if as == AsFloat {
		return s, reinterpretAsFloat(s, res, size)
	}
	return s, res
}

// truncate returns n reduced to its low size bits, two's complement for
// negative inputs.
func truncate(n *big.Int, size int64) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), uint(size))
	mask.Sub(mask, big.NewInt(1))
	out := new(big.Int).And(new(big.Int).Set(n), mask)
	if n.Sign() < 0 {
		// And on a negative big.Int keeps the sign; fold into the
		// unsigned bit pattern instead.
		out = new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), uint(size)), n)
		out.And(out, mask)
	}
	return out
}

// Write stores v into [off, off+size) of obj after the validity and
// bounds checks. The returned state carries an error and an unchanged
// configuration when a check fails.
func (s State) Write(obj smg.Object, off, size int64, v value.Value) State {
	s.stats.Writes++
	if obj.ID == smg.NullObject {
		return s.withError(MemoryError{
			Kind:    NullDereference,
			Message: "write through null pointer",
		})
	}
	if obj.ConstString {
		return s.withError(MemoryError{
			Kind:    InvalidWrite,
			Message: fmt.Sprintf("write into string literal %v", obj),
			Objects: []smg.ObjectID{obj.ID},
		})
	}
	g := s.spc.Graph()
	if !g.IsValid(obj.ID) && !s.spc.IsExternallyAllocated(obj.ID) {
		return s.withError(MemoryError{
			Kind:    InvalidWrite,
			Message: fmt.Sprintf("write to invalid memory %v", obj),
			Objects: []smg.ObjectID{obj.ID},
		})
	}
	if obj.Size.Concrete() {
		if off < obj.Offset || off+size > obj.Offset+obj.Size.Bits {
			return s.withError(MemoryError{
				Kind:    InvalidWrite,
				Message: fmt.Sprintf("write of %d bits at offset %d exceeds %v", size, off, obj),
				Objects: []smg.ObjectID{obj.ID},
			})
		}
	} else {
		ns, ok := s.checkSymbolicBounds(obj, off, size)
		if !ok {
			return ns
		}
		s = ns
	}

	if ae, ok := v.(value.AddressExpr); ok {
		var resolved value.Value
		s, resolved, ok = s.resolveAddressExpr(ae)
		if !ok {
			return s
		}
		v = resolved
	}
	return s.derive(s.spc.WriteValue(obj.ID, off, size, v))
}

// checkSymbolicBounds validates an access to an object of symbolic size
// through the solver. The second result is false when the write must
// not proceed.
func (s State) checkSymbolicBounds(obj smg.Object, off, size int64) (State, bool) {
	if !s.opts.TrackErrorPredicates {
		return s.withError(MemoryError{
			Kind:    UnknownOffsetAccess,
			Message: fmt.Sprintf("access to %v of symbolic size without predicate tracking", obj),
			Objects: []smg.ObjectID{obj.ID},
		}), false
	}
	sizeVal, ok := s.spc.ValueFor(obj.Size.Sym)
	if !ok {
		sizeVal = value.NewSymbolic()
	}
	res := s.solver.CheckMemoryAccessInBounds(value.Int(off), value.Int(size), sizeVal, s.consts)
	if res == Unsat {
		return s, true
	}
	return s.withError(MemoryError{
		Kind:    InvalidWrite,
		Message: fmt.Sprintf("access to %v may leave its bounds", obj),
		Objects: []smg.ObjectID{obj.ID},
	}), false
}

// WriteWithSymbolicSize handles a write whose size is not concrete.
// With overapproximation enabled, the whole object widens to unknown;
// without it this is a configuration the analysis cannot continue from.
func (s State) WriteWithSymbolicSize(obj smg.Object, v value.Value) State {
	if !s.opts.OverapproximateForSymbolicWrite {
		panic(fmt.Sprintf("state: write with symbolic size into %v while overapproximation is disabled", obj))
	}
	g := s.spc.Graph()
	for _, e := range g.HVEdges(obj.ID) {
		g = g.RemoveHVEdge(e)
	}
	logflags.SMGLogger().Debugf("symbolic-size write widened %v to unknown", obj)
	return s.derive(s.spc.WithGraph(g)).withError(MemoryError{
		Kind:    UnknownOffsetAccess,
		Message: fmt.Sprintf("write with symbolic size widened %v", obj),
		Objects: []smg.ObjectID{obj.ID},
	})
}

// WriteToPointer dereferences ptr and writes through it, one successor
// per shape alternative.
func (s State) WriteToPointer(ptr value.Value, off, size int64, v value.Value) []State {
	var out []State
	for _, dr := range s.DereferencePointer(ptr) {
		if dr.Object.ID == 0 {
			out = append(out, dr.State)
			continue
		}
		out = append(out, dr.State.Write(dr.Object, dr.Offset+off, size, v))
	}
	return out
}

// WritePointerTo makes ptr an address value for (target, off) and
// returns it, deduplicating against existing pointers.
func (s State) WritePointerTo(target smg.Object, off int64) (State, value.Value) {
	c, addr := s.spc.SearchOrCreateAddress(target.ID, off, 0, smg.TSRegion)
	return s.derive(c), addr
}

// resolveAddressExpr turns base+offset into a proper address value. The
// third result is false when the base cannot be resolved; the state
// then carries the error.
func (s State) resolveAddressExpr(ae value.AddressExpr) (State, value.Value, bool) {
	pt, ok := s.spc.DereferencePointer(ae.Base)
	if !ok {
		return s.withError(MemoryError{
			Kind:    UnknownOffsetAccess,
			Message: fmt.Sprintf("address expression over unknown base %s", ae.Base),
		}), nil, false
	}
	if !ae.Offset.IsInt64() {
		return s.withError(MemoryError{
			Kind:    UnknownOffsetAccess,
			Message: "address offset exceeds the machine word",
		}), nil, false
	}
	tgt, _ := s.spc.Graph().Object(pt.Target)
	c, addr := s.spc.SearchOrCreateAddress(tgt.ID, pt.Offset+ae.Offset.Int64(), s.spc.Graph().ValueLevel(pt.Value), pt.Specifier)
	return s.derive(c), addr, true
}

// CopyRange copies size bits between objects, the struct-assignment
// primitive.
func (s State) CopyRange(src, dst smg.Object, srcOff, dstOff, size int64) State {
	return s.derive(s.spc.CopyRange(src.ID, dst.ID, srcOff, dstOff, size))
}
