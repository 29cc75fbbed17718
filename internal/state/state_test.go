// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcdubois/gosmg/internal/mmodel"
	"github.com/jcdubois/gosmg/internal/options"
	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/value"
)

func newState(t *testing.T) State {
	t.Helper()
	return New(mmodel.LP64, options.Default(), nil, nil)
}

func mustInt(t *testing.T, v value.Value) *big.Int {
	t.Helper()
	n, ok := v.(value.Numeric)
	if !ok || !n.IsInt() {
		t.Fatalf("value %s is not an integer numeric", v)
	}
	return n.BigInt()
}

// S1: write a constant, read it back.
func TestWriteRead(t *testing.T) {
	s := newState(t)
	s, ptr := s.AllocateHeap(64)
	drs := s.DereferencePointer(ptr)
	require.Len(t, drs, 1)
	s, obj := drs[0].State, drs[0].Object

	s = s.Write(obj, 0, 32, value.Int(0xCAFEBABE))
	require.Empty(t, s.Errors())

	rs := s.Read(obj, 0, 32, AsBits)
	require.Len(t, rs, 1)
	if got := mustInt(t, rs[0].Value); got.Int64() != 0xCAFEBABE {
		t.Errorf("read = %#x, want 0xCAFEBABE", got)
	}
}

// S2: little-endian partial read of one byte.
func TestPartialReadLittleEndian(t *testing.T) {
	s := newState(t)
	s, ptr := s.AllocateHeap(64)
	s, obj := derefOne(t, s, ptr)
	s = s.Write(obj, 0, 32, value.Int(0xCAFEBABE))

	rs := s.Read(obj, 8, 8, AsBits)
	require.Len(t, rs, 1)
	if got := mustInt(t, rs[0].Value); got.Int64() != 0xBA {
		t.Errorf("partial read = %#x, want 0xBA", got)
	}
}

func TestPartialReadBigEndian(t *testing.T) {
	s := New(mmodel.BE64, options.Default(), nil, nil)
	s, ptr := s.AllocateHeap(64)
	s, obj := derefOne(t, s, ptr)
	s = s.Write(obj, 0, 32, value.Int(0xCAFEBABE))

	// Big endian: byte 1 from the top end.
	rs := s.Read(obj, 8, 8, AsBits)
	require.Len(t, rs, 1)
	if got := mustInt(t, rs[0].Value); got.Int64() != 0xFE {
		t.Errorf("partial read = %#x, want 0xFE", got)
	}
}

// S3: freeing twice flags a double free and leaves the object invalid.
func TestDoubleFree(t *testing.T) {
	s := newState(t)
	s = s.PushFrame("main", 0)
	s, lv := s.CreateLocal("p", 64)
	s, ptr := s.AllocateHeap(64)
	s = s.Write(lv, 0, 64, ptr)

	s = s.Free(ptr)
	require.Empty(t, s.Errors())

	s = s.Free(ptr)
	require.Len(t, s.Errors(), 1)
	e := s.Errors()[0]
	if e.Kind != InvalidFree || e.Reason != FreeDouble {
		t.Errorf("error = %v, want invalid-free (double free)", e)
	}
	pt, ok := s.SPC().DereferencePointer(ptr)
	require.True(t, ok)
	if s.SPC().Graph().IsValid(pt.Target) {
		t.Error("freed object is valid, want invalid")
	}
}

func TestFreeNullPointer(t *testing.T) {
	s := newState(t)
	s = s.Free(value.Zero)
	require.Empty(t, s.Errors())
}

func TestFreeNonHeap(t *testing.T) {
	s := newState(t)
	s = s.PushFrame("main", 0)
	s, lv := s.CreateLocal("x", 64)
	s, ptr := s.WritePointerTo(lv, 0)
	s = s.Free(ptr)
	require.Len(t, s.Errors(), 1)
	if e := s.Errors()[0]; e.Kind != InvalidFree || e.Reason != FreeNonHeap {
		t.Errorf("error = %v, want invalid-free (non-heap)", e)
	}
}

func TestFreeAtOffset(t *testing.T) {
	s := newState(t)
	s, ptr := s.AllocateHeap(128)
	drs := s.DereferencePointer(ptr)
	s = drs[0].State
	ns, off := s.WritePointerTo(drs[0].Object, 32)
	ns = ns.Free(off)
	require.Len(t, ns.Errors(), 1)
	if e := ns.Errors()[0]; e.Reason != FreeNonZeroOffset {
		t.Errorf("error = %v, want invalid-free (non-zero offset)", e)
	}
}

// S4: dropping the only reference leaks the object.
func TestLeakOnScopeExit(t *testing.T) {
	s := newState(t)
	s = s.PushFrame("main", 0)
	s, lv := s.CreateLocal("p", 64)
	s, ptr := s.AllocateHeap(64)
	s = s.Write(lv, 0, 64, ptr)

	pt, _ := s.SPC().DereferencePointer(ptr)
	leaked := pt.Target

	s = s.derive(s.SPC().RemoveStackVariable("p"))
	// The tombstone still holds the pointer; overwrite it so the heap
	// object is truly unreferenced.
	s = s.derive(s.SPC().WriteValue(lv.ID, 0, 64, value.Zero))
	s = s.PruneUnreachable()

	require.Len(t, s.Errors(), 1)
	e := s.Errors()[0]
	if e.Kind != MemoryLeak {
		t.Fatalf("error = %v, want memory-leak", e)
	}
	require.Equal(t, []smg.ObjectID{leaked}, e.Objects)
}

// buildChain allocates n heap nodes of 128 bits, data 7 at offset 0 and
// the next pointer at offset 64, links them, stores the head pointer in
// local "head", and returns the state with the head address value.
func buildChain(t *testing.T, n int) (State, smg.Object, value.Value) {
	t.Helper()
	s := newState(t)
	s = s.PushFrame("main", 0)
	s, head := s.CreateLocal("head", 64)

	addrs := make([]value.Value, n)
	objs := make([]smg.Object, n)
	for i := 0; i < n; i++ {
		var a value.Value
		s, a = s.AllocateHeap(128)
		addrs[i] = a
		s, objs[i] = derefOne(t, s, a)
	}
	for i := 0; i < n; i++ {
		s = s.Write(objs[i], 0, 64, value.Int(7))
		next := value.Value(value.Zero)
		if i+1 < n {
			next = addrs[i+1]
		}
		s = s.Write(objs[i], 64, 64, next)
	}
	s = s.Write(head, 0, 64, addrs[0])
	require.Empty(t, s.Errors())
	return s, head, addrs[0]
}

func derefOne(t *testing.T, s State, ptr value.Value) (State, smg.Object) {
	t.Helper()
	drs := s.DereferencePointer(ptr)
	require.Len(t, drs, 1)
	require.Empty(t, drs[0].State.Errors())
	return drs[0].State, drs[0].Object
}

func findSegment(s State) (smg.Object, bool) {
	var seg smg.Object
	found := false
	s.SPC().Graph().Objects(func(o smg.Object) bool {
		if o.IsSegment() {
			seg, found = o, true
			return false
		}
		return true
	})
	return seg, found
}

// S5: fold a five-element chain, walk it back out element by element,
// and observe the 0+ split at the end.
func TestAbstractionAndMaterialization(t *testing.T) {
	s, head, _ := buildChain(t, 5)
	s = s.Abstract()

	seg, ok := findSegment(s)
	require.True(t, ok)
	if seg.Kind != smg.KindSLL || seg.MinLength != 5 {
		t.Fatalf("abstraction produced %v, want 5+ sll", seg)
	}
	// The chain collapsed: null + head variable + segment.
	require.Equal(t, 3, s.SPC().Graph().NumObjects())

	// First step: reading the head variable materializes the front.
	rs := s.Read(head, 0, 64, AsBits)
	require.Len(t, rs, 1)
	s = rs[0].State
	cur := rs[0].Value

	// Four more steps, one successor each.
	for i := 0; i < 4; i++ {
		var obj smg.Object
		s, obj = derefOne(t, s, cur)
		if obj.IsSegment() {
			t.Fatalf("step %d: dereference landed on summary %v", i, obj)
		}
		rs = s.Read(obj, 64, 64, AsBits)
		require.Len(t, rs, 1, "step %d", i)
		s = rs[0].State
		cur = rs[0].Value
	}

	// All five elements are out; a zero-length summary remains.
	seg, ok = findSegment(s)
	require.True(t, ok)
	require.Equal(t, 0, seg.MinLength)

	// The sixth step hits the 0+ segment: two successors, minimal
	// first.
	s, obj := derefOne(t, s, cur)
	rs = s.Read(obj, 64, 64, AsBits)
	require.Len(t, rs, 2)

	minimal, extended := rs[0], rs[1]
	if got := mustInt(t, minimal.Value); got.Sign() != 0 {
		t.Errorf("minimal successor next = %s, want nil", minimal.Value)
	}
	if _, ok := findSegment(minimal.State); ok {
		t.Error("minimal successor still holds a summary segment")
	}

	_, extObj := derefOne(t, extended.State, extended.Value)
	if extObj.IsSegment() {
		t.Error("extended successor pointer lands on a summary, want concrete region")
	}
	eseg, ok := findSegment(extended.State)
	require.True(t, ok)
	require.Equal(t, 0, eseg.MinLength)
}

// Property 4: abstraction then full materialization restores the
// original chain shape.
func TestAbstractionMaterializationInverse(t *testing.T) {
	const n = 4
	s, head, _ := buildChain(t, n)
	s = s.Abstract()

	rs := s.Read(head, 0, 64, AsBits)
	require.Len(t, rs, 1)
	s = rs[0].State
	cur := rs[0].Value

	for i := 0; i < n-1; i++ {
		var obj smg.Object
		s, obj = derefOne(t, s, cur)
		// Every node still carries the payload.
		drs := s.Read(obj, 0, 64, AsBits)
		require.Len(t, drs, 1)
		s = drs[0].State
		if got := mustInt(t, drs[0].Value); got.Int64() != 7 {
			t.Errorf("node %d payload = %s, want 7", i, got)
		}
		rs = s.Read(obj, 64, 64, AsBits)
		require.Len(t, rs, 1)
		s = rs[0].State
		cur = rs[0].Value
	}
}

// S6: a longer minimum length is the more concrete state. Per the
// subsumption direction, the 4+ state is covered by the 3+ state.
func TestSubsumptionOfSegments(t *testing.T) {
	a, _, _ := buildChain(t, 3)
	a = a.Abstract()
	b, _, _ := buildChain(t, 4)
	b = b.Abstract()

	segA, ok := findSegment(a)
	require.True(t, ok)
	require.Equal(t, 3, segA.MinLength)
	segB, ok := findSegment(b)
	require.True(t, ok)
	require.Equal(t, 4, segB.MinLength)

	if !b.IsLessOrEqual(a) {
		t.Error("4+ state is not covered by the 3+ state, want covered")
	}
	if a.IsLessOrEqual(b) {
		t.Error("3+ state is covered by the 4+ state, want not covered")
	}
}

// Property 5, reflexive part: a concrete state and its abstraction each
// cover themselves.
func TestSubsumptionReflexive(t *testing.T) {
	s, _, _ := buildChain(t, 3)
	if !s.IsLessOrEqual(s) {
		t.Error("state does not cover itself")
	}
	abstracted := s.Abstract()
	if !abstracted.IsLessOrEqual(abstracted) {
		t.Error("abstracted state does not cover itself")
	}
}

func TestSubsumptionConstraints(t *testing.T) {
	s := newState(t)
	s = s.PushFrame("main", 0)
	c := Constraint{Op: "<", Lhs: value.Int(1), Rhs: value.Int(2)}

	withC := s.AddConstraint(c)
	if !withC.IsLessOrEqual(withC) {
		t.Error("constrained state does not cover itself")
	}
	// The covering state must carry at least the constraints of the
	// covered one.
	if !s.IsLessOrEqual(withC) {
		t.Error("plain state not covered by the constrained state, want covered")
	}
	if withC.IsLessOrEqual(s) {
		t.Error("constrained state covered by the plain state, want not covered")
	}
}

func TestReadAfterWriteRoundTrip(t *testing.T) {
	s := newState(t)
	s, ptr := s.AllocateHeap(256)
	s, obj := derefOne(t, s, ptr)

	for _, tc := range []struct {
		off, size int64
		v         int64
	}{
		{0, 64, 1234567},
		{64, 32, -5},
		{96, 8, 0x7f},
		{128, 64, 0},
	} {
		s = s.Write(obj, tc.off, tc.size, value.Int(tc.v))
		rs := s.Read(obj, tc.off, tc.size, AsBits)
		require.Len(t, rs, 1)
		s = rs[0].State
		if got := mustInt(t, rs[0].Value); got.Int64() != tc.v {
			t.Errorf("read [%d,%d) = %s, want %d", tc.off, tc.off+tc.size, got, tc.v)
		}
	}
}

func TestFloatIntegerReinterpretation(t *testing.T) {
	s := newState(t)
	s, ptr := s.AllocateHeap(64)
	s, obj := derefOne(t, s, ptr)

	// Store the bit pattern of 1.5 as an integer, read it as a float.
	s = s.Write(obj, 0, 64, value.Int(0x3FF8000000000000))
	rs := s.Read(obj, 0, 64, AsFloat)
	require.Len(t, rs, 1)
	n, ok := rs[0].Value.(value.Numeric)
	require.True(t, ok)
	require.True(t, n.IsFloat())
	if f, _ := n.FloatValue(); f != 1.5 {
		t.Errorf("reinterpreted float = %g, want 1.5", f)
	}
}

func TestWriteOutOfBounds(t *testing.T) {
	s := newState(t)
	s, ptr := s.AllocateHeap(64)
	s, obj := derefOne(t, s, ptr)
	s = s.Write(obj, 32, 64, value.Int(1))
	require.Len(t, s.Errors(), 1)
	if e := s.Errors()[0]; e.Kind != InvalidWrite {
		t.Errorf("error = %v, want invalid-write", e)
	}
}

func TestReadFromFreedMemory(t *testing.T) {
	s := newState(t)
	s = s.PushFrame("main", 0)
	s, lv := s.CreateLocal("p", 64)
	s, ptr := s.AllocateHeap(64)
	s = s.Write(lv, 0, 64, ptr)
	pt, _ := s.SPC().DereferencePointer(ptr)
	obj, _ := s.SPC().Graph().Object(pt.Target)

	s = s.Free(ptr)
	rs := s.Read(obj, 0, 32, AsBits)
	require.Len(t, rs, 1)
	if e := rs[0].State.Errors(); len(e) != 1 || e[0].Kind != InvalidRead {
		t.Errorf("errors = %v, want one invalid-read", e)
	}
}

func TestPointerRoundTrip(t *testing.T) {
	s := newState(t)
	s, ptr := s.AllocateHeap(64)
	s, obj := derefOne(t, s, ptr)

	s2, a1 := s.WritePointerTo(obj, 0)
	_, a2 := s2.WritePointerTo(obj, 0)
	if a1.Key() != a2.Key() {
		t.Errorf("repeated address creation returned %s then %s, want identical", a1, a2)
	}
	// The first call already reused the allocation pointer.
	if a1.Key() != ptr.Key() {
		t.Errorf("address %s is not the existing pointer %s", a1, ptr)
	}
}

func TestDropFrameLeaks(t *testing.T) {
	s := newState(t)
	s = s.PushFrame("main", 0)
	s = s.PushFrame("f", 0)
	s, lv := s.CreateLocal("p", 64)
	s, ptr := s.AllocateHeap(64)
	s = s.Write(lv, 0, 64, ptr)

	s = s.DropFrame()
	require.Len(t, s.Errors(), 1)
	if e := s.Errors()[0]; e.Kind != MemoryLeak {
		t.Errorf("error = %v, want memory-leak", e)
	}
}

func TestUninitializedReadIsStable(t *testing.T) {
	s := newState(t)
	s, ptr := s.AllocateHeap(64)
	s, obj := derefOne(t, s, ptr)

	rs := s.Read(obj, 0, 64, AsBits)
	require.Len(t, rs, 1)
	s = rs[0].State
	first := rs[0].Value

	rs = s.Read(obj, 0, 64, AsBits)
	require.Len(t, rs, 1)
	if rs[0].Value.Key() != first.Key() {
		t.Errorf("second read = %s, want the same symbolic %s", rs[0].Value, first)
	}
}

func TestLabel(t *testing.T) {
	s := newState(t)
	s = s.PushFrame("main", 0)
	s, x := s.CreateLocal("x", 64)
	s, y := s.CreateLocal("y", 64)
	s = s.Write(x, 0, 64, value.Int(1))
	s = s.Write(y, 0, 64, value.Int(2))
	require.Equal(t, "[x=1, y=2]", s.Label())
}

func TestDereferenceErrors(t *testing.T) {
	s := newState(t)

	drs := s.DereferencePointer(value.Zero)
	require.Len(t, drs, 1)
	if e := drs[0].State.Errors(); len(e) != 1 || e[0].Kind != NullDereference {
		t.Errorf("deref nil errors = %v, want null-dereference", e)
	}

	drs = s.DereferencePointer(value.Int(0xdeadbeef))
	require.Len(t, drs, 1)
	if e := drs[0].State.Errors(); len(e) != 1 || e[0].Kind != UndefinedBehavior {
		t.Errorf("deref integer errors = %v, want undefined-behavior", e)
	}

	drs = s.DereferencePointer(value.NewSymbolic())
	require.Len(t, drs, 1)
	if e := drs[0].State.Errors(); len(e) != 1 || e[0].Kind != InvalidRead {
		t.Errorf("deref unknown errors = %v, want invalid-read", e)
	}
}

func TestUninitializedReadFlagged(t *testing.T) {
	opts := options.Default()
	opts.AssignSymbolicValues = false
	s := New(mmodel.LP64, opts, nil, nil)
	s, ptr := s.AllocateHeap(64)
	s, obj := derefOne(t, s, ptr)

	rs := s.Read(obj, 0, 64, AsBits)
	require.Len(t, rs, 1)
	if e := rs[0].State.Errors(); len(e) != 1 || e[0].Kind != UninitializedUse {
		t.Errorf("errors = %v, want use-of-uninitialized", e)
	}
}

func TestConcreteAssignments(t *testing.T) {
	s := newState(t)
	s = s.PushFrame("main", 0)
	s, x := s.CreateLocal("x", 64)
	s = s.Write(x, 0, 32, value.Int(9))
	as := s.ConcreteAssignments()
	require.Len(t, as, 1)
	if as[0].Location != "x" || as[0].SizeBits != 32 {
		t.Errorf("assignment = %+v, want x with 32 bits", as[0])
	}
	if got := mustInt(t, as[0].Value); got.Int64() != 9 {
		t.Errorf("assignment value = %s, want 9", got)
	}
}

// symbolicSized builds a heap object whose size is a symbolic
// expression.
func symbolicSized(t *testing.T, s State) (State, smg.Object) {
	t.Helper()
	c, szv := s.SPC().SMGValueFor(value.NewSymbolic())
	g, o := c.Graph().AddObject(smg.Region(smg.SymSize(szv)))
	c = c.WithGraph(g)
	c = c.AddObjectToHeap(o.ID)
	return s.derive(c), o
}

func TestSymbolicSizeWriteWithoutPredicates(t *testing.T) {
	s := newState(t)
	s, o := symbolicSized(t, s)
	s = s.Write(o, 0, 32, value.Int(1))
	require.Len(t, s.Errors(), 1)
	if e := s.Errors()[0]; e.Kind != UnknownOffsetAccess {
		t.Errorf("error = %v, want unknown-offset-access", e)
	}
}

func TestSymbolicSizeWriteWithSolver(t *testing.T) {
	opts := options.Default()
	opts.TrackErrorPredicates = true
	s := New(mmodel.LP64, opts, inBoundsSolver{}, nil)
	s, o := symbolicSized(t, s)
	s = s.Write(o, 0, 32, value.Int(1))
	require.Empty(t, s.Errors())
	rs := s.Read(o, 0, 32, AsBits)
	require.Len(t, rs, 1)
	if got := mustInt(t, rs[0].Value); got.Int64() != 1 {
		t.Errorf("read = %s, want 1", got)
	}
}

// inBoundsSolver proves every access in bounds.
type inBoundsSolver struct{}

func (inBoundsSolver) CheckMemoryAccessInBounds(offset, size, objectSize value.Value, constraints []Constraint) SolverResult {
	return Unsat
}

func TestWriteWithSymbolicSizeValue(t *testing.T) {
	s := newState(t)
	s, ptr := s.AllocateHeap(64)
	s, obj := derefOne(t, s, ptr)

	require.Panics(t, func() { s.WriteWithSymbolicSize(obj, value.Int(1)) })

	opts := options.Default()
	opts.OverapproximateForSymbolicWrite = true
	s2 := New(mmodel.LP64, opts, nil, nil)
	s2, ptr2 := s2.AllocateHeap(64)
	s2, obj2 := derefOne(t, s2, ptr2)
	s2 = s2.Write(obj2, 0, 64, value.Int(5))
	s2 = s2.WriteWithSymbolicSize(obj2, value.Int(1))
	if len(s2.SPC().Graph().HVEdges(obj2.ID)) != 0 {
		t.Error("symbolic-size write did not widen the object")
	}
	require.Len(t, s2.Errors(), 1)
}

func TestBijectionMaintained(t *testing.T) {
	s, _, _ := buildChain(t, 4)
	require.True(t, s.SPC().CheckBijection())
	s = s.Abstract()
	require.True(t, s.SPC().CheckBijection())
	require.NoError(t, s.SPC().Graph().CheckConsistency())
}
