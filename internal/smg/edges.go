// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smg

import "fmt"

// A HasValueEdge attaches a value to a bit range of an object. Per object
// the ranges of distinct edges never overlap.
type HasValueEdge struct {
	Object   ObjectID
	Offset   int64 // bits from the object's base
	SizeBits int64
	Value    ValueID
}

// Covers reports whether the edge's range contains [off, off+size).
func (e HasValueEdge) Covers(off, size int64) bool {
	return e.Offset <= off && off+size <= e.Offset+e.SizeBits
}

// CoversExactly reports whether the edge's range is exactly [off, off+size).
func (e HasValueEdge) CoversExactly(off, size int64) bool {
	return e.Offset == off && e.SizeBits == size
}

// Overlaps reports whether the edge's range intersects [off, off+size).
func (e HasValueEdge) Overlaps(off, size int64) bool {
	return e.Offset < off+size && off < e.Offset+e.SizeBits
}

func (e HasValueEdge) String() string {
	return fmt.Sprintf("hv(obj#%d, %d, %d) -> v%d", e.Object, e.Offset, e.SizeBits, e.Value)
}

// hveLess orders edges by object, then offset, then size, then value.
// The object-major order lets per-object queries walk a contiguous range.
func hveLess(a, b HasValueEdge) bool {
	if a.Object != b.Object {
		return a.Object < b.Object
	}
	if a.Offset != b.Offset {
		return a.Offset < b.Offset
	}
	if a.SizeBits != b.SizeBits {
		return a.SizeBits < b.SizeBits
	}
	return a.Value < b.Value
}

// A PointsToEdge makes a value a pointer: it records the value's target
// object, the offset within it, and the target specifier. At most one
// edge exists per value.
type PointsToEdge struct {
	Value     ValueID
	Target    ObjectID
	Offset    int64 // bits from the target's base
	Specifier TargetSpecifier
}

func (e PointsToEdge) String() string {
	return fmt.Sprintf("pt(v%d) -> obj#%d+%d %s", e.Value, e.Target, e.Offset, e.Specifier)
}

func pteLess(a, b PointsToEdge) bool { return a.Value < b.Value }

// SpecifierSet is a small set of target specifiers, used when rewriting
// a chosen subset of the pointers toward an object.
type SpecifierSet uint8

// Specs builds a SpecifierSet.
func Specs(ts ...TargetSpecifier) SpecifierSet {
	var s SpecifierSet
	for _, t := range ts {
		s |= 1 << t
	}
	return s
}

// Has reports membership.
func (s SpecifierSet) Has(t TargetSpecifier) bool { return s&(1<<t) != 0 }
