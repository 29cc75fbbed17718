// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smg

import "fmt"

// CheckConsistency verifies the structural invariants of the graph:
// every edge endpoint is a known object or value, has-value ranges stay
// inside their (valid, concretely sized) object and never overlap, and
// target specifiers match the kind of their target. It is meant for
// assertions in tests and after shape transformations; the first
// violation found is returned.
func (g Graph) CheckConsistency() error {
	if o, ok := g.Object(NullObject); !ok || o.ID != NullObject {
		return fmt.Errorf("smg: null object missing")
	}
	if g.IsValid(NullObject) {
		return fmt.Errorf("smg: null object is valid")
	}
	if !g.HasValue(ZeroValue) {
		return fmt.Errorf("smg: zero value missing")
	}

	var err error
	g.hve.Ascend(func(e HasValueEdge) bool {
		o, ok := g.Object(e.Object)
		if !ok {
			err = fmt.Errorf("smg: %v references unknown object", e)
			return false
		}
		if !g.HasValue(e.Value) {
			err = fmt.Errorf("smg: %v references unknown value", e)
			return false
		}
		if e.SizeBits <= 0 {
			err = fmt.Errorf("smg: %v has non-positive size", e)
			return false
		}
		if g.IsValid(o.ID) && o.Size.Concrete() {
			if e.Offset < o.Offset || e.Offset+e.SizeBits > o.Offset+o.Size.Bits {
				err = fmt.Errorf("smg: %v outside object bounds [%d,%d)", e, o.Offset, o.Offset+o.Size.Bits)
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	// Per-object overlap check. Edges arrive in offset order.
	var prev HasValueEdge
	havePrev := false
	g.hve.Ascend(func(e HasValueEdge) bool {
		if havePrev && prev.Object == e.Object && prev.Offset+prev.SizeBits > e.Offset {
			err = fmt.Errorf("smg: overlapping edges %v and %v", prev, e)
			return false
		}
		prev, havePrev = e, true
		return true
	})
	if err != nil {
		return err
	}

	g.pte.Ascend(func(e PointsToEdge) bool {
		if !g.HasValue(e.Value) {
			err = fmt.Errorf("smg: %v for unknown value", e)
			return false
		}
		o, ok := g.Object(e.Target)
		if !ok {
			err = fmt.Errorf("smg: %v targets unknown object", e)
			return false
		}
		switch e.Specifier {
		case TSRegion:
			if o.IsSegment() {
				err = fmt.Errorf("smg: %v uses region specifier on a segment", e)
				return false
			}
		case TSFirst, TSLast:
			if !o.IsSegment() {
				err = fmt.Errorf("smg: %v uses %s on a region", e, e.Specifier)
				return false
			}
		case TSAll:
			// Allowed on either.
		}
		if o.IsSegment() && o.MinLength < 0 {
			err = fmt.Errorf("smg: %v targets segment with negative length", e)
			return false
		}
		return true
	})
	return err
}
