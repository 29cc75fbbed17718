// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package value defines the abstract values the analysis tracks: exact
// numerics, opaque symbolic identifiers, and transient address
// expressions. Values are immutable tokens; identity of symbolic values
// is their id, identity of numerics is their bit content.
package value

import (
	"fmt"
	"math"
	"math/big"
	"sync/atomic"
)

// A Value is one of Numeric, Symbolic or AddressExpr.
type Value interface {
	fmt.Stringer

	// Key returns a stable token identifying the value up to semantic
	// equivalence. Two numerics with the same content share a key.
	Key() string
}

// Numeric is an exact concrete value: either an arbitrary-precision
// integer or an IEEE-754 float of a known width.
type Numeric struct {
	i *big.Int // nil iff float
	f float64
	// Width of the float representation in bits, 32 or 64. Zero for
	// integers.
	fbits int
}

// Int returns a Numeric holding n.
func Int(n int64) Numeric {
	return Numeric{i: big.NewInt(n)}
}

// Big returns a Numeric holding a copy of n.
func Big(n *big.Int) Numeric {
	return Numeric{i: new(big.Int).Set(n)}
}

// Float returns a Numeric holding f with the given representation width.
func Float(f float64, bits int) Numeric {
	if bits != 32 && bits != 64 {
		panic(fmt.Sprintf("value: bad float width %d", bits))
	}
	return Numeric{f: f, fbits: bits}
}

// Zero is the canonical zero value. All zero-valued integer reads and
// null pointers map to it.
var Zero = Int(0)

func (n Numeric) IsInt() bool   { return n.i != nil }
func (n Numeric) IsFloat() bool { return n.i == nil }

// BigInt returns the integer content. Call only when IsInt.
func (n Numeric) BigInt() *big.Int { return n.i }

// FloatValue returns the float content and its width. Call only when IsFloat.
func (n Numeric) FloatValue() (float64, int) { return n.f, n.fbits }

// IsZero reports whether n is integer zero.
func (n Numeric) IsZero() bool { return n.i != nil && n.i.Sign() == 0 }

// Bits returns the raw bit pattern of n as an unsigned integer.
// Integers are returned as-is (two's complement is the caller's concern);
// floats are returned as their IEEE-754 encoding.
func (n Numeric) Bits() *big.Int {
	if n.i != nil {
		return n.i
	}
	if n.fbits == 32 {
		return new(big.Int).SetUint64(uint64(math.Float32bits(float32(n.f))))
	}
	return new(big.Int).SetUint64(math.Float64bits(n.f))
}

func (n Numeric) String() string {
	if n.i != nil {
		return n.i.String()
	}
	return fmt.Sprintf("%g", n.f)
}

func (n Numeric) Key() string {
	if n.i != nil {
		return "i" + n.i.Text(16)
	}
	return fmt.Sprintf("f%d:%x", n.fbits, math.Float64bits(n.f))
}

// Equal reports bit-identical equality. NaN is not equal to NaN.
func (n Numeric) Equal(m Numeric) bool {
	if n.IsInt() != m.IsInt() {
		return false
	}
	if n.IsInt() {
		return n.i.Cmp(m.i) == 0
	}
	return n.fbits == m.fbits && n.f == m.f && !math.IsNaN(n.f)
}

// Symbolic is an opaque unknown value. Distinct ids are unrelated unless
// a constraint says otherwise.
type Symbolic struct {
	ID uint64
}

var symCounter atomic.Uint64

// NewSymbolic mints a fresh symbolic identifier.
func NewSymbolic() Symbolic {
	return Symbolic{ID: symCounter.Add(1)}
}

func (s Symbolic) String() string { return fmt.Sprintf("sym#%d", s.ID) }
func (s Symbolic) Key() string    { return fmt.Sprintf("s%d", s.ID) }

// AddressExpr is a pointer-plus-offset wrapper used only while an address
// computation is in flight. It never enters the value mapping; the
// configuration resolves it to a proper address value first.
type AddressExpr struct {
	Base   Value
	Offset *big.Int // bits
}

func (a AddressExpr) String() string {
	return fmt.Sprintf("&(%s + %s)", a.Base, a.Offset)
}

func (a AddressExpr) Key() string {
	return "a" + a.Base.Key() + "+" + a.Offset.Text(16)
}
