// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"github.com/jcdubois/gosmg/internal/value"
)

// A Constraint is one path condition the analysis has assumed. The core
// only records constraints and hands them to the solver; it never
// interprets them.
type Constraint struct {
	Op       string // "<", "<=", "==", "!=", ...
	Lhs, Rhs value.Value
}

// Mentions reports whether v occurs in the constraint.
func (c Constraint) Mentions(v value.Value) bool {
	return c.Lhs.Key() == v.Key() || c.Rhs.Key() == v.Key()
}

// SolverResult is the verdict of a bounds query.
type SolverResult uint8

const (
	Unsat SolverResult = iota
	Sat
	Unknown
)

// A Solver answers whether a memory access can leave its object. The
// implementation lives outside the core; queries carry the accumulated
// path constraints in order.
type Solver interface {
	// CheckMemoryAccessInBounds asks whether offset+size can exceed
	// objectSize (or offset be negative) under the constraints. Unsat
	// means the access provably stays in bounds.
	CheckMemoryAccessInBounds(offset, size, objectSize value.Value, constraints []Constraint) SolverResult
}

// UnknownSolver is the placeholder solver: every query is inconclusive.
type UnknownSolver struct{}

func (UnknownSolver) CheckMemoryAccessInBounds(offset, size, objectSize value.Value, constraints []Constraint) SolverResult {
	return Unknown
}
