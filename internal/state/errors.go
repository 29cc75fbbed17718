// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"fmt"
	"strings"

	"github.com/jcdubois/gosmg/internal/smg"
)

// ErrorKind classifies a memory error.
type ErrorKind uint8

const (
	InvalidRead ErrorKind = iota
	InvalidWrite
	InvalidFree
	MemoryLeak
	NullDereference
	UninitializedUse
	UndefinedBehavior
	UnknownOffsetAccess
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidRead:
		return "invalid-read"
	case InvalidWrite:
		return "invalid-write"
	case InvalidFree:
		return "invalid-free"
	case MemoryLeak:
		return "memory-leak"
	case NullDereference:
		return "null-dereference"
	case UninitializedUse:
		return "use-of-uninitialized"
	case UndefinedBehavior:
		return "undefined-behavior"
	case UnknownOffsetAccess:
		return "unknown-offset-access"
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// FreeReason refines an invalid free.
type FreeReason uint8

const (
	FreeNone FreeReason = iota
	FreeDouble
	FreeNonHeap
	FreeNonZeroOffset
	FreeUnknownPointer
)

func (r FreeReason) String() string {
	switch r {
	case FreeDouble:
		return "double free"
	case FreeNonHeap:
		return "free of non-heap memory"
	case FreeNonZeroOffset:
		return "free at non-zero offset"
	case FreeUnknownPointer:
		return "free of unknown pointer"
	}
	return ""
}

// A MemoryError is one property violation found on a path. Errors are
// data: they accumulate on the state and never unwind the stack.
type MemoryError struct {
	Kind    ErrorKind
	Reason  FreeReason
	Message string
	// Objects are the offending object ids, e.g. the leaked set.
	Objects []smg.ObjectID
	// Value is the offending graph value, if one exists.
	Value smg.ValueID
}

func (e MemoryError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != FreeNone {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Objects) > 0 {
		fmt.Fprintf(&b, " %v", e.Objects)
	}
	return b.String()
}

// Covers reports whether e subsumes other: same kind, same free reason
// and the same offending objects in the same order.
func (e MemoryError) Covers(other MemoryError) bool {
	if e.Kind != other.Kind || e.Reason != other.Reason {
		return false
	}
	if len(e.Objects) != len(other.Objects) {
		return false
	}
	for i, o := range e.Objects {
		if other.Objects[i] != o {
			return false
		}
	}
	return true
}
