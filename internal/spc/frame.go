// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spc

import "github.com/jcdubois/gosmg/internal/smg"

// A namedObject binds a source-level name to its memory object.
type namedObject struct {
	name string
	obj  smg.ObjectID
}

// A StackFrame is the local scope of one function activation: an ordered
// list of named objects, an optional return slot, and the values passed
// through "...". Frames are immutable; mutators return copies.
type StackFrame struct {
	fn      string
	ret     smg.ObjectID // 0 if the function returns void
	vars    []namedObject
	varargs []smg.ValueID
}

// NewStackFrame returns an empty frame for fn. ret is the return slot
// object, or 0 for void functions.
func NewStackFrame(fn string, ret smg.ObjectID) StackFrame {
	return StackFrame{fn: fn, ret: ret}
}

// Function returns the function declaration this frame belongs to.
func (f StackFrame) Function() string { return f.fn }

// ReturnObject returns the return slot, or 0.
func (f StackFrame) ReturnObject() smg.ObjectID { return f.ret }

// Variable returns the object bound to name.
func (f StackFrame) Variable(name string) (smg.ObjectID, bool) {
	for _, v := range f.vars {
		if v.name == name {
			return v.obj, true
		}
	}
	return 0, false
}

// withVariable returns f with name bound to obj. Insertion order is
// preserved so traversal is deterministic; rebinding keeps the slot.
func (f StackFrame) withVariable(name string, obj smg.ObjectID) StackFrame {
	vars := make([]namedObject, len(f.vars), len(f.vars)+1)
	copy(vars, f.vars)
	for i, v := range vars {
		if v.name == name {
			vars[i].obj = obj
			f.vars = vars
			return f
		}
	}
	f.vars = append(vars, namedObject{name: name, obj: obj})
	return f
}

// withVarArgs returns f with the variable-argument vector set.
func (f StackFrame) withVarArgs(args []smg.ValueID) StackFrame {
	f.varargs = append([]smg.ValueID(nil), args...)
	return f
}

// VarArgs returns the variable-argument values.
func (f StackFrame) VarArgs() []smg.ValueID { return f.varargs }

// ForEachVariable calls fn for each binding in insertion order.
func (f StackFrame) ForEachVariable(fn func(name string, obj smg.ObjectID) bool) {
	for _, v := range f.vars {
		if !fn(v.name, v.obj) {
			return
		}
	}
}

// NumVariables returns the number of named bindings.
func (f StackFrame) NumVariables() int { return len(f.vars) }
