// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spc

import (
	"github.com/google/btree"

	"github.com/jcdubois/gosmg/internal/smg"
	"github.com/jcdubois/gosmg/internal/value"
)

// valueMap is the bijection between analysis values and graph values.
// Forward lookup is keyed by the value's semantic-equivalence key, so two
// numerics with equal content collapse onto one graph value. The map is
// persistent: both directions are copy-on-write B-trees.
type valueMap struct {
	fwd *btree.BTreeG[fwdEntry] // Key() -> ValueID
	rev *btree.BTreeG[revEntry] // ValueID -> Value
}

type fwdEntry struct {
	key string
	val value.Value
	id  smg.ValueID
}

type revEntry struct {
	id  smg.ValueID
	val value.Value
}

// newValueMap returns a map pre-seeded with zero <-> ZeroValue.
func newValueMap() valueMap {
	m := valueMap{
		fwd: btree.NewG(8, func(a, b fwdEntry) bool { return a.key < b.key }),
		rev: btree.NewG(8, func(a, b revEntry) bool { return a.id < b.id }),
	}
	m.fwd.ReplaceOrInsert(fwdEntry{key: value.Zero.Key(), val: value.Zero, id: smg.ZeroValue})
	m.rev.ReplaceOrInsert(revEntry{id: smg.ZeroValue, val: value.Zero})
	return m
}

// lookup returns the graph value mapped to v.
func (m valueMap) lookup(v value.Value) (smg.ValueID, bool) {
	e, ok := m.fwd.Get(fwdEntry{key: v.Key()})
	return e.id, ok
}

// reverse returns the analysis value mapped to id.
func (m valueMap) reverse(id smg.ValueID) (value.Value, bool) {
	e, ok := m.rev.Get(revEntry{id: id})
	return e.val, ok
}

// insert adds the pair (v, id) to both directions. Mapping an already
// mapped value or graph value to a different partner breaks the
// bijection and panics.
func (m valueMap) insert(v value.Value, id smg.ValueID) valueMap {
	if old, ok := m.fwd.Get(fwdEntry{key: v.Key()}); ok && old.id != id {
		panic("spc: value already mapped to a different graph value")
	}
	if old, ok := m.rev.Get(revEntry{id: id}); ok && old.val.Key() != v.Key() {
		panic("spc: graph value already mapped to a different value")
	}
	m.fwd = m.fwd.Clone()
	m.fwd.ReplaceOrInsert(fwdEntry{key: v.Key(), val: v, id: id})
	m.rev = m.rev.Clone()
	m.rev.ReplaceOrInsert(revEntry{id: id, val: v})
	return m
}

// remove drops the pair for id, if present.
func (m valueMap) remove(id smg.ValueID) valueMap {
	e, ok := m.rev.Get(revEntry{id: id})
	if !ok {
		return m
	}
	m.fwd = m.fwd.Clone()
	m.fwd.Delete(fwdEntry{key: e.val.Key()})
	m.rev = m.rev.Clone()
	m.rev.Delete(revEntry{id: id})
	return m
}

// checkBijection verifies both directions agree pairwise.
func (m valueMap) checkBijection() bool {
	ok := true
	m.fwd.Ascend(func(e fwdEntry) bool {
		r, found := m.rev.Get(revEntry{id: e.id})
		if !found || r.val.Key() != e.key {
			ok = false
			return false
		}
		return true
	})
	if !ok {
		return false
	}
	m.rev.Ascend(func(e revEntry) bool {
		f, found := m.fwd.Get(fwdEntry{key: e.val.Key()})
		if !found || f.id != e.id {
			ok = false
			return false
		}
		return true
	})
	return ok
}

func (m valueMap) len() int { return m.rev.Len() }
