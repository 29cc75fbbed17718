// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package options holds the analysis options. Options are read-mostly:
// one instance is built at startup, optionally from a YAML file, and
// shared by every state.
package options

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options control the memory analysis.
type Options struct {
	// PreciseSMGRead lets reads answer from a single covering edge via
	// bit extraction instead of falling back to an unknown value.
	PreciseSMGRead bool `yaml:"preciseSMGRead"`
	// MemoryErrorTarget names the error kind the analysis searches for;
	// empty tracks all kinds. It is loaded but no analysis code reads
	// it: every error kind is recorded.
	MemoryErrorTarget string `yaml:"memoryErrorTarget"`
	// HandleNonFreedMemoryInMainAsMemLeak names the policy of reporting
	// heap memory still allocated when main returns as leaked. It is
	// loaded but no analysis code reads it.
	HandleNonFreedMemoryInMainAsMemLeak bool `yaml:"handleNonFreedMemoryInMainAsMemLeak"`
	// TrackErrorPredicates routes symbolic bounds checks through the
	// solver instead of erring out on unknown offsets.
	TrackErrorPredicates bool `yaml:"trackErrorPredicates"`
	// OverapproximateForSymbolicWrite makes a write with symbolic size
	// widen the whole object to unknown; with it off such a write
	// panics.
	OverapproximateForSymbolicWrite bool `yaml:"overapproximateForSymbolicWrite"`
	// OverapproximateValuesForSymbolicSize widens reads from objects of
	// symbolic size.
	OverapproximateValuesForSymbolicSize bool `yaml:"overapproximateValuesForSymbolicSize"`
	// AssignSymbolicValues makes a read of uninitialized memory store
	// the fresh symbolic value it returns, so later reads see the same
	// value; with it off the read is recorded as use of uninitialized
	// memory.
	AssignSymbolicValues bool `yaml:"assignSymbolicValues"`
	// TreatSymbolicValuesAsUnknown makes every read whose stored value
	// is symbolic return a fresh symbolic value instead, so symbolic
	// identities do not carry across reads.
	TreatSymbolicValuesAsUnknown bool `yaml:"treatSymbolicValuesAsUnknown"`
	// AllocateExternalVariables names the policy of modeling
	// declarations without a definition as externally allocated memory.
	// It is loaded but no analysis code reads it.
	AllocateExternalVariables bool `yaml:"allocateExternalVariables"`
	// HandleIncompleteExternalVariableAsExternalAllocation names the same
	// policy for incomplete external arrays. It is loaded but no analysis
	// code reads it.
	HandleIncompleteExternalVariableAsExternalAllocation bool `yaml:"handleIncompleteExternalVariableAsExternalAllocation"`
	// ExternalAllocationSize is the assumed bit size of external
	// allocations.
	ExternalAllocationSize int64 `yaml:"externalAllocationSize"`

	// ListAbstractionMinLength is the chain length required before
	// folding into a summary segment.
	ListAbstractionMinLength int `yaml:"listAbstractionMinLength"`

	// The switches below pin down behaviors the source system leaves
	// path-dependent; see DESIGN.md.

	// MaterializeMinimalFirst emits the segment-removed successor of a
	// zero-length segment before the extended one.
	MaterializeMinimalFirst bool `yaml:"materializeMinimalFirst"`
	// AbstractDifferentHeadOffsets permits folding segments whose head
	// offsets differ.
	AbstractDifferentHeadOffsets bool `yaml:"abstractDifferentHeadOffsets"`
	// ZeroFreeAlwaysSucceeds lets free succeed silently on a value
	// mapped to the zero graph value. Free of a numeric zero pointer
	// succeeds silently whatever this is set to, and only numeric zero
	// maps to the zero graph value, so the switch changes no outcome.
	ZeroFreeAlwaysSucceeds bool `yaml:"zeroFreeAlwaysSucceeds"`
	// SymbolicsEqualWhenUnconstrained lets the state comparison treat
	// two different symbolic values as equal when neither occurs in an
	// active constraint.
	SymbolicsEqualWhenUnconstrained bool `yaml:"symbolicsEqualWhenUnconstrained"`
}

// Default returns the options the analysis ships with.
func Default() *Options {
	return &Options{
		PreciseSMGRead:                      true,
		HandleNonFreedMemoryInMainAsMemLeak: true,
		TrackErrorPredicates:                false,
		AssignSymbolicValues:                true,
		ExternalAllocationSize:              64 * 8,
		ListAbstractionMinLength:            3,
		MaterializeMinimalFirst:             true,
		ZeroFreeAlwaysSucceeds:              true,
	}
}

// Load reads options from a YAML file, starting from the defaults.
func Load(path string) (*Options, error) {
	o := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	if err := yaml.Unmarshal(b, o); err != nil {
		return nil, fmt.Errorf("options: parsing %s: %w", path, err)
	}
	return o, nil
}
