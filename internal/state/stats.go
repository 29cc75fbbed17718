// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"fmt"
	"strings"
)

// Stats counts what the analysis did. One instance is shared by every
// state of a run and bumped with plain adds; the analyzer is
// single-threaded.
type Stats struct {
	Reads            int64
	PartialReads     int64
	Writes           int64
	HeapAllocations  int64
	Frees            int64
	Folds            int64
	Materializations int64
	ZeroPlusSplits   int64
	PrunedObjects    int64
	LeakedObjects    int64
	Comparisons      int64
}

func (s *Stats) String() string {
	var b strings.Builder
	for _, row := range []struct {
		name string
		n    int64
	}{
		{"reads", s.Reads},
		{"partial reads", s.PartialReads},
		{"writes", s.Writes},
		{"heap allocations", s.HeapAllocations},
		{"frees", s.Frees},
		{"list folds", s.Folds},
		{"materializations", s.Materializations},
		{"0+ splits", s.ZeroPlusSplits},
		{"pruned objects", s.PrunedObjects},
		{"leaked objects", s.LeakedObjects},
		{"state comparisons", s.Comparisons},
	} {
		fmt.Fprintf(&b, "%-18s %d\n", row.name, row.n)
	}
	return b.String()
}
