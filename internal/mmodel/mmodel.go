// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmodel describes the machine the analyzed program runs on:
// pointer width, word width and byte order. Sizes and offsets are
// measured in bits throughout the analysis.
package mmodel

// A Model carries the target machine parameters the analysis needs.
type Model struct {
	PointerSizeBits int64
	WordSizeBits    int64
	LittleEndian    bool
}

// LP64 is the usual 64-bit little-endian model (linux/amd64 and friends).
var LP64 = Model{PointerSizeBits: 64, WordSizeBits: 64, LittleEndian: true}

// ILP32 is a 32-bit little-endian model.
var ILP32 = Model{PointerSizeBits: 32, WordSizeBits: 32, LittleEndian: true}

// BE64 is a 64-bit big-endian model, used in tests for the byte-order
// dependent read paths.
var BE64 = Model{PointerSizeBits: 64, WordSizeBits: 64, LittleEndian: false}
