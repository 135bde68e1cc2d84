//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package mcache caches byte slices in power of two size classes.
package mcache

import (
	"math/bits"
	"sync"
)

const (
	// minShift is the smallest class, 2**minShift bytes.
	minShift = 6
	// maxShift is the largest class, 2**maxShift bytes (16 MiB).
	maxShift = 24
)

// classes[i] stores slices with capacity 2**(i+minShift).
var classes [maxShift - minShift + 1]sync.Pool

func init() {
	for i := range classes {
		size := 1 << (i + minShift)
		classes[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
}

// Malloc returns a slice of length size. Its capacity is size rounded up to
// the next class. Recycle it with Free.
func Malloc(size int) []byte {
	if size < 0 {
		panic("mcache: negative size")
	}
	idx := classIndex(size)
	if idx >= len(classes) {
		return make([]byte, size)
	}
	b := *(classes[idx].Get().(*[]byte))
	return b[:size]
}

// Free recycles a slice returned by Malloc. Slices whose capacity is not a
// class size are dropped.
func Free(b []byte) {
	c := cap(b)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	idx := classIndex(c)
	if idx >= len(classes) {
		return
	}
	b = b[:c]
	classes[idx].Put(&b)
}

// ClassSize returns the capacity Malloc(size) yields, or size itself when it
// exceeds the largest class.
func ClassSize(size int) int {
	idx := classIndex(size)
	if idx >= len(classes) {
		return size
	}
	return 1 << (idx + minShift)
}

func classIndex(size int) int {
	if size <= 1<<minShift {
		return 0
	}
	return bits.Len(uint(size-1)) - minShift
}
