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

package reactor

import (
	"net"
	"sync"

	"github.com/eapache/queue"
)

// adoption hands an accepted descriptor to the loop that will own it.
type adoption struct {
	fd     int
	remote net.Addr
}

// inbox is the only queue written by other goroutines and read by the loop.
// It carries Completion and adoption values.
type inbox struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
}

func newInbox() *inbox {
	return &inbox{q: queue.New()}
}

// push appends m, it returns false once the inbox is closed.
func (b *inbox) push(m any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.q.Add(m)
	return true
}

// pop moves at most max messages to dst and reports whether more remain.
func (b *inbox) pop(dst []any, max int) ([]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < max && b.q.Length() > 0; i++ {
		dst = append(dst, b.q.Remove())
	}
	return dst, b.q.Length() > 0
}

// close rejects further pushes and returns what is left.
func (b *inbox) close() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var rest []any
	for b.q.Length() > 0 {
		rest = append(rest, b.q.Remove())
	}
	return rest
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}
