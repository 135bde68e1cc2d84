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
	"fmt"

	"github.com/eapache/queue"
)

// outQueue is the pending output of a connection: a FIFO of chunks held by
// reference, plus the number of bytes of the head chunk already written.
type outQueue struct {
	chunks *queue.Queue
	offset int
	size   int
}

// push appends b. Empty chunks are dropped.
func (q *outQueue) push(b []byte) {
	if len(b) == 0 {
		return
	}
	if q.chunks == nil {
		q.chunks = queue.New()
	}
	q.chunks.Add(b)
	q.size += len(b)
}

// len returns the number of bytes not written yet.
func (q *outQueue) len() int {
	return q.size
}

func (q *outQueue) empty() bool {
	return q.size == 0
}

// peek appends the unwritten bytes to dst, in order, at most max chunks.
func (q *outQueue) peek(dst [][]byte, max int) [][]byte {
	if q.chunks == nil {
		return dst
	}
	n := q.chunks.Length()
	if n > max {
		n = max
	}
	for i := 0; i < n; i++ {
		b := q.chunks.Get(i).([]byte)
		if i == 0 {
			b = b[q.offset:]
		}
		dst = append(dst, b)
	}
	return dst
}

// advance drops n written bytes from the front.
func (q *outQueue) advance(n int) {
	if n > q.size {
		panic(fmt.Sprintf("bug: advance %d bytes over %d pending", n, q.size))
	}
	q.size -= n
	for n > 0 {
		head := q.chunks.Peek().([]byte)
		rest := len(head) - q.offset
		if n < rest {
			q.offset += n
			return
		}
		n -= rest
		q.chunks.Remove()
		q.offset = 0
	}
}

// reset discards everything pending.
func (q *outQueue) reset() {
	q.chunks = nil
	q.offset = 0
	q.size = 0
}
