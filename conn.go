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
	"time"

	"github.com/pkg/errors"
	"trpc.group/trpc-go/reactor/demux"
	"trpc.group/trpc-go/reactor/internal/mcache"
	"trpc.group/trpc-go/reactor/log"
	"trpc.group/trpc-go/reactor/metrics"
)

type connState int

const (
	connOpen connState = iota
	connClosing
	connClosed
)

func (s connState) String() string {
	switch s {
	case connOpen:
		return "OPEN"
	case connClosing:
		return "CLOSING"
	default:
		return "CLOSED"
	}
}

// connHandler is the state of one accepted connection. It is only touched
// by the goroutine of the loop that registered it.
type connHandler struct {
	id       uint64
	loop     *EventLoop
	sock     socket
	remote   net.Addr
	born     uint64
	state    connState
	interest demux.Interest

	rbuf []byte
	out  outQueue
	iov  [][]byte

	// nextSeq numbers submitted tasks, applySeq is the next completion to
	// apply. Completions arriving early wait in reorder.
	nextSeq  uint64
	applySeq uint64
	inflight int
	reorder  map[uint64]Completion
	// inSizes holds the input sizes of the tasks in flight, in order.
	inSizes []int
	inBytes int

	lastActive time.Time
}

func (c *connHandler) cycle() uint64 {
	return c.born
}

// onReady implements handler.
func (c *connHandler) onReady(ev demux.Event) error {
	if ev.Hangup {
		return ErrPeerHangup
	}
	if ev.Ready&demux.Writable != 0 {
		if err := c.flush(); err != nil {
			return err
		}
	}
	if ev.Ready&demux.Readable != 0 && c.state == connOpen {
		if err := c.handleRead(); err != nil {
			return err
		}
		// Inline output goes out without waiting for the next cycle.
		if err := c.flush(); err != nil {
			return err
		}
	}
	return c.settle()
}

func (c *connHandler) handleRead() error {
	n, st, err := c.sock.read(c.rbuf)
	switch {
	case err != nil:
		return errors.Wrap(err, "read")
	case st == ioWouldBlock:
		return nil
	case st == ioEOF:
		c.state = connClosing
		return nil
	}
	c.touch()
	c.loop.opts.observer.OnRead(c.id, n)
	in := make([]byte, n)
	copy(in, c.rbuf[:n])
	return c.process(in)
}

// process runs the Processor on in, inline or on the worker pool.
func (c *connHandler) process(in []byte) error {
	if c.loop.opts.mode == Inline {
		res := runTask(Task{ConnID: c.id, Processor: c.loop.proc, Input: in})
		if res.Err != nil {
			return res.Err
		}
		return c.enqueue(res.Output)
	}
	err := c.loop.pool.Submit(Task{
		ConnID:    c.id,
		Seq:       c.nextSeq,
		Input:     in,
		Processor: c.loop.proc,
		Sink:      c.loop,
	})
	if err != nil {
		return errors.Wrapf(err, "submit task of conn %d", c.id)
	}
	c.nextSeq++
	c.inflight++
	c.inSizes = append(c.inSizes, len(in))
	c.inBytes += len(in)
	return nil
}

// complete applies a completion of this connection in submission order.
func (c *connHandler) complete(comp Completion) error {
	if comp.Seq != c.applySeq {
		if c.reorder == nil {
			c.reorder = make(map[uint64]Completion)
		}
		c.reorder[comp.Seq] = comp
		return nil
	}
	c.touch()
	for {
		c.applySeq++
		c.inflight--
		c.inBytes -= c.inSizes[0]
		c.inSizes = c.inSizes[1:]
		metrics.Add(metrics.CompletionsApplied, 1)
		if comp.Err != nil {
			return errors.Wrap(comp.Err, "process")
		}
		if err := c.enqueue(comp.Output); err != nil {
			return err
		}
		next, ok := c.reorder[c.applySeq]
		if !ok {
			break
		}
		delete(c.reorder, c.applySeq)
		comp = next
	}
	if err := c.flush(); err != nil {
		return err
	}
	return c.settle()
}

func (c *connHandler) enqueue(b []byte) error {
	c.out.push(b)
	if c.out.len() > c.loop.opts.maxPendingOutput {
		return ErrOutputLimit
	}
	return nil
}

// flush writes pending output until it is empty or the socket would block.
func (c *connHandler) flush() error {
	for !c.out.empty() {
		c.iov = c.out.peek(c.iov[:0], maxIovecs)
		want := 0
		for _, b := range c.iov {
			want += len(b)
		}
		n, st, err := c.sock.writev(c.iov)
		for i := range c.iov {
			c.iov[i] = nil
		}
		if err != nil {
			return errors.Wrap(err, "write")
		}
		if n > 0 {
			c.out.advance(n)
			c.touch()
			c.loop.opts.observer.OnWrite(c.id, n)
		}
		if st == ioWouldBlock || n < want {
			metrics.Add(metrics.WriteBlocks, 1)
			break
		}
	}
	if c.out.empty() {
		c.out.reset()
	}
	return nil
}

// settle finishes a draining close and brings the registered interest in
// line with the connection state.
func (c *connHandler) settle() error {
	if c.state == connClosing && c.out.empty() && c.inflight == 0 {
		c.close(nil)
		return nil
	}
	return c.updateInterest()
}

// wantInterest derives the interest set from the state: readable while open
// and not paused by pending bytes, writable iff output is pending. Input
// still being processed counts as pending.
func (c *connHandler) wantInterest() demux.Interest {
	want := demux.None
	hw := c.loop.opts.readHighWatermark
	if c.state == connOpen && (hw <= 0 || c.out.len()+c.inBytes < hw) {
		want |= demux.Readable
	}
	if !c.out.empty() {
		want |= demux.Writable
	}
	return want
}

func (c *connHandler) updateInterest() error {
	if c.state == connClosed {
		return nil
	}
	want := c.wantInterest()
	if want == c.interest {
		return nil
	}
	if err := c.loop.demux.Modify(c.sock.fd(), want); err != nil {
		return err
	}
	if c.state == connOpen && c.interest&demux.Readable != 0 && want&demux.Readable == 0 {
		metrics.Add(metrics.ReadPaused, 1)
	}
	c.interest = want
	return nil
}

// shutdown stops reading and lets pending output drain.
func (c *connHandler) shutdown() {
	if c.state != connOpen {
		return
	}
	c.state = connClosing
	if err := c.settle(); err != nil {
		c.close(err)
	}
}

func (c *connHandler) touch() {
	c.lastActive = c.loop.now
}

// close implements handler.
func (c *connHandler) close(err error) {
	if c.state == connClosed {
		return
	}
	c.state = connClosed
	fd := c.sock.fd()
	if derr := c.loop.demux.Deregister(fd); derr != nil && !errors.Is(derr, demux.ErrNotRegistered) {
		log.Debugf("deregister conn %d fd %d: %v", c.id, fd, derr)
	}
	c.loop.unregister(fd)
	if cerr := c.sock.close(); cerr != nil {
		log.Debugf("close conn %d fd %d: %v", c.id, fd, cerr)
	}
	c.out.reset()
	c.reorder = nil
	c.inSizes = nil
	if c.rbuf != nil {
		mcache.Free(c.rbuf)
		c.rbuf = nil
	}
	metrics.Add(metrics.ConnsClose, 1)
	if err != nil {
		log.Debugf("conn %d (%v) closed: %v", c.id, c.remote, err)
	}
	c.loop.opts.observer.OnConnClosed(c.id, err)
}
