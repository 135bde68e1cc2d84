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
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/reactor/demux"
)

// fakeDemux records interests, Wait is driven by the tests through cycle.
type fakeDemux struct {
	interests map[int]demux.Interest
	wakeups   int
	closed    bool
	mu        sync.Mutex

	// waitErrs scripts the results of Wait when the loop runs on its own
	// goroutine, nil is a wait without events. Once exhausted Wait fails.
	waitErrs []error
	waits    int
}

func newFakeDemux() *fakeDemux {
	return &fakeDemux{interests: make(map[int]demux.Interest)}
}

func (d *fakeDemux) Register(fd int, interest demux.Interest) error {
	if _, ok := d.interests[fd]; ok {
		return demux.ErrDuplicate
	}
	d.interests[fd] = interest
	return nil
}

func (d *fakeDemux) Modify(fd int, interest demux.Interest) error {
	if _, ok := d.interests[fd]; !ok {
		return demux.ErrNotRegistered
	}
	d.interests[fd] = interest
	return nil
}

func (d *fakeDemux) Deregister(fd int) error {
	if _, ok := d.interests[fd]; !ok {
		return demux.ErrNotRegistered
	}
	delete(d.interests, fd)
	return nil
}

func (d *fakeDemux) Wait(time.Duration, []demux.Event) (int, error) {
	d.waits++
	if len(d.waitErrs) == 0 {
		return 0, errors.New("fake demux is driven by cycle")
	}
	err := d.waitErrs[0]
	d.waitErrs = d.waitErrs[1:]
	return 0, err
}

func (d *fakeDemux) Wakeup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wakeups++
	return nil
}

func (d *fakeDemux) Close() error {
	d.closed = true
	return nil
}

type readResult struct {
	data  []byte
	eof   bool
	err   error
	panic bool
}

// fakeSocket replays scripted reads and accepts writes up to scripted limits.
type fakeSocket struct {
	sysfd int
	reads []readResult
	// writeLimits caps successive writev calls, 0 means the call would
	// block. Once exhausted writes are unlimited.
	writeLimits []int
	written     bytes.Buffer
	writeCalls  int
	closed      bool
}

func (s *fakeSocket) fd() int {
	return s.sysfd
}

func (s *fakeSocket) read(b []byte) (int, ioStatus, error) {
	if len(s.reads) == 0 {
		return 0, ioWouldBlock, nil
	}
	r := s.reads[0]
	s.reads = s.reads[1:]
	switch {
	case r.panic:
		panic("fake socket read panic")
	case r.err != nil:
		return 0, ioDone, r.err
	case r.eof:
		return 0, ioEOF, nil
	}
	return copy(b, r.data), ioDone, nil
}

func (s *fakeSocket) writev(bs [][]byte) (int, ioStatus, error) {
	s.writeCalls++
	limit := -1
	if len(s.writeLimits) > 0 {
		limit = s.writeLimits[0]
		s.writeLimits = s.writeLimits[1:]
	}
	if limit == 0 {
		return 0, ioWouldBlock, nil
	}
	n := 0
	for _, b := range bs {
		if limit >= 0 && n+len(b) > limit {
			b = b[:limit-n]
		}
		s.written.Write(b)
		n += len(b)
		if limit >= 0 && n == limit {
			break
		}
	}
	return n, ioDone, nil
}

func (s *fakeSocket) close() error {
	s.closed = true
	return nil
}

// recorder is an Observer remembering why connections closed.
type recorder struct {
	NopObserver
	opened []uint64
	closed map[uint64]error
}

func newRecorder() *recorder {
	return &recorder{closed: make(map[uint64]error)}
}

func (r *recorder) OnConnOpened(id uint64) {
	r.opened = append(r.opened, id)
}

func (r *recorder) OnConnClosed(id uint64, err error) {
	r.closed[id] = err
}

// withDemux makes the loop use d instead of the platform demultiplexer.
func withDemux(d demux.Demultiplexer) Option {
	return Option{func(op *options) {
		op.newDemux = func() (demux.Demultiplexer, error) { return d, nil }
	}}
}

func newTestLoop(t *testing.T, p Processor, opts ...Option) (*EventLoop, *fakeDemux) {
	t.Helper()
	d := newFakeDemux()
	l, err := NewEventLoop(nil, p, append([]Option{withDemux(d)}, opts...)...)
	require.Nil(t, err)
	l.now = time.Now()
	t.Cleanup(func() {
		if l.ownPool {
			l.pool.Close()
		}
	})
	return l, d
}

// addFake registers a fake socket and returns its handler.
func addFake(t *testing.T, l *EventLoop, s *fakeSocket) *connHandler {
	t.Helper()
	l.addConn(s, nil)
	c, ok := l.reg.get(s.sysfd).(*connHandler)
	require.True(t, ok)
	return c
}

// fire runs one loop cycle with the given events.
func fire(l *EventLoop, events ...demux.Event) {
	n := copy(l.events, events)
	l.cycle(n)
}

func readable(fd int) demux.Event {
	return demux.Event{FD: fd, Ready: demux.Readable}
}

func writable(fd int) demux.Event {
	return demux.Event{FD: fd, Ready: demux.Writable}
}
