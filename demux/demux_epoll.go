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

//go:build linux
// +build linux

package demux

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/reactor/metrics"
)

const (
	rflags = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLPRI
	aflags = unix.EPOLLIN
	wflags = unix.EPOLLOUT
)

// wakeupValue is the eventfd increment, any non-zero value makes it readable.
var wakeupValue = []byte{1, 0, 0, 0, 0, 0, 0, 0}

type epoll struct {
	fd        int
	wakeFD    int
	rbuf      []byte
	raw       []unix.EpollEvent
	interests map[int]Interest
	notified  atomic.Bool

	// mu protects closed, so that Wakeup never writes to a descriptor
	// number that has been recycled after Close.
	mu     sync.RWMutex
	closed bool
}

func newDemux() (Demultiplexer, error) {
	// Provide EPOLL_CLOEXEC flag for consistency with Go runtime.
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	ep := &epoll{
		fd:        fd,
		wakeFD:    wakeFD,
		rbuf:      make([]byte, 8),
		interests: make(map[int]Interest),
	}
	if err := ep.ctl(unix.EPOLL_CTL_ADD, wakeFD, unix.EPOLLIN); err != nil {
		unix.Close(wakeFD)
		unix.Close(fd)
		return nil, errors.Wrap(err, "register eventfd")
	}
	return ep, nil
}

func epollFlags(interest Interest) uint32 {
	var flags uint32
	if interest&Readable != 0 {
		flags |= rflags
	}
	if interest&Acceptable != 0 {
		flags |= aflags
	}
	if interest&Writable != 0 {
		flags |= wflags
	}
	return flags
}

// Register implements Demultiplexer.
func (ep *epoll) Register(fd int, interest Interest) error {
	if _, ok := ep.interests[fd]; ok {
		return ErrDuplicate
	}
	if err := ep.ctl(unix.EPOLL_CTL_ADD, fd, epollFlags(interest)); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return ErrDuplicate
		}
		return errors.Wrap(err, fmt.Sprintf("register fd %d for %s", fd, interest))
	}
	ep.interests[fd] = interest
	return nil
}

// Modify implements Demultiplexer.
func (ep *epoll) Modify(fd int, interest Interest) error {
	if _, ok := ep.interests[fd]; !ok {
		return ErrNotRegistered
	}
	if err := ep.ctl(unix.EPOLL_CTL_MOD, fd, epollFlags(interest)); err != nil {
		return errors.Wrap(err, fmt.Sprintf("modify fd %d to %s, connection may be closed", fd, interest))
	}
	ep.interests[fd] = interest
	return nil
}

// Deregister implements Demultiplexer.
func (ep *epoll) Deregister(fd int) error {
	if _, ok := ep.interests[fd]; !ok {
		return ErrNotRegistered
	}
	delete(ep.interests, fd)
	if err := ep.ctl(unix.EPOLL_CTL_DEL, fd, 0); err != nil {
		return errors.Wrap(err, fmt.Sprintf("deregister fd %d", fd))
	}
	return nil
}

// Wait implements Demultiplexer.
func (ep *epoll) Wait(timeout time.Duration, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, errors.New("demux: empty event slice")
	}
	if len(ep.raw) < len(events) {
		ep.raw = make([]unix.EpollEvent, len(events))
	}
	n, err := unix.EpollWait(ep.fd, ep.raw[:len(events)], toMillis(timeout))
	metrics.Add(metrics.EpollWait, 1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		metrics.Add(metrics.EpollWaitFails, 1)
		return 0, errors.Wrap(os.NewSyscallError("epoll_wait", err), "demux wait")
	}
	metrics.Add(metrics.EpollEvents, uint64(n))
	cnt := 0
	for i := 0; i < n; i++ {
		raw := ep.raw[i]
		fd := int(raw.Fd)
		if fd == ep.wakeFD {
			ep.consumeWakeup()
			continue
		}
		interest, ok := ep.interests[fd]
		if !ok {
			continue
		}
		ev := Event{FD: fd}
		if raw.Events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
			if interest&Acceptable != 0 {
				ev.Ready |= Acceptable
			} else {
				ev.Ready |= Readable
			}
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev.Ready |= Writable
		}
		if raw.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ev.Hangup = true
		}
		events[cnt] = ev
		cnt++
	}
	return cnt, nil
}

func (ep *epoll) consumeWakeup() {
	_, _ = unix.Read(ep.wakeFD, ep.rbuf)
	ep.notified.Store(false)
}

// Wakeup implements Demultiplexer. Concurrent calls before the next Wait
// collapse into a single eventfd write.
func (ep *epoll) Wakeup() error {
	if !ep.notified.CompareAndSwap(false, true) {
		return nil
	}
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrClosed
	}
	metrics.Add(metrics.Wakeups, 1)
	for {
		_, err := unix.Write(ep.wakeFD, wakeupValue)
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN means the counter is saturated, which is readable anyway.
			return nil
		case unix.EINTR:
			continue
		default:
			return os.NewSyscallError("write", err)
		}
	}
}

// Close implements Demultiplexer.
func (ep *epoll) Close() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return nil
	}
	ep.closed = true
	if err := os.NewSyscallError("close", unix.Close(ep.wakeFD)); err != nil {
		unix.Close(ep.fd)
		return err
	}
	return os.NewSyscallError("close", unix.Close(ep.fd))
}

func (ep *epoll) ctl(op int, fd int, flags uint32) error {
	var evt *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		evt = &unix.EpollEvent{Events: flags, Fd: int32(fd)}
	}
	if err := unix.EpollCtl(ep.fd, op, fd, evt); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}
