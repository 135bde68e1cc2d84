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

//go:build (freebsd || dragonfly || darwin) && (amd64 || arm64)
// +build freebsd dragonfly darwin
// +build amd64 arm64

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

const wakeIdent = 0

type kqueue struct {
	fd        int
	raw       []unix.Kevent_t
	changes   []unix.Kevent_t
	interests map[int]Interest
	notified  atomic.Bool

	mu     sync.RWMutex
	closed bool
}

func newDemux() (Demultiplexer, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	// Provide FD_CLOEXEC flag for consistency with Go runtime.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if _, err := unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("kevent add|clear", err)
	}
	return &kqueue{fd: fd, interests: make(map[int]Interest)}, nil
}

func readFilter(interest Interest) bool {
	return interest&(Readable|Acceptable) != 0
}

func (k *kqueue) change(fd int, filter int16, flags uint16) {
	k.changes = append(k.changes, unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	})
}

func (k *kqueue) apply(fd int, from, to Interest) error {
	k.changes = k.changes[:0]
	switch {
	case readFilter(to) && !readFilter(from):
		k.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	case !readFilter(to) && readFilter(from):
		k.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	}
	switch {
	case to&Writable != 0 && from&Writable == 0:
		k.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE)
	case to&Writable == 0 && from&Writable != 0:
		k.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	}
	if len(k.changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(k.fd, k.changes, nil, nil); err != nil {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

// Register implements Demultiplexer.
func (k *kqueue) Register(fd int, interest Interest) error {
	if _, ok := k.interests[fd]; ok {
		return ErrDuplicate
	}
	if err := k.apply(fd, None, interest); err != nil {
		return errors.Wrap(err, fmt.Sprintf("register fd %d for %s", fd, interest))
	}
	k.interests[fd] = interest
	return nil
}

// Modify implements Demultiplexer.
func (k *kqueue) Modify(fd int, interest Interest) error {
	from, ok := k.interests[fd]
	if !ok {
		return ErrNotRegistered
	}
	// Acceptable and Readable share the read filter, keep the kind of the registration.
	if err := k.apply(fd, from, interest); err != nil {
		return errors.Wrap(err, fmt.Sprintf("modify fd %d to %s, connection may be closed", fd, interest))
	}
	k.interests[fd] = interest
	return nil
}

// Deregister implements Demultiplexer.
func (k *kqueue) Deregister(fd int) error {
	from, ok := k.interests[fd]
	if !ok {
		return ErrNotRegistered
	}
	delete(k.interests, fd)
	if err := k.apply(fd, from, None); err != nil {
		return errors.Wrap(err, fmt.Sprintf("deregister fd %d", fd))
	}
	return nil
}

// Wait implements Demultiplexer.
func (k *kqueue) Wait(timeout time.Duration, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, errors.New("demux: empty event slice")
	}
	if len(k.raw) < len(events) {
		k.raw = make([]unix.Kevent_t, len(events))
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(k.fd, nil, k.raw[:len(events)], ts)
	metrics.Add(metrics.EpollWait, 1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		metrics.Add(metrics.EpollWaitFails, 1)
		return 0, errors.Wrap(os.NewSyscallError("kevent", err), "demux wait")
	}
	metrics.Add(metrics.EpollEvents, uint64(n))
	cnt := 0
	for i := 0; i < n; i++ {
		raw := k.raw[i]
		if raw.Filter == unix.EVFILT_USER {
			k.notified.Store(false)
			continue
		}
		fd := int(raw.Ident)
		interest, ok := k.interests[fd]
		if !ok {
			continue
		}
		ev := Event{FD: fd}
		switch raw.Filter {
		case unix.EVFILT_READ:
			if interest&Acceptable != 0 {
				ev.Ready = Acceptable
			} else {
				ev.Ready = Readable
			}
		case unix.EVFILT_WRITE:
			ev.Ready = Writable
		}
		if raw.Flags&unix.EV_ERROR != 0 {
			ev.Hangup = true
		}
		events[cnt] = ev
		cnt++
	}
	return cnt, nil
}

// Wakeup implements Demultiplexer.
func (k *kqueue) Wakeup() error {
	if !k.notified.CompareAndSwap(false, true) {
		return nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return ErrClosed
	}
	metrics.Add(metrics.Wakeups, 1)
	for {
		_, err := unix.Kevent(k.fd, []unix.Kevent_t{{
			Ident:  wakeIdent,
			Filter: unix.EVFILT_USER,
			Fflags: unix.NOTE_TRIGGER,
		}}, nil, nil)
		switch err {
		case nil:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return os.NewSyscallError("kevent", err)
		}
	}
}

// Close implements Demultiplexer.
func (k *kqueue) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return os.NewSyscallError("close", unix.Close(k.fd))
}
