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

// Package demux wraps the OS readiness notification primitive (epoll on linux,
// kqueue on BSD systems) behind a small register/modify/wait interface.
package demux

import (
	"errors"
	"strings"
	"time"
)

// Interest is the set of readiness conditions a descriptor is watched for.
type Interest uint8

// Interest bits.
const (
	Readable Interest = 1 << iota
	Writable
	Acceptable
)

// None is the empty interest set. Hang up and error conditions are still reported.
const None Interest = 0

// String implements fmt.Stringer.
func (i Interest) String() string {
	if i == None {
		return "None"
	}
	var parts []string
	if i&Readable != 0 {
		parts = append(parts, "Readable")
	}
	if i&Writable != 0 {
		parts = append(parts, "Writable")
	}
	if i&Acceptable != 0 {
		parts = append(parts, "Acceptable")
	}
	return strings.Join(parts, "|")
}

// Event is one readiness notification returned by Wait.
type Event struct {
	FD    int
	Ready Interest
	// Hangup reports an error or hang up condition on the descriptor
	// (EPOLLHUP/EPOLLERR, EV_ERROR).
	Hangup bool
}

var (
	// ErrDuplicate is returned when the descriptor is already registered.
	ErrDuplicate = errors.New("demux: descriptor already registered")
	// ErrNotRegistered is returned when modifying or removing an unknown descriptor.
	ErrNotRegistered = errors.New("demux: descriptor not registered")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("demux: closed")
)

// Demultiplexer monitors descriptors and reports which of them are ready.
//
// Register, Modify, Deregister and Wait must be called from a single goroutine,
// the one that owns the event loop. Wakeup may be called from any goroutine.
type Demultiplexer interface {
	// Register starts watching fd for the given interest.
	Register(fd int, interest Interest) error

	// Modify replaces the interest set of a registered fd.
	Modify(fd int, interest Interest) error

	// Deregister stops watching fd.
	Deregister(fd int) error

	// Wait blocks at most timeout (forever if timeout < 0) and fills events.
	// It returns early, possibly with zero events, after Wakeup.
	Wait(timeout time.Duration, events []Event) (int, error)

	// Wakeup makes a concurrently blocked Wait return.
	Wakeup() error

	// Close releases the OS resources.
	Close() error
}

// New creates the Demultiplexer of the current platform.
func New() (Demultiplexer, error) {
	return newDemux()
}

func toMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	msec := int(timeout / time.Millisecond)
	if msec == 0 && timeout > 0 {
		msec = 1
	}
	return msec
}
