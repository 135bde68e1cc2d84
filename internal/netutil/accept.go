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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// acceptFallback uses plain accept and sets the flags afterwards. No ForkLock
// is held: the listener is already non-blocking, see internal/poll/sys_cloexec.go.
func acceptFallback(fd int) (int, unix.Sockaddr, error) {
	ns, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	syscall.CloseOnExec(ns)
	if err := unix.SetNonblock(ns, true); err != nil {
		unix.Close(ns)
		return -1, nil, err
	}
	return ns, sa, nil
}

// IsTemporary reports whether an accept error only affects the current
// attempt, so the caller may retry immediately.
func IsTemporary(err error) bool {
	switch err {
	case unix.EINTR, unix.ECONNABORTED, unix.EPROTO:
		return true
	default:
		return false
	}
}

// IsWouldBlock reports whether err is EAGAIN/EWOULDBLOCK.
func IsWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
