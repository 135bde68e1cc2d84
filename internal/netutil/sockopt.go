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
	"golang.org/x/sys/unix"
)

// SetNoDelay sets the TCP_NODELAY flag on fd.
func SetNoDelay(fd int, noDelay bool) error {
	var v int
	if noDelay {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// SetKeepAlive turns on keep-alive option for fd and sets both the idle time
// before the first probe and the interval between probes to secs.
func SetKeepAlive(fd, secs int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	switch err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err {
	case nil, unix.ENOPROTOOPT: // OS X 10.7 and earlier don't support this option.
	default:
		return err
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, keepAliveIdle, secs)
}
