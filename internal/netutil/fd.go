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

// Package netutil provides socket level helpers used by the event loops.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// GetFD returns the integer Unix file descriptor referencing the socket.
// The descriptor stays owned by socket, closing socket closes it.
func GetFD(socket interface{}) (int, error) {
	conn, ok := socket.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("type %T doesn't implement syscall.Conn interface", socket)
	}
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("get raw connection fail %w", err)
	}

	fd := -1
	err = rawConn.Control(func(sysfd uintptr) {
		fd = int(sysfd)
	})
	if err != nil {
		return -1, err
	}
	if fd == -1 {
		return -1, errors.New("invalid file descriptor")
	}
	return fd, nil
}

// ValidateTCP checks that the listener is a stream listener exposing its descriptor.
func ValidateTCP(ln net.Listener) error {
	if ln == nil {
		return errors.New("listener is nil")
	}
	switch network := ln.Addr().Network(); network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("network %s is not support", network)
	}
	if _, ok := ln.(syscall.Conn); !ok {
		return fmt.Errorf("type %T doesn't implement syscall.Conn interface", ln)
	}
	return nil
}
