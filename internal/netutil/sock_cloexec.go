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

//go:build dragonfly || freebsd || linux
// +build dragonfly freebsd linux

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Accept accepts one pending connection on the listening fd. The returned
// descriptor is non-blocking and close-on-exec.
func Accept(fd int) (int, unix.Sockaddr, error) {
	ns, sa, err := unix.Accept4(fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	switch err {
	case nil:
		return ns, sa, nil
	case syscall.ENOSYS, syscall.EINVAL, syscall.EACCES, syscall.EFAULT:
		// Old kernels without accept4, fall back to accept.
		return acceptFallback(fd)
	default:
		return -1, nil, err
	}
}
