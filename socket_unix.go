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

package reactor

import (
	"os"

	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/reactor/metrics"
)

// fdSocket is a socket over a raw non-blocking descriptor.
type fdSocket struct {
	sysfd int
}

func (s *fdSocket) fd() int {
	return s.sysfd
}

func (s *fdSocket) read(b []byte) (int, ioStatus, error) {
	for {
		n, err := unix.Read(s.sysfd, b)
		metrics.Add(metrics.ReadCalls, 1)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, ioWouldBlock, nil
		case err != nil:
			metrics.Add(metrics.ReadFails, 1)
			return 0, ioDone, os.NewSyscallError("read", err)
		case n == 0:
			return 0, ioEOF, nil
		}
		metrics.Add(metrics.ReadBytes, uint64(n))
		return n, ioDone, nil
	}
}

func (s *fdSocket) writev(bs [][]byte) (int, ioStatus, error) {
	for {
		n, err := s.sysWritev(bs)
		metrics.Add(metrics.WriteCalls, 1)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, ioWouldBlock, nil
		case err != nil:
			metrics.Add(metrics.WriteFails, 1)
			return 0, ioDone, os.NewSyscallError("writev", err)
		case n == 0:
			return 0, ioWouldBlock, nil
		}
		metrics.Add(metrics.WriteBytes, uint64(n))
		return n, ioDone, nil
	}
}

func (s *fdSocket) close() error {
	return os.NewSyscallError("close", unix.Close(s.sysfd))
}
