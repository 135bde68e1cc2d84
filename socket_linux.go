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

package reactor

import "golang.org/x/sys/unix"

func (s *fdSocket) sysWritev(bs [][]byte) (int, error) {
	if len(bs) == 1 {
		return unix.Write(s.sysfd, bs[0])
	}
	return unix.Writev(s.sysfd, bs)
}
