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

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package reactor

import "golang.org/x/sys/unix"

// sysWritev writes the chunks one by one until the kernel takes less than asked.
func (s *fdSocket) sysWritev(bs [][]byte) (int, error) {
	total := 0
	for _, b := range bs {
		n, err := unix.Write(s.sysfd, b)
		if n > 0 {
			total += n
		}
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if n < len(b) {
			break
		}
	}
	return total, nil
}
