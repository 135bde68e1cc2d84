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

//go:build darwin
// +build darwin

package netutil

import "golang.org/x/sys/unix"

// Accept accepts one pending connection on the listening fd. The returned
// descriptor is non-blocking and close-on-exec.
func Accept(fd int) (int, unix.Sockaddr, error) {
	return acceptFallback(fd)
}
