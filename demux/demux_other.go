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

//go:build !linux && !((freebsd || dragonfly || darwin) && (amd64 || arm64))
// +build !linux
// +build !freebsd,!dragonfly,!darwin !amd64,!arm64

package demux

import "errors"

func newDemux() (Demultiplexer, error) {
	return nil, errors.New("demux: platform not supported")
}
