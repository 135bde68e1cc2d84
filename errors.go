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

package reactor

import "errors"

var (
	// ErrOverloaded is returned by WorkerPool.Submit when no queue slot is
	// available in time. The connection that submitted the task is closed.
	ErrOverloaded = errors.New("reactor: worker pool overloaded")
	// ErrPoolClosed is returned by WorkerPool.Submit after Close.
	ErrPoolClosed = errors.New("reactor: worker pool closed")
	// ErrOutputLimit closes a connection whose pending output exceeds the limit.
	ErrOutputLimit = errors.New("reactor: pending output limit exceeded")
	// ErrPeerHangup closes a connection reported hung up or in error by the demultiplexer.
	ErrPeerHangup = errors.New("reactor: peer hang up")
	// ErrLoopStarted is returned when starting a loop twice.
	ErrLoopStarted = errors.New("reactor: event loop already started")
	// ErrLoopStopped is returned when starting a stopped loop.
	ErrLoopStopped = errors.New("reactor: event loop stopped")
	// ErrNilProcessor is returned when no Processor is given.
	ErrNilProcessor = errors.New("reactor: processor is nil")
	// ErrIdleTimeout closes a connection without any read or write for the idle timeout.
	ErrIdleTimeout = errors.New("reactor: connection idle timeout")
	// errDrainTimeout closes the connections still draining when Stop gives up.
	errDrainTimeout = errors.New("reactor: drain timeout")
)
