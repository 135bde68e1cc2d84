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

// Package reactor provides a non-blocking TCP event loop.
//
// An EventLoop multiplexes many connections on a single goroutine. Every
// chunk read from a connection is handed to a Processor, either inline or on
// a bounded WorkerPool, and the result is written back to the same
// connection in order. A connection whose peer reads slowly has its output
// queued and the loop waits for the socket to become writable again, so
// one slow peer never blocks the others. A Group runs several loops that
// share one WorkerPool.
package reactor

import (
	"time"
)

// Processor transforms one input chunk into one output chunk.
//
// Process is called with a private copy of the bytes read, it may keep or
// modify in. The returned slice is owned by the loop until it is written.
// An empty output writes nothing, an error closes the connection.
type Processor interface {
	Process(connID uint64, in []byte) ([]byte, error)
}

// ProcessorFunc adapts an ordinary function to a Processor.
type ProcessorFunc func(connID uint64, in []byte) ([]byte, error)

// Process implements Processor.
func (f ProcessorFunc) Process(connID uint64, in []byte) ([]byte, error) {
	return f(connID, in)
}

// Echo is a Processor that returns its input.
var Echo = ProcessorFunc(func(_ uint64, in []byte) ([]byte, error) {
	return in, nil
})

// Observer receives loop events. Methods are called on the loop goroutine
// and must not block.
type Observer interface {
	// OnConnOpened fires when a connection is registered.
	OnConnOpened(connID uint64)
	// OnConnClosed fires once per connection, err is nil for an orderly close.
	OnConnClosed(connID uint64, err error)
	// OnRead fires after bytes were read from a connection.
	OnRead(connID uint64, n int)
	// OnWrite fires after bytes were written to a connection.
	OnWrite(connID uint64, n int)
	// OnCycle fires after each dispatch cycle with the number of events
	// handled and the time spent handling them.
	OnCycle(events int, latency time.Duration)
}

// NopObserver ignores every event. Embed it to implement part of Observer.
type NopObserver struct{}

// OnConnOpened implements Observer.
func (NopObserver) OnConnOpened(uint64) {}

// OnConnClosed implements Observer.
func (NopObserver) OnConnClosed(uint64, error) {}

// OnRead implements Observer.
func (NopObserver) OnRead(uint64, int) {}

// OnWrite implements Observer.
func (NopObserver) OnWrite(uint64, int) {}

// OnCycle implements Observer.
func (NopObserver) OnCycle(int, time.Duration) {}
