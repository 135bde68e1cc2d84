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

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := newOptions(nil)
	assert.Nil(t, opts.validate())
	assert.Equal(t, runtime.NumCPU(), opts.workers)
	assert.Equal(t, 1024, opts.queueSize)
	assert.Equal(t, FailFast, opts.overloadPolicy)
	assert.Equal(t, 10*time.Millisecond, opts.submitTimeout)
	assert.Equal(t, Offload, opts.mode)
	assert.Equal(t, 8<<10, opts.readBufferSize)
	assert.Equal(t, 4<<20, opts.maxPendingOutput)
	assert.Equal(t, 15*time.Second, opts.tcpKeepAlive)
	assert.True(t, opts.noDelay)
	assert.Equal(t, 64, opts.maxAcceptsPerCycle)
	assert.Equal(t, 5*time.Second, opts.drainTimeout)
	assert.Equal(t, 16, opts.maxPollErrors)
	assert.Equal(t, RoundRobin, opts.loadBalance)
}

func TestOptions(t *testing.T) {
	pool := &WorkerPool{}
	rec := newRecorder()
	opts := newOptions([]Option{
		WithWorkers(3),
		WithQueueSize(7),
		WithOverloadPolicy(BoundedBlock),
		WithSubmitTimeout(time.Second),
		WithWorkerPool(pool),
		WithProcessMode(Inline),
		WithReadBufferSize(512),
		WithReadHighWatermark(100),
		WithMaxPendingOutput(200),
		WithTCPKeepAlive(time.Minute),
		WithNoDelay(false),
		WithIdleTimeout(time.Hour),
		WithMaxAcceptsPerCycle(8),
		WithPollInterval(-1),
		WithEventBatch(16),
		WithCompletionBatch(32),
		WithDrainTimeout(time.Second),
		WithPollErrorBackoff(time.Millisecond),
		WithMaxPollErrors(2),
		WithObserver(rec),
		WithLoops(4),
		WithLoadBalance(LeastConns),
		WithReusePort(true),
	})
	assert.Nil(t, opts.validate())
	assert.Equal(t, 3, opts.workers)
	assert.Equal(t, 7, opts.queueSize)
	assert.Equal(t, BoundedBlock, opts.overloadPolicy)
	assert.Equal(t, time.Second, opts.submitTimeout)
	assert.Same(t, pool, opts.pool)
	assert.Equal(t, Inline, opts.mode)
	assert.Equal(t, 512, opts.readBufferSize)
	assert.Equal(t, 100, opts.readHighWatermark)
	assert.Equal(t, 200, opts.maxPendingOutput)
	assert.Equal(t, time.Minute, opts.tcpKeepAlive)
	assert.False(t, opts.noDelay)
	assert.Equal(t, time.Hour, opts.idleTimeout)
	assert.Equal(t, 8, opts.maxAcceptsPerCycle)
	assert.Equal(t, time.Duration(-1), opts.pollInterval)
	assert.Equal(t, 16, opts.eventBatch)
	assert.Equal(t, 32, opts.completionBatch)
	assert.Equal(t, time.Second, opts.drainTimeout)
	assert.Equal(t, time.Millisecond, opts.pollErrorBackoff)
	assert.Equal(t, 2, opts.maxPollErrors)
	assert.Equal(t, rec, opts.observer)
	assert.Equal(t, 4, opts.loops)
	assert.Equal(t, LeastConns, opts.loadBalance)
	assert.True(t, opts.reusePort)

	WithObserver(nil).f(opts)
	assert.Equal(t, NopObserver{}, opts.observer)
}

func TestInvalidOptions(t *testing.T) {
	for _, opt := range []Option{
		WithWorkers(0),
		WithQueueSize(-1),
		WithReadBufferSize(0),
		WithMaxPendingOutput(0),
		WithEventBatch(0),
		WithCompletionBatch(0),
		WithMaxAcceptsPerCycle(0),
		WithMaxPollErrors(0),
		WithLoops(0),
		WithProcessMode(ProcessMode(9)),
		WithOverloadPolicy(OverloadPolicy(9)),
	} {
		assert.NotNil(t, newOptions([]Option{opt}).validate())
	}
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "offload", Offload.String())
	assert.Equal(t, "inline", Inline.String())
	assert.Equal(t, "ProcessMode(9)", ProcessMode(9).String())
	assert.Equal(t, "failfast", FailFast.String())
	assert.Equal(t, "block", BoundedBlock.String())
	assert.Equal(t, "OverloadPolicy(9)", OverloadPolicy(9).String())
}
