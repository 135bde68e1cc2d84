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
	"fmt"
	"runtime"
	"time"

	"trpc.group/trpc-go/reactor/demux"
)

const (
	defaultQueueSize          = 1024
	defaultSubmitTimeout      = 10 * time.Millisecond
	defaultReadBufferSize     = 8 << 10
	defaultReadHighWatermark  = 1 << 20
	defaultMaxPendingOutput   = 4 << 20
	defaultPollInterval       = time.Second
	defaultEventBatch         = 128
	defaultCompletionBatch    = 256
	defaultMaxAcceptsPerCycle = 64
	defaultTCPKeepAlive       = 15 * time.Second
	defaultDrainTimeout       = 5 * time.Second
	defaultPollErrorBackoff   = 10 * time.Millisecond
	defaultMaxPollErrors      = 16
)

// ProcessMode selects where the Processor runs.
type ProcessMode int

const (
	// Offload runs the Processor on the WorkerPool. It is the default.
	Offload ProcessMode = iota
	// Inline runs the Processor on the loop goroutine. Use it for
	// processors that never block.
	Inline
)

// String implements fmt.Stringer.
func (m ProcessMode) String() string {
	switch m {
	case Offload:
		return "offload"
	case Inline:
		return "inline"
	default:
		return fmt.Sprintf("ProcessMode(%d)", int(m))
	}
}

// OverloadPolicy decides what Submit does when the task queue is full.
type OverloadPolicy int

const (
	// FailFast rejects the task at once with ErrOverloaded. It is the default.
	FailFast OverloadPolicy = iota
	// BoundedBlock waits for a free slot at most the submit timeout, then
	// rejects with ErrOverloaded.
	BoundedBlock
)

// String implements fmt.Stringer.
func (p OverloadPolicy) String() string {
	switch p {
	case FailFast:
		return "failfast"
	case BoundedBlock:
		return "block"
	default:
		return fmt.Sprintf("OverloadPolicy(%d)", int(p))
	}
}

// Option reactor option.
type Option struct {
	f func(*options)
}

type options struct {
	// Worker pool.
	workers        int
	queueSize      int
	overloadPolicy OverloadPolicy
	submitTimeout  time.Duration
	pool           *WorkerPool

	// Connections.
	mode               ProcessMode
	readBufferSize     int
	readHighWatermark  int
	maxPendingOutput   int
	tcpKeepAlive       time.Duration
	noDelay            bool
	idleTimeout        time.Duration
	maxAcceptsPerCycle int

	// Loop.
	pollInterval     time.Duration
	eventBatch       int
	completionBatch  int
	drainTimeout     time.Duration
	pollErrorBackoff time.Duration
	maxPollErrors    int
	observer         Observer
	newDemux         func() (demux.Demultiplexer, error)

	// Group.
	loops       int
	loadBalance string
	reusePort   bool
}

func (o *options) setDefault() {
	o.workers = runtime.NumCPU()
	o.queueSize = defaultQueueSize
	o.submitTimeout = defaultSubmitTimeout
	o.readBufferSize = defaultReadBufferSize
	o.readHighWatermark = defaultReadHighWatermark
	o.maxPendingOutput = defaultMaxPendingOutput
	o.tcpKeepAlive = defaultTCPKeepAlive
	o.noDelay = true
	o.maxAcceptsPerCycle = defaultMaxAcceptsPerCycle
	o.pollInterval = defaultPollInterval
	o.eventBatch = defaultEventBatch
	o.completionBatch = defaultCompletionBatch
	o.drainTimeout = defaultDrainTimeout
	o.pollErrorBackoff = defaultPollErrorBackoff
	o.maxPollErrors = defaultMaxPollErrors
	o.observer = NopObserver{}
	o.newDemux = demux.New
	o.loops = runtime.NumCPU()
	o.loadBalance = RoundRobin
}

func newOptions(opts []Option) *options {
	o := &options{}
	o.setDefault()
	for _, opt := range opts {
		opt.f(o)
	}
	return o
}

func (o *options) validate() error {
	switch {
	case o.workers <= 0:
		return fmt.Errorf("invalid workers %d, must be positive", o.workers)
	case o.queueSize <= 0:
		return fmt.Errorf("invalid queue size %d, must be positive", o.queueSize)
	case o.readBufferSize <= 0:
		return fmt.Errorf("invalid read buffer size %d, must be positive", o.readBufferSize)
	case o.maxPendingOutput <= 0:
		return fmt.Errorf("invalid max pending output %d, must be positive", o.maxPendingOutput)
	case o.eventBatch <= 0:
		return fmt.Errorf("invalid event batch %d, must be positive", o.eventBatch)
	case o.completionBatch <= 0:
		return fmt.Errorf("invalid completion batch %d, must be positive", o.completionBatch)
	case o.maxAcceptsPerCycle <= 0:
		return fmt.Errorf("invalid max accepts per cycle %d, must be positive", o.maxAcceptsPerCycle)
	case o.maxPollErrors <= 0:
		return fmt.Errorf("invalid max poll errors %d, must be positive", o.maxPollErrors)
	case o.loops <= 0:
		return fmt.Errorf("invalid loops %d, must be positive", o.loops)
	case o.mode != Offload && o.mode != Inline:
		return fmt.Errorf("invalid process mode %v", o.mode)
	case o.overloadPolicy != FailFast && o.overloadPolicy != BoundedBlock:
		return fmt.Errorf("invalid overload policy %v", o.overloadPolicy)
	}
	return nil
}

// WithWorkers sets the number of WorkerPool goroutines, default runtime.NumCPU().
func WithWorkers(n int) Option {
	return Option{func(op *options) {
		op.workers = n
	}}
}

// WithQueueSize sets the capacity of the WorkerPool task queue, default 1024.
func WithQueueSize(n int) Option {
	return Option{func(op *options) {
		op.queueSize = n
	}}
}

// WithOverloadPolicy sets what happens when the task queue is full, default FailFast.
func WithOverloadPolicy(p OverloadPolicy) Option {
	return Option{func(op *options) {
		op.overloadPolicy = p
	}}
}

// WithSubmitTimeout caps the wait of the BoundedBlock policy, default 10ms.
func WithSubmitTimeout(d time.Duration) Option {
	return Option{func(op *options) {
		op.submitTimeout = d
	}}
}

// WithWorkerPool makes the loop submit tasks to p instead of creating its
// own pool. The loop never closes a pool given this way.
func WithWorkerPool(p *WorkerPool) Option {
	return Option{func(op *options) {
		op.pool = p
	}}
}

// WithProcessMode sets where the Processor runs, default Offload.
func WithProcessMode(m ProcessMode) Option {
	return Option{func(op *options) {
		op.mode = m
	}}
}

// WithReadBufferSize sets the size of a single read, default 8KiB.
func WithReadBufferSize(n int) Option {
	return Option{func(op *options) {
		op.readBufferSize = n
	}}
}

// WithReadHighWatermark stops reading from a connection while its pending
// output plus the input still being processed by workers is at least n
// bytes, default 1MiB. Zero or negative disables it.
func WithReadHighWatermark(n int) Option {
	return Option{func(op *options) {
		op.readHighWatermark = n
	}}
}

// WithMaxPendingOutput closes a connection with ErrOutputLimit once its
// pending output exceeds n bytes, default 4MiB.
func WithMaxPendingOutput(n int) Option {
	return Option{func(op *options) {
		op.maxPendingOutput = n
	}}
}

// WithTCPKeepAlive sets the tcp keep alive interval of accepted
// connections, default 15s. Zero or negative disables it.
func WithTCPKeepAlive(keepAlive time.Duration) Option {
	return Option{func(op *options) {
		op.tcpKeepAlive = keepAlive
	}}
}

// WithNoDelay sets TCP_NODELAY on accepted connections, default true.
func WithNoDelay(noDelay bool) Option {
	return Option{func(op *options) {
		op.noDelay = noDelay
	}}
}

// WithIdleTimeout closes connections without any read or write for d.
// Zero, the default, disables it.
func WithIdleTimeout(d time.Duration) Option {
	return Option{func(op *options) {
		op.idleTimeout = d
	}}
}

// WithMaxAcceptsPerCycle bounds the accepts done for one readiness event, default 64.
func WithMaxAcceptsPerCycle(n int) Option {
	return Option{func(op *options) {
		op.maxAcceptsPerCycle = n
	}}
}

// WithPollInterval sets the longest time the loop blocks in the
// demultiplexer, default 1s. Wakeups interrupt it.
func WithPollInterval(d time.Duration) Option {
	return Option{func(op *options) {
		op.pollInterval = d
	}}
}

// WithEventBatch sets the maximal number of events handled per cycle, default 128.
func WithEventBatch(n int) Option {
	return Option{func(op *options) {
		op.eventBatch = n
	}}
}

// WithCompletionBatch sets the maximal number of completions applied per cycle, default 256.
func WithCompletionBatch(n int) Option {
	return Option{func(op *options) {
		op.completionBatch = n
	}}
}

// WithDrainTimeout bounds how long Stop waits for pending output, default 5s.
func WithDrainTimeout(d time.Duration) Option {
	return Option{func(op *options) {
		op.drainTimeout = d
	}}
}

// WithPollErrorBackoff sets the sleep after a failed wait, default 10ms.
func WithPollErrorBackoff(d time.Duration) Option {
	return Option{func(op *options) {
		op.pollErrorBackoff = d
	}}
}

// WithMaxPollErrors sets how many consecutive failed waits stop the loop, default 16.
func WithMaxPollErrors(n int) Option {
	return Option{func(op *options) {
		op.maxPollErrors = n
	}}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return Option{func(op *options) {
		if o == nil {
			o = NopObserver{}
		}
		op.observer = o
	}}
}

// WithLoops sets the number of loops of a Group, default runtime.NumCPU().
func WithLoops(n int) Option {
	return Option{func(op *options) {
		op.loops = n
	}}
}

// WithLoadBalance selects the registered balancer that spreads accepted
// connections over the loops of a Group, default RoundRobin.
func WithLoadBalance(name string) Option {
	return Option{func(op *options) {
		op.loadBalance = name
	}}
}

// WithReusePort gives every loop of a Group created by ListenGroup its own
// SO_REUSEPORT listener, so each loop accepts for itself.
func WithReusePort(reusePort bool) Option {
	return Option{func(op *options) {
		op.reusePort = reusePort
	}}
}
