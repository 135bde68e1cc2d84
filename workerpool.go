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
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"trpc.group/trpc-go/reactor/log"
	"trpc.group/trpc-go/reactor/metrics"
)

// Task is one input chunk to be processed off the loop goroutine.
type Task struct {
	ConnID    uint64
	Seq       uint64
	Input     []byte
	Processor Processor
	Sink      CompletionSink
}

// Completion is the immutable result of a Task.
type Completion struct {
	ConnID uint64
	Seq    uint64
	Output []byte
	Err    error
}

// CompletionSink receives completions from workers. Complete must be safe
// for concurrent use and must not block.
type CompletionSink interface {
	Complete(Completion)
}

// WorkerPool runs Tasks on a fixed set of goroutines fed by a bounded queue.
type WorkerPool struct {
	tasks   chan Task
	pool    *ants.Pool
	policy  OverloadPolicy
	timeout time.Duration
	workers int
	wg      sync.WaitGroup
	exited  chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewWorkerPool creates a started WorkerPool. It honours WithWorkers,
// WithQueueSize, WithOverloadPolicy and WithSubmitTimeout.
func NewWorkerPool(opts ...Option) (*WorkerPool, error) {
	o := newOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(o.workers, ants.WithPanicHandler(func(r interface{}) {
		log.Errorf("worker exited on panic: %v\n%s", r, debug.Stack())
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create goroutine pool")
	}
	p := &WorkerPool{
		tasks:   make(chan Task, o.queueSize),
		pool:    pool,
		policy:  o.overloadPolicy,
		timeout: o.submitTimeout,
		workers: o.workers,
		exited:  make(chan struct{}),
	}
	for i := 0; i < o.workers; i++ {
		p.wg.Add(1)
		if err := pool.Submit(p.work); err != nil {
			p.wg.Done()
			p.Close()
			return nil, errors.Wrap(err, "start worker")
		}
	}
	return p, nil
}

// Submit enqueues t. It never blocks longer than the submit timeout.
func (p *WorkerPool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- t:
		metrics.Add(metrics.TasksSubmitted, 1)
		return nil
	default:
	}
	if p.policy == BoundedBlock && p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		select {
		case p.tasks <- t:
			metrics.Add(metrics.TasksSubmitted, 1)
			return nil
		case <-timer.C:
		}
	}
	metrics.Add(metrics.TasksOverloaded, 1)
	return ErrOverloaded
}

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Queued returns the number of tasks waiting for a worker.
func (p *WorkerPool) Queued() int {
	return len(p.tasks)
}

// Close stops accepting tasks, runs the queued ones and waits for the
// workers to exit.
func (p *WorkerPool) Close() {
	p.shutdown()
	<-p.exited
}

// shutdown stops accepting tasks and returns at once, the workers exit on
// their own after the queued tasks. It may be called from a worker.
func (p *WorkerPool) shutdown() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		go func() {
			p.wg.Wait()
			p.pool.Release()
			close(p.exited)
		}()
	})
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for t := range p.tasks {
		c := runTask(t)
		t.Sink.Complete(c)
	}
}

// runTask calls the Processor, a panic becomes the completion error.
func runTask(t Task) (c Completion) {
	c = Completion{ConnID: t.ConnID, Seq: t.Seq}
	defer func() {
		if r := recover(); r != nil {
			metrics.Add(metrics.HandlerPanics, 1)
			log.Errorf("processor panic on conn %d: %v\n%s", t.ConnID, r, debug.Stack())
			c.Output = nil
			c.Err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	c.Output, c.Err = t.Processor.Process(t.ConnID, t.Input)
	return c
}
