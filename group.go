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
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Group runs several EventLoops sharing one WorkerPool. Every connection
// is owned by exactly one loop for its whole life.
type Group struct {
	loops   []*EventLoop
	pool    *WorkerPool
	ownPool bool
	started atomic.Bool
	stopped atomic.Bool
}

// NewGroup creates WithLoops loops. The first one accepts on ln and spreads
// the connections with the balancer named by WithLoadBalance.
func NewGroup(ln net.Listener, p Processor, opts ...Option) (*Group, error) {
	if ln == nil {
		return nil, errors.New("listener is nil")
	}
	o := newOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}
	lns := make([]net.Listener, o.loops)
	lns[0] = ln
	return newGroup(lns, p, o)
}

// ListenGroup listens on the address and creates a Group on it. With
// WithReusePort every loop gets its own SO_REUSEPORT listener and accepts
// for itself, otherwise the first loop accepts for all.
func ListenGroup(network, address string, p Processor, opts ...Option) (*Group, error) {
	o := newOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}
	if !o.reusePort {
		ln, err := Listen(network, address)
		if err != nil {
			return nil, err
		}
		g, err := NewGroup(ln, p, opts...)
		if err != nil {
			ln.Close()
			return nil, err
		}
		return g, nil
	}
	lns := make([]net.Listener, o.loops)
	for i := range lns {
		ln, err := ListenReusePort(network, address)
		if err != nil {
			closeListeners(lns)
			return nil, err
		}
		lns[i] = ln
		// Port 0 picks a port once, the other listeners join it.
		address = ln.Addr().String()
	}
	g, err := newGroup(lns, p, o)
	if err != nil {
		closeListeners(lns)
		return nil, err
	}
	return g, nil
}

// newGroup creates one loop per element of lns, nil entries are loops
// served by the balancer of the first loop.
func newGroup(lns []net.Listener, p Processor, o *options) (*Group, error) {
	if p == nil {
		return nil, ErrNilProcessor
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	g := &Group{}
	if o.mode == Offload {
		if o.pool != nil {
			g.pool = o.pool
		} else {
			pool, err := NewWorkerPool(WithWorkers(o.workers), WithQueueSize(o.queueSize),
				WithOverloadPolicy(o.overloadPolicy), WithSubmitTimeout(o.submitTimeout))
			if err != nil {
				return nil, err
			}
			g.pool, g.ownPool = pool, true
		}
	}
	var balance LoadBalance
	if len(lns) > 1 && lns[1] == nil {
		builder := GetBalanceBuilder(o.loadBalance)
		if builder == nil {
			g.release()
			return nil, fmt.Errorf("load balance %s is not registered", o.loadBalance)
		}
		balance = builder()
	}
	for _, ln := range lns {
		lo := *o
		lo.pool = g.pool
		l, err := newEventLoop(ln, p, &lo)
		if err != nil {
			g.release()
			return nil, err
		}
		g.loops = append(g.loops, l)
		if balance != nil {
			balance.Register(l)
		}
	}
	if balance != nil {
		g.loops[0].acc.balance = balance
	}
	return g, nil
}

// Start starts every loop.
func (g *Group) Start() error {
	if !g.started.CompareAndSwap(false, true) {
		return ErrLoopStarted
	}
	for _, l := range g.loops {
		if err := l.Start(); err != nil {
			g.Stop()
			return err
		}
	}
	return nil
}

// Stop stops the loops concurrently, each draining its connections, then
// shuts down the worker pool the group created without waiting for tasks
// still running on it.
func (g *Group) Stop() error {
	if !g.stopped.CompareAndSwap(false, true) {
		return nil
	}
	var wg sync.WaitGroup
	for _, l := range g.loops {
		wg.Add(1)
		go func(l *EventLoop) {
			defer wg.Done()
			l.Stop()
		}(l)
	}
	wg.Wait()
	if g.ownPool {
		g.pool.shutdown()
	}
	return nil
}

// Serve starts the group and blocks until ctx is done or a loop stopped on
// a fatal error, then stops every loop. It returns the first fatal error.
func (g *Group) Serve(ctx context.Context) error {
	if err := g.Start(); err != nil {
		return err
	}
	failed := make(chan struct{})
	var once sync.Once
	for _, l := range g.loops {
		go func(l *EventLoop) {
			select {
			case <-l.Done():
				if l.Err() != nil {
					once.Do(func() { close(failed) })
				}
			case <-ctx.Done():
			}
		}(l)
	}
	select {
	case <-ctx.Done():
	case <-failed:
	}
	g.Stop()
	for _, l := range g.loops {
		if err := l.Err(); err != nil {
			return err
		}
	}
	return nil
}

// IsRunning reports whether every loop is running.
func (g *Group) IsRunning() bool {
	for _, l := range g.loops {
		if !l.IsRunning() {
			return false
		}
	}
	return len(g.loops) > 0
}

// Loops returns the loops of the group.
func (g *Group) Loops() []*EventLoop {
	return g.loops
}

// Addr returns the address the group accepts on.
func (g *Group) Addr() net.Addr {
	return g.loops[0].Addr()
}

// NumConns returns the number of connections over all loops.
func (g *Group) NumConns() int {
	n := 0
	for _, l := range g.loops {
		n += l.NumConns()
	}
	return n
}

// release undoes a partially built group.
func (g *Group) release() {
	for _, l := range g.loops {
		l.Stop()
	}
	if g.ownPool {
		g.pool.Close()
	}
}

func closeListeners(lns []net.Listener) {
	for _, ln := range lns {
		if ln != nil {
			ln.Close()
		}
	}
}
