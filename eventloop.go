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
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"trpc.group/trpc-go/reactor/demux"
	"trpc.group/trpc-go/reactor/internal/mcache"
	"trpc.group/trpc-go/reactor/internal/netutil"
	"trpc.group/trpc-go/reactor/log"
	"trpc.group/trpc-go/reactor/metrics"
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopping
	stateStopped
)

// connIDs numbers connections process wide, so ids stay unique across the
// loops of a Group.
var connIDs atomic.Uint64

// EventLoop owns a demultiplexer, an optional listener and every connection
// accepted on it or handed to it. All of them are only touched by the loop
// goroutine, other goroutines talk to the loop through its inbox.
type EventLoop struct {
	opts    *options
	proc    Processor
	ln      net.Listener
	demux   demux.Demultiplexer
	pool    *WorkerPool
	ownPool bool
	inbox   *inbox
	reg     *registry
	acc     *acceptor

	events []demux.Event
	msgs   []any

	// Loop goroutine only.
	now        time.Time
	cycles     uint64
	backlog    bool
	draining   bool
	deadline   time.Time
	nextSweep  time.Time
	pollErrors int

	state    atomic.Int32
	numConns atomic.Int64
	adopting atomic.Int64
	err      error
	done     chan struct{}
}

// NewEventLoop creates an EventLoop serving the connections accepted on ln
// with p. The loop takes ownership of ln and closes it when it stops. ln may
// be nil for a loop that only serves connections handed over by a Group.
func NewEventLoop(ln net.Listener, p Processor, opts ...Option) (*EventLoop, error) {
	return newEventLoop(ln, p, newOptions(opts))
}

func newEventLoop(ln net.Listener, p Processor, o *options) (*EventLoop, error) {
	if p == nil {
		return nil, ErrNilProcessor
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	l := &EventLoop{
		opts:   o,
		proc:   p,
		ln:     ln,
		inbox:  newInbox(),
		reg:    newRegistry(),
		events: make([]demux.Event, o.eventBatch),
		done:   make(chan struct{}),
	}
	var lfd int
	if ln != nil {
		if err := netutil.ValidateTCP(ln); err != nil {
			return nil, errors.Wrap(err, "invalid listener")
		}
		fd, err := netutil.GetFD(ln)
		if err != nil {
			return nil, errors.Wrap(err, "get listener fd")
		}
		lfd = fd
	}
	d, err := o.newDemux()
	if err != nil {
		return nil, errors.Wrap(err, "create demultiplexer")
	}
	l.demux = d
	if o.mode == Offload {
		if o.pool != nil {
			l.pool = o.pool
		} else {
			pool, err := NewWorkerPool(WithWorkers(o.workers), WithQueueSize(o.queueSize),
				WithOverloadPolicy(o.overloadPolicy), WithSubmitTimeout(o.submitTimeout))
			if err != nil {
				d.Close()
				return nil, err
			}
			l.pool, l.ownPool = pool, true
		}
	}
	if ln != nil {
		l.acc = &acceptor{fd: lfd, loop: l}
	}
	return l, nil
}

// Start runs the loop on a new goroutine.
func (l *EventLoop) Start() error {
	if !l.state.CompareAndSwap(stateIdle, stateRunning) {
		if l.state.Load() == stateStopped {
			return ErrLoopStopped
		}
		return ErrLoopStarted
	}
	go l.run()
	return nil
}

// Stop stops accepting, lets every connection flush its pending output for
// at most the drain timeout, then releases all resources. It blocks until
// the loop has stopped and must not be called from a Processor running inline.
// Called from a Processor on a worker, it returns once the drain timeout
// elapsed, since the calling task itself is still in flight. Tasks still
// running on an owned pool are not waited for, their completions are dropped.
func (l *EventLoop) Stop() error {
	for {
		switch l.state.Load() {
		case stateIdle:
			if l.state.CompareAndSwap(stateIdle, stateStopped) {
				l.release()
				close(l.done)
				return nil
			}
		case stateRunning:
			if l.state.CompareAndSwap(stateRunning, stateStopping) {
				if err := l.demux.Wakeup(); err != nil && !errors.Is(err, demux.ErrClosed) {
					log.Warnf("wake loop for stop: %v", err)
				}
				<-l.done
				return nil
			}
		default:
			<-l.done
			return nil
		}
	}
}

// Serve starts the loop and blocks until ctx is done, then stops it. It
// returns the error that stopped the loop early, if any.
func (l *EventLoop) Serve(ctx context.Context) error {
	if err := l.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		l.Stop()
	case <-l.done:
	}
	return l.Err()
}

// IsRunning reports whether the loop is started and not stopping.
func (l *EventLoop) IsRunning() bool {
	return l.state.Load() == stateRunning
}

// Done is closed once the loop has stopped.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that stopped the loop, nil after a regular Stop.
// It is only meaningful once Done is closed.
func (l *EventLoop) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Addr returns the listener address, nil if the loop has no listener.
func (l *EventLoop) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// NumConns returns the number of connections owned by the loop.
func (l *EventLoop) NumConns() int {
	return int(l.numConns.Load())
}

// load counts owned connections plus the ones on their way in.
func (l *EventLoop) load() int {
	return int(l.numConns.Load() + l.adopting.Load())
}

// Complete implements CompletionSink. It is called by workers.
func (l *EventLoop) Complete(c Completion) {
	if !l.inbox.push(c) {
		metrics.Add(metrics.CompletionsDiscarded, 1)
		return
	}
	if err := l.demux.Wakeup(); err != nil && !errors.Is(err, demux.ErrClosed) {
		log.Warnf("wake loop for completion: %v", err)
	}
}

// adopt hands an accepted descriptor to l. It is called by the accepting loop.
func (l *EventLoop) adopt(fd int, remote net.Addr) {
	l.adopting.Inc()
	if !l.inbox.push(adoption{fd: fd, remote: remote}) {
		l.adopting.Dec()
		closeAdopted(fd, remote)
		return
	}
	metrics.Add(metrics.ConnsAdopted, 1)
	if err := l.demux.Wakeup(); err != nil && !errors.Is(err, demux.ErrClosed) {
		log.Warnf("wake loop for adoption: %v", err)
	}
}

func (l *EventLoop) run() {
	l.now = time.Now()
	if l.acc != nil {
		if err := l.demux.Register(l.acc.fd, demux.Acceptable); err != nil {
			l.finish(errors.Wrap(err, "register listener"))
			return
		}
		l.reg.add(l.acc.fd, l.acc)
	}
	for {
		n, err := l.demux.Wait(l.waitTimeout(), l.events)
		if err != nil {
			l.pollErrors++
			if l.pollErrors >= l.opts.maxPollErrors {
				l.finish(errors.Wrapf(err, "%d consecutive demultiplexer failures", l.pollErrors))
				return
			}
			log.Errorf("loop wait failed (%d/%d): %v", l.pollErrors, l.opts.maxPollErrors, err)
			time.Sleep(l.opts.pollErrorBackoff)
			n = 0
		} else {
			l.pollErrors = 0
		}
		if l.cycle(n) {
			l.finish(nil)
			return
		}
	}
}

// cycle handles n events and the inbox, and reports whether the loop is done.
func (l *EventLoop) cycle(n int) bool {
	start := time.Now()
	l.now = start
	l.cycles++
	l.dispatch(l.events[:n])
	l.drainInbox()
	l.sweepIdle()
	if l.acc != nil {
		l.acc.resume(l.now)
	}
	latency := time.Since(start)
	metrics.Add(metrics.DispatchCycles, 1)
	metrics.Add(metrics.DispatchNanos, uint64(latency))
	l.opts.observer.OnCycle(n, latency)
	if l.state.Load() == stateStopping {
		return l.drainStep()
	}
	return false
}

func (l *EventLoop) dispatch(events []demux.Event) {
	for _, ev := range events {
		h := l.reg.get(ev.FD)
		// A handler registered in this cycle took over a descriptor number
		// the event was reported for.
		if h == nil || h.cycle() == l.cycles {
			metrics.Add(metrics.StaleEvents, 1)
			continue
		}
		l.handle(h, ev)
	}
}

func (l *EventLoop) handle(h handler, ev demux.Event) {
	defer l.recoverHandler(h)
	if err := h.onReady(ev); err != nil {
		h.close(err)
	}
}

// recoverHandler closes h when it panicked, the panic stops here.
func (l *EventLoop) recoverHandler(h handler) {
	if r := recover(); r != nil {
		metrics.Add(metrics.HandlerPanics, 1)
		log.Errorf("handler panic: %v\n%s", r, debug.Stack())
		h.close(fmt.Errorf("handler panic: %v", r))
	}
}

func (l *EventLoop) drainInbox() {
	var more bool
	l.msgs, more = l.inbox.pop(l.msgs[:0], l.opts.completionBatch)
	for i, m := range l.msgs {
		switch m := m.(type) {
		case Completion:
			l.applyCompletion(m)
		case adoption:
			l.adopting.Dec()
			if l.draining {
				closeAdopted(m.fd, m.remote)
				continue
			}
			l.addConn(&fdSocket{sysfd: m.fd}, m.remote)
		}
		l.msgs[i] = nil
	}
	l.msgs = l.msgs[:0]
	l.backlog = more
}

func (l *EventLoop) applyCompletion(comp Completion) {
	c := l.reg.conn(comp.ConnID)
	if c == nil {
		metrics.Add(metrics.CompletionsDiscarded, 1)
		return
	}
	defer l.recoverHandler(c)
	if err := c.complete(comp); err != nil {
		c.close(err)
	}
}

// addConn registers a new connection for reading.
func (l *EventLoop) addConn(sock socket, remote net.Addr) {
	fd := sock.fd()
	if err := l.demux.Register(fd, demux.Readable); err != nil {
		log.Errorf("register conn fd %d (%v): %v", fd, remote, err)
		sock.close()
		return
	}
	c := &connHandler{
		id:         connIDs.Inc(),
		loop:       l,
		sock:       sock,
		remote:     remote,
		born:       l.cycles,
		interest:   demux.Readable,
		rbuf:       mcache.Malloc(l.opts.readBufferSize),
		lastActive: l.now,
	}
	l.reg.add(fd, c)
	l.numConns.Inc()
	metrics.Add(metrics.ConnsCreate, 1)
	l.opts.observer.OnConnOpened(c.id)
	if l.draining {
		c.shutdown()
	}
}

func (l *EventLoop) unregister(fd int) {
	if c, ok := l.reg.get(fd).(*connHandler); ok && c != nil {
		l.numConns.Dec()
	}
	l.reg.remove(fd)
}

func (l *EventLoop) sweepIdle() {
	d := l.opts.idleTimeout
	if d <= 0 || l.now.Before(l.nextSweep) {
		return
	}
	l.nextSweep = l.now.Add(d / 2)
	for _, c := range l.reg.connections() {
		// A task in flight still owes the peer an output chunk.
		if c.inflight > 0 {
			continue
		}
		if l.now.Sub(c.lastActive) >= d {
			c.close(ErrIdleTimeout)
		}
	}
}

// waitTimeout is the poll interval, shortened by the nearest timer.
func (l *EventLoop) waitTimeout() time.Duration {
	if l.backlog {
		return 0
	}
	timeout := l.opts.pollInterval
	shorten := func(at time.Time) {
		if at.IsZero() {
			return
		}
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		if timeout < 0 || d < timeout {
			timeout = d
		}
	}
	if l.draining {
		shorten(l.deadline)
	}
	if l.opts.idleTimeout > 0 {
		shorten(l.nextSweep)
	}
	if l.acc != nil {
		shorten(l.acc.resumeAt)
	}
	return timeout
}

// drainStep runs while stopping and reports whether the loop may exit.
func (l *EventLoop) drainStep() bool {
	if !l.draining {
		l.draining = true
		l.deadline = l.now.Add(l.opts.drainTimeout)
		if l.acc != nil {
			l.acc.close(nil)
		}
		for _, c := range l.reg.connections() {
			c.shutdown()
		}
	}
	if l.reg.numConns() == 0 {
		return true
	}
	if !l.now.Before(l.deadline) {
		log.Warnf("drain timeout, force closing %d connections", l.reg.numConns())
		for _, c := range l.reg.connections() {
			c.close(errDrainTimeout)
		}
		return true
	}
	return false
}

// finish closes whatever is left and marks the loop stopped. err is the
// fatal error, nil for a regular stop.
func (l *EventLoop) finish(err error) {
	if err != nil {
		log.Errorf("event loop stopped: %v", err)
	}
	closeErr := err
	if closeErr == nil {
		closeErr = ErrLoopStopped
	}
	for _, c := range l.reg.connections() {
		c.close(closeErr)
	}
	if l.acc != nil {
		l.acc.close(nil)
	}
	l.err = err
	l.release()
	l.state.Store(stateStopped)
	close(l.done)
}

// release frees the resources that are not tied to connections.
func (l *EventLoop) release() {
	for _, m := range l.inbox.close() {
		if a, ok := m.(adoption); ok {
			l.adopting.Dec()
			closeAdopted(a.fd, a.remote)
		}
	}
	if err := l.demux.Close(); err != nil {
		log.Warnf("close demultiplexer: %v", err)
	}
	// A Processor may be stopping the loop from one of these workers.
	if l.ownPool {
		l.pool.shutdown()
	}
	if l.ln != nil {
		l.ln.Close()
	}
}
