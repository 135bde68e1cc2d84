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
	"net"
	"time"

	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/reactor/demux"
	"trpc.group/trpc-go/reactor/internal/netutil"
	"trpc.group/trpc-go/reactor/log"
	"trpc.group/trpc-go/reactor/metrics"
)

// acceptor accepts connections on a listening descriptor and hands them to
// the loop chosen by the balancer, or registers them locally.
type acceptor struct {
	fd      int
	loop    *EventLoop
	balance LoadBalance
	closed  bool

	// resumeAt is set while accepting is paused after a hard accept error.
	resumeAt time.Time
}

func (a *acceptor) cycle() uint64 {
	return 0
}

// onReady implements handler.
func (a *acceptor) onReady(ev demux.Event) error {
	if ev.Hangup {
		log.Warnf("listener fd %d reported hang up", a.fd)
	}
	if ev.Ready&demux.Acceptable == 0 {
		return nil
	}
	for i := 0; i < a.loop.opts.maxAcceptsPerCycle; i++ {
		fd, sa, err := netutil.Accept(a.fd)
		if err != nil {
			if netutil.IsWouldBlock(err) {
				return nil
			}
			if netutil.IsTemporary(err) {
				continue
			}
			// EMFILE and friends: the listener stays readable, so back
			// off instead of spinning on it.
			metrics.Add(metrics.AcceptFails, 1)
			log.Warnf("accept on fd %d: %v, paused for %v", a.fd, err, a.loop.opts.pollErrorBackoff)
			return a.pause()
		}
		a.setup(fd)
		remote := netutil.SockaddrToAddr(sa)
		target := a.loop
		if a.balance != nil {
			if l := a.balance.Pick(); l != nil {
				target = l
			}
		}
		if target == a.loop {
			a.loop.addConn(&fdSocket{sysfd: fd}, remote)
		} else {
			target.adopt(fd, remote)
		}
	}
	return nil
}

func (a *acceptor) setup(fd int) {
	opts := a.loop.opts
	if opts.noDelay {
		if err := netutil.SetNoDelay(fd, true); err != nil {
			log.Debugf("set nodelay on fd %d: %v", fd, err)
		}
	}
	if opts.tcpKeepAlive > 0 {
		secs := int(opts.tcpKeepAlive / time.Second)
		if secs < 1 {
			secs = 1
		}
		if err := netutil.SetKeepAlive(fd, secs); err != nil {
			log.Debugf("set keepalive on fd %d: %v", fd, err)
		}
	}
}

func (a *acceptor) pause() error {
	if err := a.loop.demux.Modify(a.fd, demux.None); err != nil {
		return err
	}
	a.resumeAt = a.loop.now.Add(a.loop.opts.pollErrorBackoff)
	return nil
}

// resume re-arms a paused acceptor once its backoff elapsed.
func (a *acceptor) resume(now time.Time) {
	if a.closed || a.resumeAt.IsZero() || now.Before(a.resumeAt) {
		return
	}
	a.resumeAt = time.Time{}
	if err := a.loop.demux.Modify(a.fd, demux.Acceptable); err != nil {
		log.Errorf("resume accepting on fd %d: %v", a.fd, err)
		a.close(err)
	}
}

// close implements handler. It stops accepting, the listener itself is
// closed by the loop.
func (a *acceptor) close(err error) {
	if a.closed {
		return
	}
	a.closed = true
	if derr := a.loop.demux.Deregister(a.fd); derr != nil {
		log.Debugf("deregister listener fd %d: %v", a.fd, derr)
	}
	a.loop.unregister(a.fd)
	if err != nil {
		log.Errorf("stop accepting on fd %d: %v", a.fd, err)
	}
}

// closeAdopted closes a descriptor accepted but never registered.
func closeAdopted(fd int, remote net.Addr) {
	if err := unix.Close(fd); err != nil {
		log.Debugf("close unadopted fd %d (%v): %v", fd, remote, err)
	}
}
