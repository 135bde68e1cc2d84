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

	"trpc.group/trpc-go/reactor/demux"
)

// handler reacts to the readiness of one registered descriptor.
// Every method runs on the loop goroutine.
type handler interface {
	// onReady handles one event. A returned error closes the handler.
	onReady(ev demux.Event) error
	// close releases the descriptor, it is idempotent.
	close(err error)
	// cycle returns the loop cycle in which the handler was registered.
	cycle() uint64
}

// registry maps descriptors to their handlers. It also indexes
// connections by id, for completions. It is owned by the loop goroutine.
type registry struct {
	handlers map[int]handler
	conns    map[uint64]*connHandler
}

func newRegistry() *registry {
	return &registry{
		handlers: make(map[int]handler),
		conns:    make(map[uint64]*connHandler),
	}
}

// add registers h for fd. A descriptor is registered at most once, a
// second add is a bug in the loop.
func (r *registry) add(fd int, h handler) {
	if _, ok := r.handlers[fd]; ok {
		panic(fmt.Sprintf("bug: fd %d registered twice", fd))
	}
	r.handlers[fd] = h
	if c, ok := h.(*connHandler); ok {
		r.conns[c.id] = c
	}
}

// remove drops fd, unknown descriptors are ignored.
func (r *registry) remove(fd int) {
	h, ok := r.handlers[fd]
	if !ok {
		return
	}
	delete(r.handlers, fd)
	if c, ok := h.(*connHandler); ok {
		delete(r.conns, c.id)
	}
}

func (r *registry) get(fd int) handler {
	return r.handlers[fd]
}

func (r *registry) conn(id uint64) *connHandler {
	return r.conns[id]
}

// numConns returns the number of registered connections.
func (r *registry) numConns() int {
	return len(r.conns)
}

// connections returns a snapshot, so callers may close while iterating.
func (r *registry) connections() []*connHandler {
	cs := make([]*connHandler, 0, len(r.conns))
	for _, c := range r.conns {
		cs = append(cs, c)
	}
	return cs
}
