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
	"reflect"
	"sync"

	"go.uber.org/atomic"
)

// Builtin balancer names.
const (
	// RoundRobin hands accepted connections to the loops in turn.
	RoundRobin = "RoundRobin"
	// LeastConns hands an accepted connection to the loop owning the fewest connections.
	LeastConns = "LeastConns"
)

var (
	lbs    = make(map[string]BalanceBuilder)
	lbsMux = sync.RWMutex{}
)

func init() {
	RegisterBalanceBuilder(RoundRobin, func() LoadBalance { return &roundRobinLB{} })
	RegisterBalanceBuilder(LeastConns, func() LoadBalance { return &leastConnsLB{} })
}

// BalanceBuilder creates a LoadBalance for one Group.
type BalanceBuilder func() LoadBalance

// LoadBalance picks the loop that will own an accepted connection.
// Pick is only called from the accepting loop goroutine.
type LoadBalance interface {
	// Name returns the name of the LoadBalance.
	Name() string

	// Register adds a loop. All loops are registered before the first Pick.
	Register(*EventLoop)

	// Pick picks a loop.
	Pick() *EventLoop

	// Len returns the number of registered loops.
	Len() int
}

// GetBalanceBuilder gets the BalanceBuilder registered under name, or nil.
func GetBalanceBuilder(name string) BalanceBuilder {
	lbsMux.RLock()
	builder := lbs[name]
	lbsMux.RUnlock()
	return builder
}

// RegisterBalanceBuilder registers a BalanceBuilder, replacing any builder of the same name.
func RegisterBalanceBuilder(name string, builder BalanceBuilder) {
	lbv := reflect.ValueOf(builder)
	if builder == nil || lbv.Kind() == reflect.Ptr && lbv.IsNil() {
		panic("loadbalance: register nil loadbalance")
	}
	if name == "" {
		panic("loadbalance: register empty name of loadbalance")
	}
	lbsMux.Lock()
	lbs[name] = builder
	lbsMux.Unlock()
}

type roundRobinLB struct {
	loops    []*EventLoop
	accepted atomic.Uint64
}

func (r *roundRobinLB) Name() string {
	return RoundRobin
}

func (r *roundRobinLB) Register(l *EventLoop) {
	r.loops = append(r.loops, l)
}

func (r *roundRobinLB) Pick() *EventLoop {
	if len(r.loops) == 0 {
		return nil
	}
	idx := (r.accepted.Inc() - 1) % uint64(len(r.loops))
	return r.loops[idx]
}

func (r *roundRobinLB) Len() int {
	return len(r.loops)
}

type leastConnsLB struct {
	loops []*EventLoop
}

func (b *leastConnsLB) Name() string {
	return LeastConns
}

func (b *leastConnsLB) Register(l *EventLoop) {
	b.loops = append(b.loops, l)
}

// Pick returns the first loop with the fewest connections. Adoptions still
// in flight are counted by the target loop, so bursts spread evenly.
func (b *leastConnsLB) Pick() *EventLoop {
	var best *EventLoop
	bestN := 0
	for _, l := range b.loops {
		if n := l.load(); best == nil || n < bestN {
			best, bestN = l, n
		}
	}
	return best
}

func (b *leastConnsLB) Len() int {
	return len(b.loops)
}
