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

//go:build linux
// +build linux

package reactor_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/reactor"
)

var upper = reactor.ProcessorFunc(func(_ uint64, in []byte) ([]byte, error) {
	return bytes.ToUpper(in), nil
})

func startLoop(t *testing.T, p reactor.Processor, opts ...reactor.Option) *reactor.EventLoop {
	t.Helper()
	ln, err := reactor.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	l, err := reactor.NewEventLoop(ln, p, opts...)
	require.Nil(t, err)
	require.Nil(t, l.Start())
	t.Cleanup(func() { l.Stop() })
	return l
}

func roundTrip(t *testing.T, conn net.Conn, msg, want string) {
	t.Helper()
	_, err := conn.Write([]byte(msg))
	require.Nil(t, err)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, len(want))
	_, err = io.ReadFull(conn, buf)
	require.Nil(t, err)
	assert.Equal(t, want, string(buf))
}

func TestEventLoopEcho(t *testing.T) {
	l := startLoop(t, upper, reactor.WithWorkers(2))
	assert.True(t, l.IsRunning())
	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer conn.Close()

	roundTrip(t, conn, "hello", "HELLO")
	roundTrip(t, conn, "again", "AGAIN")
	assert.Equal(t, 1, l.NumConns())
}

func TestEventLoopInline(t *testing.T) {
	l := startLoop(t, upper, reactor.WithProcessMode(reactor.Inline))
	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer conn.Close()
	roundTrip(t, conn, "inline", "INLINE")
}

func TestEventLoopManyClients(t *testing.T) {
	const clients = 100
	l := startLoop(t, reactor.Echo, reactor.WithWorkers(4))

	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", l.Addr().String())
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			msg := []byte(fmt.Sprintf("client-%03d", i))
			for round := 0; round < 10; round++ {
				if _, err := conn.Write(msg); err != nil {
					errs <- err
					return
				}
				conn.SetReadDeadline(time.Now().Add(5 * time.Second))
				buf := make([]byte, len(msg))
				if _, err := io.ReadFull(conn, buf); err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(buf, msg) {
					errs <- fmt.Errorf("client %d got %q", i, buf)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.Nil(t, err)
	}
}

func TestEventLoopBackpressure(t *testing.T) {
	const total = 8 << 20
	l := startLoop(t, reactor.Echo, reactor.WithWorkers(2),
		reactor.WithReadHighWatermark(256<<10), reactor.WithMaxPendingOutput(1<<20))
	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer conn.Close()

	payload := make([]byte, total)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	writeErr := make(chan error, 1)
	go func() {
		_, err := conn.Write(payload)
		writeErr <- err
	}()
	// Let the server pile up output while nobody reads.
	time.Sleep(200 * time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(20 * time.Second))
	got := make([]byte, total)
	_, err = io.ReadFull(conn, got)
	require.Nil(t, err)
	require.Nil(t, <-writeErr)
	assert.True(t, bytes.Equal(payload, got))
}

func TestEventLoopWakeupLatency(t *testing.T) {
	slow := reactor.ProcessorFunc(func(_ uint64, in []byte) ([]byte, error) {
		time.Sleep(20 * time.Millisecond)
		return in, nil
	})
	l := startLoop(t, slow, reactor.WithWorkers(1), reactor.WithPollInterval(10*time.Second))
	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer conn.Close()

	start := time.Now()
	roundTrip(t, conn, "ping", "ping")
	assert.Less(t, int64(time.Since(start)), int64(2*time.Second))
}

func TestEventLoopPeerClose(t *testing.T) {
	l := startLoop(t, reactor.Echo, reactor.WithWorkers(1))
	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	roundTrip(t, conn, "x", "x")
	conn.Close()
	require.Eventually(t, func() bool { return l.NumConns() == 0 }, 5*time.Second, time.Millisecond)
}

func TestEventLoopHalfClose(t *testing.T) {
	l := startLoop(t, reactor.Echo, reactor.WithWorkers(1))
	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("last words"))
	require.Nil(t, err)
	require.Nil(t, conn.(*net.TCPConn).CloseWrite())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(conn)
	require.Nil(t, err)
	assert.Equal(t, "last words", string(got))
}

func TestEventLoopProcessorError(t *testing.T) {
	p := reactor.ProcessorFunc(func(_ uint64, in []byte) ([]byte, error) {
		if string(in) == "fail" {
			return nil, fmt.Errorf("refused")
		}
		return in, nil
	})
	l := startLoop(t, p, reactor.WithWorkers(1))
	bad, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer bad.Close()
	good, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer good.Close()

	_, err = bad.Write([]byte("fail"))
	require.Nil(t, err)
	bad.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = bad.Read(make([]byte, 1))
	assert.NotNil(t, err)

	roundTrip(t, good, "ok", "ok")
}

func TestEventLoopStop(t *testing.T) {
	ln, err := reactor.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	l, err := reactor.NewEventLoop(ln, reactor.Echo, reactor.WithWorkers(1))
	require.Nil(t, err)
	require.Nil(t, l.Start())
	assert.Equal(t, reactor.ErrLoopStarted, l.Start())

	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer conn.Close()
	roundTrip(t, conn, "x", "x")

	require.Nil(t, l.Stop())
	require.Nil(t, l.Stop())
	select {
	case <-l.Done():
	default:
		t.Fatal("loop not done after Stop")
	}
	assert.Nil(t, l.Err())
	assert.False(t, l.IsRunning())
	assert.Equal(t, 0, l.NumConns())
	assert.Equal(t, reactor.ErrLoopStopped, l.Start())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.NotNil(t, err)
	_, err = net.DialTimeout("tcp", l.Addr().String(), time.Second)
	assert.NotNil(t, err)
}

func TestEventLoopServe(t *testing.T) {
	ln, err := reactor.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	l, err := reactor.NewEventLoop(ln, reactor.Echo, reactor.WithProcessMode(reactor.Inline))
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx) }()
	require.Eventually(t, l.IsRunning, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-served:
		assert.Nil(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestNewEventLoopErrors(t *testing.T) {
	_, err := reactor.NewEventLoop(nil, nil)
	assert.Equal(t, reactor.ErrNilProcessor, err)
	_, err = reactor.NewEventLoop(nil, reactor.Echo, reactor.WithWorkers(-1))
	assert.NotNil(t, err)

	// A loop never started can still be stopped.
	l, err := reactor.NewEventLoop(nil, reactor.Echo)
	require.Nil(t, err)
	assert.Nil(t, l.Addr())
	assert.Nil(t, l.Stop())
	assert.Equal(t, reactor.ErrLoopStopped, l.Start())
}

func TestEventLoopObserver(t *testing.T) {
	obs := &countObserver{}
	l := startLoop(t, reactor.Echo, reactor.WithProcessMode(reactor.Inline), reactor.WithObserver(obs))
	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	roundTrip(t, conn, "abc", "abc")
	conn.Close()
	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.closed == 1
	}, 5*time.Second, time.Millisecond)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.opened)
	assert.Equal(t, 3, obs.read)
	assert.Equal(t, 3, obs.written)
	assert.Greater(t, obs.cycles, 0)
}

type countObserver struct {
	reactor.NopObserver
	mu                            sync.Mutex
	opened, closed, read, written int
	cycles                        int
}

func (o *countObserver) OnConnOpened(uint64) {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *countObserver) OnConnClosed(uint64, error) {
	o.mu.Lock()
	o.closed++
	o.mu.Unlock()
}

func (o *countObserver) OnRead(_ uint64, n int) {
	o.mu.Lock()
	o.read += n
	o.mu.Unlock()
}

func (o *countObserver) OnWrite(_ uint64, n int) {
	o.mu.Lock()
	o.written += n
	o.mu.Unlock()
}

func (o *countObserver) OnCycle(int, time.Duration) {
	o.mu.Lock()
	o.cycles++
	o.mu.Unlock()
}

func TestEventLoopStopFromWorker(t *testing.T) {
	loops := make(chan *reactor.EventLoop, 1)
	returned := make(chan struct{})
	stopper := reactor.ProcessorFunc(func(_ uint64, in []byte) ([]byte, error) {
		(<-loops).Stop()
		close(returned)
		return in, nil
	})
	l := startLoop(t, stopper, reactor.WithWorkers(1), reactor.WithDrainTimeout(100*time.Millisecond))
	loops <- l
	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("x"))
	require.Nil(t, err)

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop called from a worker did not return")
	}
	<-l.Done()
	assert.Nil(t, l.Err())
	assert.False(t, l.IsRunning())
}

func TestEventLoopIdleTimeoutWaitsForWorker(t *testing.T) {
	slow := reactor.ProcessorFunc(func(_ uint64, in []byte) ([]byte, error) {
		time.Sleep(400 * time.Millisecond)
		return bytes.ToUpper(in), nil
	})
	l := startLoop(t, slow, reactor.WithWorkers(1), reactor.WithIdleTimeout(100*time.Millisecond))
	conn, err := net.Dial("tcp", l.Addr().String())
	require.Nil(t, err)
	defer conn.Close()
	roundTrip(t, conn, "ping", "PING")

	// Without traffic the connection is still closed for idleness.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}
