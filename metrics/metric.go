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

// Package metrics provides process wide runtime counters of the reactor,
// such as bytes moved per syscall, wakeups and overload rejections,
// which is a good tool for performance tuning.
package metrics

import (
	"time"

	"go.uber.org/atomic"
	"trpc.group/trpc-go/reactor/log"
)

// All metrics definitions.
const (
	// The following constants are connection metrics.

	ConnsCreate = iota
	ConnsClose
	ConnsAdopted
	AcceptFails
	ReadCalls
	ReadFails
	ReadBytes
	WriteCalls
	WriteFails
	WriteBlocks
	WriteBytes
	ReadPaused

	// The following constants are dispatch metrics.

	DispatchCycles
	DispatchNanos
	HandlerPanics
	StaleEvents
	CompletionsApplied
	CompletionsDiscarded
	TasksSubmitted
	TasksOverloaded

	// The following constants are demultiplexer metrics.

	EpollWait
	EpollWaitFails
	EpollEvents
	Wakeups

	// Keep it last.

	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name < 0 || name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name < 0 || name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	cur := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = cur[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	log.Info("######### reactor metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showConnMetrics(m)
	showDispatchMetrics(m)
	showDemuxMetrics(m)
}

func showConnMetrics(m [Max]uint64) {
	log.Infof("%-59s: %d", "# CONN - number of connections created", m[ConnsCreate])
	log.Infof("%-59s: %d", "# CONN - number of connections closed", m[ConnsClose])
	log.Infof("%-59s: %d", "# CONN - number of connections handed to other loops", m[ConnsAdopted])
	log.Infof("%-59s: %d", "# CONN - number of failed accept calls", m[AcceptFails])
	log.Infof("%-59s: %d", "# CONN - number of read system calls", m[ReadCalls])
	log.Infof("%-59s: %d", "# CONN - number of failed read system calls", m[ReadFails])
	if readSucc := m[ReadCalls] - m[ReadFails]; readSucc > 0 {
		log.Infof("%-59s: %dB", "# CONN - read efficiency", m[ReadBytes]/readSucc)
	}
	log.Infof("%-59s: %d", "# CONN - number of writev system calls", m[WriteCalls])
	log.Infof("%-59s: %d", "# CONN - number of failed writev system calls", m[WriteFails])
	log.Infof("%-59s: %d", "# CONN - number of writes stopped by backpressure", m[WriteBlocks])
	if writeSucc := m[WriteCalls] - m[WriteFails]; writeSucc > 0 {
		log.Infof("%-59s: %dB", "# CONN - writev efficiency", m[WriteBytes]/writeSucc)
	}
	log.Infof("%-59s: %d", "# CONN - number of times reading paused by pending output", m[ReadPaused])
}

func showDispatchMetrics(m [Max]uint64) {
	log.Infof("%-59s: %d", "# LOOP - number of dispatch cycles", m[DispatchCycles])
	if m[DispatchCycles] > 0 {
		log.Infof("%-59s: %v", "# LOOP - average dispatch latency",
			time.Duration(m[DispatchNanos]/m[DispatchCycles]))
	}
	log.Infof("%-59s: %d", "# LOOP - number of handler panics", m[HandlerPanics])
	log.Infof("%-59s: %d", "# LOOP - number of stale events", m[StaleEvents])
	log.Infof("%-59s: %d", "# LOOP - number of completions applied", m[CompletionsApplied])
	log.Infof("%-59s: %d", "# LOOP - number of completions discarded", m[CompletionsDiscarded])
	log.Infof("%-59s: %d", "# POOL - number of tasks submitted", m[TasksSubmitted])
	log.Infof("%-59s: %d", "# POOL - number of tasks rejected by overload", m[TasksOverloaded])
}

func showDemuxMetrics(m [Max]uint64) {
	log.Infof("%-59s: %d", "# DEMUX - number of wait returns", m[EpollWait])
	log.Infof("%-59s: %d", "# DEMUX - number of failed waits", m[EpollWaitFails])
	log.Infof("%-59s: %d", "# DEMUX - number of total events", m[EpollEvents])
	log.Infof("%-59s: %d", "# DEMUX - number of wakeups", m[Wakeups])
	if m[EpollWait] > 0 {
		log.Infof("%-59s: %.2f", "# DEMUX - average events number per wait",
			float32(m[EpollEvents])/float32(m[EpollWait]))
	}
}
