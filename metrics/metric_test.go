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

package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/reactor/metrics"
)

func TestMetrics(t *testing.T) {
	base := metrics.Get(metrics.ReadCalls)
	metrics.Add(metrics.ReadCalls, 1)
	assert.Equal(t, base+1, metrics.Get(metrics.ReadCalls))
	metrics.Add(metrics.ReadCalls, 1)
	assert.Equal(t, base+2, metrics.Get(metrics.ReadCalls))

	metrics.Add(metrics.Max+1, 1)
	metrics.Add(-1, 1)
	assert.Equal(t, uint64(0), metrics.Get(metrics.Max+1))
	assert.Equal(t, uint64(0), metrics.Get(-1))

	metrics.Add(metrics.EpollWait, 9)
	metrics.Add(metrics.EpollEvents, 99)
	metrics.Add(metrics.WriteCalls, 191)
	metrics.Add(metrics.WriteBytes, 1191)
	metrics.Add(metrics.ReadBytes, 1191)
	metrics.Add(metrics.DispatchCycles, 3)
	metrics.Add(metrics.DispatchNanos, 3000)
	all := metrics.GetAll()
	assert.Equal(t, metrics.Get(metrics.WriteBytes), all[metrics.WriteBytes])
	metrics.ShowMetrics()
	metrics.ShowMetricsOfPeriod(time.Millisecond)
}
