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

package log_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/reactor/log"
)

func TestLog(t *testing.T) {
	old := log.Default
	defer func() { log.Default = old }()
	log.Default = &noopLogger{}
	log.Debug("test")
	log.Debugf("test")
	log.Info("test")
	log.Infof("test")
	log.Warn("test")
	log.Warnf("test")
	log.Error("test")
	log.Errorf("test")
}

func TestSetLevel(t *testing.T) {
	assert.Nil(t, log.SetLevel("debug"))
	assert.Nil(t, log.SetLevel("info"))
	assert.NotNil(t, log.SetLevel("verbose"))
}

func TestFileLogger(t *testing.T) {
	name := filepath.Join(t.TempDir(), "reactor.log")
	l := log.NewFileLogger(log.FileConfig{Filename: name, MaxSize: 1})
	l.Infof("hello %s", "file")
	l.Debugf("filtered at info level")

	b, err := os.ReadFile(name)
	assert.Nil(t, err)
	assert.True(t, strings.Contains(string(b), "hello file"))
	assert.False(t, strings.Contains(string(b), "filtered"))
}

type noopLogger struct{}

func (*noopLogger) Debug(args ...any)                 {}
func (*noopLogger) Debugf(format string, args ...any) {}
func (*noopLogger) Info(args ...any)                  {}
func (*noopLogger) Infof(format string, args ...any)  {}
func (*noopLogger) Warn(args ...any)                  {}
func (*noopLogger) Warnf(format string, args ...any)  {}
func (*noopLogger) Error(args ...any)                 {}
func (*noopLogger) Errorf(format string, args ...any) {}
