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

package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures a rotating log file.
type FileConfig struct {
	// Filename is the file to write logs to.
	Filename string
	// MaxSize is the maximum size in megabytes before rotation, 0 means 100.
	MaxSize int
	// MaxAge is the maximum number of days to retain old files, 0 keeps them all.
	MaxAge int
	// MaxBackups is the maximum number of old files to retain, 0 keeps them all.
	MaxBackups int
	// Stdout also writes every entry to standard output.
	Stdout bool
}

// NewFileLogger returns a Logger writing to a rotating file. It shares the
// level set by SetLevel with Default.
func NewFileLogger(cfg FileConfig) Logger {
	ws := []zapcore.WriteSyncer{zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	})}
	if cfg.Stdout {
		ws = append(ws, zapcore.AddSync(os.Stdout))
	}
	fileEncoder := encoderConfig
	fileEncoder.EncodeLevel = zapcore.CapitalLevelEncoder
	return zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(fileEncoder),
			zap.CombineWriteSyncers(ws...),
			level,
		),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	).Named("reactor").Sugar()
}
