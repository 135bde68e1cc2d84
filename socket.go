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

// ioStatus tells how a non-blocking read or write ended.
type ioStatus int

const (
	// ioDone: the call transferred bytes, or failed with the returned error.
	ioDone ioStatus = iota
	// ioWouldBlock: nothing more can be transferred until the next readiness event.
	ioWouldBlock
	// ioEOF: the peer closed its write side.
	ioEOF
)

func (s ioStatus) String() string {
	switch s {
	case ioDone:
		return "done"
	case ioWouldBlock:
		return "would block"
	case ioEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// socket is the non-blocking byte stream a connection handler drives.
type socket interface {
	// fd returns the descriptor registered in the demultiplexer.
	fd() int
	// read reads once into b.
	read(b []byte) (int, ioStatus, error)
	// writev writes bs in order, once. A short count means the kernel
	// buffer is full.
	writev(bs [][]byte) (int, ioStatus, error)
	close() error
}

// maxIovecs bounds the chunks passed to one writev call.
const maxIovecs = 64
