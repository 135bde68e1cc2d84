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

package main

import (
	"bytes"
	"fmt"

	"trpc.group/trpc-go/reactor"
)

var transforms = map[string]reactor.Processor{
	"echo": reactor.Echo,
	"upper": reactor.ProcessorFunc(func(_ uint64, in []byte) ([]byte, error) {
		return bytes.ToUpper(in), nil
	}),
	"reverse": reactor.ProcessorFunc(func(_ uint64, in []byte) ([]byte, error) {
		for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
			in[i], in[j] = in[j], in[i]
		}
		return in, nil
	}),
}

func processor(name string) (reactor.Processor, error) {
	p, ok := transforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return p, nil
}
