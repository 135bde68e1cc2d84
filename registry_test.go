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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := newRegistry()
	a := &acceptor{fd: 3}
	c := &connHandler{id: 7, sock: &fakeSocket{sysfd: 4}}
	r.add(3, a)
	r.add(4, c)

	assert.Equal(t, a, r.get(3))
	assert.Equal(t, c, r.conn(7))
	assert.Equal(t, 1, r.numConns())
	assert.Len(t, r.connections(), 1)

	assert.PanicsWithValue(t, "bug: fd 4 registered twice", func() {
		r.add(4, &connHandler{id: 8})
	})

	r.remove(4)
	r.remove(4)
	assert.Nil(t, r.get(4))
	assert.Nil(t, r.conn(7))
	assert.Equal(t, 0, r.numConns())
}
