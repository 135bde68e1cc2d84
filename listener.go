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
	"net"

	goreuseport "github.com/kavu/go_reuseport"
	"github.com/pkg/errors"
)

// Listen announces on the local network address. The network must be
// "tcp", "tcp4", "tcp6" or "unix".
func Listen(network, address string) (net.Listener, error) {
	if err := checkNetwork(network); err != nil {
		return nil, err
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s", network, address)
	}
	return ln, nil
}

// ListenReusePort announces on the local tcp address with SO_REUSEPORT set,
// so several listeners can share it and the kernel spreads connections.
func ListenReusePort(network, address string) (net.Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("network %s does not support reuseport", network)
	}
	ln, err := goreuseport.Listen(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s with reuseport", network, address)
	}
	return ln, nil
}

func checkNetwork(network string) error {
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
		return nil
	default:
		return fmt.Errorf("network %s is not support", network)
	}
}
