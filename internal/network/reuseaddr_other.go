//go:build !linux && !windows

package network

import (
	"net"
	"time"
)

// ReuseAddrListenConfig returns a plain ListenConfig on platforms without
// an SO_REUSEADDR override.
func ReuseAddrListenConfig(keepAlive time.Duration) net.ListenConfig {
	return net.ListenConfig{KeepAlive: keepAlive}
}
