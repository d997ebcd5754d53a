//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package core

import "syscall"

// listenControl is a no-op where SO_REUSEPORT is unavailable.
func listenControl(Options) func(network, address string, c syscall.RawConn) error {
	return nil
}
