// Package netutil provides the socket setup shared by every TCP listener in
// the fabric: explicit SO_REUSEADDR/SO_REUSEPORT (so a restarted component
// can immediately re-bind its port) and single-accepted-connection-at-a-time
// limiting (invariant I1).
package netutil

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/net/netutil"
	"golang.org/x/sys/unix"
)

// ListenReusable binds a TCP listener on addr with SO_REUSEADDR and
// SO_REUSEPORT set before bind, via a net.ListenConfig.Control callback.
func ListenReusable(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
					return
				}
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
	return lc.Listen(ctx, "tcp", addr)
}

// LimitToOne wraps ln so that at most one connection is accepted at a time,
// expressing invariant I1 ("exactly one accepted connection per sensor per
// side") as a library call instead of hand-rolled accept-then-reject logic.
// A second dialer simply waits until the first connection is closed.
func LimitToOne(ln net.Listener) net.Listener {
	return netutil.LimitListener(ln, 1)
}
