//go:build !windows

package transport

import "syscall"

// setSocketBuffers sets a large receive buffer for high-BDP downloads
// (e.g. satellite links with ~1MB bandwidth-delay product). SNDBUF is left
// at the kernel default so upload byte counting stays accurate — a large send buffer would let bytes leave the
// application before they actually hit the wire.
func setSocketBuffers(network, address string, c syscall.RawConn) error {
	var seterr error
	err := c.Control(func(fd uintptr) {
		if e := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, 2<<20); e != nil {
			seterr = e
		}
	})
	if err != nil {
		return err
	}
	return seterr
}
