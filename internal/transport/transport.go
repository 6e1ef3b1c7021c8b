// Package transport builds the HTTP transports and clients used by the
// stream manager and latency probe. Adapted from the teacher's
// cfspeedtest/speedtest/transport.go: forced HTTP/1.1 (one TCP connection
// per worker keeps byte accounting attributable to a single stream),
// optional interface binding, and large socket buffers for high-BDP links.
package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gravitational/trace"
)

// Options configures transport construction.
type Options struct {
	// Interface, if non-empty, binds outbound connections to the named
	// network interface's first IPv4 address.
	Interface string
	// MaxConns bounds idle-connection pooling for throughput transports;
	// ignored by NewWorkerTransport.
	MaxConns int
}

// NewWorkerTransport builds a transport for a single stream worker: one
// TCP connection (MaxIdleConnsPerHost=1), HTTP/1.1 forced so multiplexing
// can't blur per-worker byte counts.
func NewWorkerTransport(opts Options) (*http.Transport, error) {
	t := &http.Transport{
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 1,
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if opts.Interface != "" {
		addr, err := ResolveInterfaceAddr(opts.Interface)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		dialer.LocalAddr = addr
	}
	t.DialContext = dialer.DialContext
	return t, nil
}

// NewThroughputTransport builds a shared transport for a pool of
// concurrent throughput workers: larger idle-connection pool, 256KB
// read/write buffers, large TCP socket buffers for high-bandwidth-delay
// links (e.g. satellite), and disabled compression (the server already
// discourages it via headers; this is belt-and-suspenders on our side).
func NewThroughputTransport(opts Options) (*http.Transport, error) {
	maxConns := opts.MaxConns
	if maxConns < 1 {
		maxConns = 1
	}
	t := &http.Transport{
		ForceAttemptHTTP2:   false,
		MaxIdleConns:        maxConns + 4,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     0,
		IdleConnTimeout:     30 * time.Second,
		WriteBufferSize:     256 << 10,
		ReadBufferSize:      256 << 10,
		DisableCompression:  true,
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	dialer.Control = setSocketBuffers
	if opts.Interface != "" {
		addr, err := ResolveInterfaceAddr(opts.Interface)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		dialer.LocalAddr = addr
	}
	t.DialContext = dialer.DialContext
	return t, nil
}

// NewClient wraps a transport in an *http.Client with the given timeout.
func NewClient(t http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: t}
}

// ResolveInterfaceAddr finds the first IPv4 address on the named interface
// and returns a TCP address suitable for net.Dialer.LocalAddr.
func ResolveInterfaceAddr(name string) (*net.TCPAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, trace.Wrap(err, "interface %q", name)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, trace.Wrap(err, "interface %q addrs", name)
	}
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.To4() == nil {
			continue
		}
		return &net.TCPAddr{IP: ip}, nil
	}
	return nil, trace.NotFound("interface %q has no IPv4 address", name)
}
