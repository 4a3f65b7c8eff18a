package httpclient

import (
	"net"
	"net/http"
	"syscall"
	"time"
)

// AddressChecker vets the concrete IP address a connection is about to use
type AddressChecker interface {
	CheckAddress(ip string) error
}

// NewTransport creates a configured HTTP transport optimized for performance.
// The transport is reused across requests for connection pooling.
// When checker is non-nil every dial is re-validated against it, so a DNS
// answer that changes between the host check and the connect is still caught.
func NewTransport(checker AddressChecker) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if checker != nil {
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			return checker.CheckAddress(host)
		}
	}

	return &http.Transport{
		Proxy:       nil,
		DialContext: dialer.DialContext,

		// Maximum number of idle connections across all hosts
		MaxIdleConns: 100,

		// Maximum number of idle connections per host
		MaxIdleConnsPerHost: 10,

		// How long an idle connection stays in the pool
		IdleConnTimeout: 90 * time.Second,

		// Timeout for TLS handshake
		TLSHandshakeTimeout: 10 * time.Second,

		// Timeout for expecting response headers after request is sent
		ResponseHeaderTimeout: 10 * time.Second,

		// Bodies are decoded by the fetcher so the byte cap sees decoded bytes
		DisableCompression: true,

		// Enable HTTP/2 support
		ForceAttemptHTTP2: true,
	}
}
