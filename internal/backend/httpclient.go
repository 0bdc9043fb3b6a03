package backend

import (
	"net"
	"net/http"
	"time"
)

// newPooledHTTPClient builds a tuned *http.Client: a connection-pooled
// Transport sized for a handful of concurrent per-call backend requests
// plus a fixed connect/read/write budget (default 60s each).
func newPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = 16
	}
	transport := &http.Transport{
		MaxIdleConns:        poolSize * 2,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
