package vesync

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient builds the client used for the cloud API. The transport
// negotiates HTTP/2 and pings idle connections so that a dead connection
// is noticed before the next poll rather than after a request timeout.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	h2, err := http2.ConfigureTransports(transport)
	if err != nil {
		return nil, fmt.Errorf("configuring http2 transport: %w", err)
	}
	h2.ReadIdleTimeout = 30 * time.Second
	h2.PingTimeout = 15 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
