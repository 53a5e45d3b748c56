package a2aclient

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPTransport creates an http.Transport for short request/response calls
// such as card fetches and tasks/cancel.
func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
	}
}

// NewStreamTransport creates an http.Transport for long-lived SSE task streams.
// Header and idle deadlines are enforced per call by the client and the relay.
func NewStreamTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       0,
		ResponseHeaderTimeout: 0,
		TLSHandshakeTimeout:   10 * time.Second,
	}
}
