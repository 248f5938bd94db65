// Package httpx holds the shared client for outbound notification
// delivery.
package httpx

import (
	"net"
	"net/http"
	"time"
)

// Webhook posts are small and all go to the single campus relay, so
// the pool stays narrow and idle connections are dropped early.
var outbound = &http.Client{
	Timeout: 15 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        8,
		MaxConnsPerHost:     8,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     60 * time.Second,
	},
}

func Outbound() *http.Client { return outbound }
