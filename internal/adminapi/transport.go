// ABOUTME: Outbound HTTP client for calls to shops, with optional request/response logging
// ABOUTME: Logs method, URL, status and duration; never bodies, which carry credentials

package adminapi

import (
	"log/slog"
	"net/http"
	"time"
)

// LoggingTransport logs every outbound request.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	elapsed := time.Since(start)

	target := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	if err != nil {
		t.Logger.Warn("outbound request failed", "method", req.Method, "url", target, "duration", elapsed, "error", err)
		return nil, err
	}
	t.Logger.Info("outbound request", "method", req.Method, "url", target, "status", resp.StatusCode, "duration", elapsed)
	return resp, nil
}

// NewHTTPClient returns the client used for requests to shops.
func NewHTTPClient(timeout time.Duration, logRequests bool, logger *slog.Logger) *http.Client {
	var transport http.RoundTripper = http.DefaultTransport
	if logRequests {
		transport = &LoggingTransport{Base: transport, Logger: logger.With("component", "adminapi")}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
