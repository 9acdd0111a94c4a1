package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// retryDelay is the pause before the first retry; it doubles per attempt
var retryDelay = 250 * time.Millisecond

// NewHTTPClient returns a client whose connect, TLS handshake and response
// header waits are bounded by timeout. Transient connection failures are
// retried transparently up to retries times. Set callTimeout to bound the
// whole exchange including the body, or zero to leave it to the caller.
func NewHTTPClient(timeout, callTimeout time.Duration, retries int) *http.Client {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Transport: &retryTransport{base: base, retries: retries},
		Timeout:   callTimeout,
	}
}

// retryTransport re-issues idempotent requests whose connection could not
// be established or was dropped before any response arrived
type retryTransport struct {
	base    http.RoundTripper
	retries int
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	delay := retryDelay

	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req)
		if err == nil || attempt >= t.retries || !retryable(req, err) {
			return resp, err
		}

		logrus.WithFields(logrus.Fields{
			"url":     req.URL.Redacted(),
			"attempt": attempt + 1,
		}).Debugf("Retrying after connection failure: %v", err)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// retryable reports whether err is a connection-level failure on a request
// that can safely be sent again
func retryable(req *http.Request, err error) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isTLSError(err) {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
