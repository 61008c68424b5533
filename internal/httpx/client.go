package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/sncast/internal/errors"
)

const userAgent = "sncast/1.0"

// Transport retries JSON-RPC requests that only read node state. Requests
// that carry a starknet_add* method are sent exactly once: a retried
// submission could broadcast a transaction twice.
type Transport struct {
	base    http.RoundTripper
	retries int
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewTransport(base http.RoundTripper, retries int) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if retries < 0 {
		retries = 0
	}
	return &Transport{base: base, retries: retries, sleep: sleepContext}
}

// New returns an http.Client wired with a retrying Transport.
func New(timeout time.Duration, retries int) *http.Client {
	return &http.Client{Timeout: timeout, Transport: NewTransport(nil, retries)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	var body []byte
	if req.Body != nil {
		buf, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "read request body", err)
		}
		body = buf
	}
	retries := t.retries
	if !ReadOnly(body) {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := t.sleep(req.Context(), backoff(attempt)); err != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", err)
			}
		}

		attemptReq := req.Clone(req.Context())
		if body != nil {
			attemptReq.Body = io.NopCloser(bytes.NewReader(body))
			attemptReq.ContentLength = int64(len(body))
			attemptReq.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < retries {
				continue
			}
			return nil, lastErr
		}
		if retryableStatus(resp.StatusCode) && attempt < retries {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			continue
		}
		return resp, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

// ReadOnly reports whether a JSON-RPC body (single call or batch) contains
// only methods that are safe to resend.
func ReadOnly(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	type envelope struct {
		Method string `json:"method"`
	}
	var calls []envelope
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &calls); err != nil {
			return false
		}
	} else {
		var single envelope
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return false
		}
		calls = []envelope{single}
	}
	for _, c := range calls {
		if c.Method == "" || strings.HasPrefix(c.Method, "starknet_add") {
			return false
		}
	}
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
		}
	}
	return clierr.Wrap(clierr.CodeUnavailable, "provider request failed", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
