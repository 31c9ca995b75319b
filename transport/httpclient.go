package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPClient is the net/http-backed default transport. Token requests do
// not follow redirects; token endpoints answer directly per OAuth 2.0.
type HTTPClient struct {
	client *http.Client
	now    func() time.Time
}

var _ Client = (*HTTPClient)(nil)

// HTTPClientOption adjusts the default transport.
type HTTPClientOption func(*HTTPClient)

// WithNowFunc overrides the clock used for absolute Retry-After values.
func WithNowFunc(now func() time.Time) HTTPClientOption {
	return func(c *HTTPClient) {
		c.now = now
	}
}

// NewHTTPClient wraps an *http.Client; pass nil for sane defaults.
func NewHTTPClient(client *http.Client, options ...HTTPClientOption) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	wrapped := &http.Client{
		Transport: client.Transport,
		Timeout:   client.Timeout,
		Jar:       client.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	c := &HTTPClient{client: wrapped, now: time.Now}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Dispatch implements Client.
func (c *HTTPClient) Dispatch(ctx context.Context, req TokenRequest, slot *MetadataSlot) (*Response, error) {
	slot.Take()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, strings.NewReader(req.Body))
	if err != nil {
		return nil, &Error{Kind: ErrOther, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	for name, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyDispatchError(err)
	}
	defer resp.Body.Close()

	slot.Store(ResponseMetadata{
		Status:     resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
	})

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrBody, Err: err}
	}

	return &Response{Status: resp.StatusCode, Body: body}, nil
}

func classifyDispatchError(err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Preserve ctx errors so callers can branch on cancellation.
		return &Error{Kind: ErrTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrTimeout, Err: err}
	}

	var tlsCertErr *tls.CertificateVerificationError
	var tlsRecordErr tls.RecordHeaderError
	if errors.As(err, &tlsCertErr) || errors.As(err, &tlsRecordErr) {
		return &Error{Kind: ErrTLS, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Kind: ErrConnect, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: ErrConnect, Err: err}
	}

	return &Error{Kind: ErrOther, Err: err}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms; a hint in
// the past collapses to zero (no hint).
func parseRetryAfter(raw string, now time.Time) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if moment, err := http.ParseTime(raw); err == nil {
		if delta := moment.Sub(now); delta > 0 {
			return delta
		}
	}

	return 0
}
