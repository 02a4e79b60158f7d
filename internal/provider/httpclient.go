package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// HTTPClient wraps net/http with bounded retries and exponential backoff.
// Auth and quota failures are surfaced immediately; only transient failures
// trigger another attempt.
type HTTPClient struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

// NewHTTPClient builds a client with the supplied timeout, retry count and
// initial backoff, applying defaults for zero values.
func NewHTTPClient(timeout time.Duration, retries int, backoff time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if backoff == 0 {
		backoff = 300 * time.Millisecond
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}, retries: retries, backoff: backoff}
}

// DoJSON posts body as JSON and decodes the response into out. The request
// body is re-marshaled per attempt so retries never reuse a drained reader.
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Error{Kind: ErrKindInvalid, Message: err.Error()}
		}
		payload = b
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return Error{Kind: ErrKindInvalid, Message: err.Error()}
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = classifyTransportErr(ctx, err)
		} else {
			lastErr = c.consume(resp, out)
			if lastErr == nil {
				return nil
			}
			var pe Error
			if errors.As(lastErr, &pe) && !pe.Retryable() {
				return lastErr
			}
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return Error{Kind: ErrKindTimeout, Message: ctx.Err().Error()}
			}
		}
	}
	return lastErr
}

func (c *HTTPClient) consume(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Error{Kind: ErrKindInvalid, Status: resp.StatusCode, Message: "decode response: " + err.Error()}
		}
		return nil
	}
	// best-effort body snippet for the error message
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return Error{Kind: classifyStatus(resp.StatusCode), Status: resp.StatusCode, Message: resp.Status + ": " + string(b)}
}

func classifyStatus(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrKindAuth
	case code == http.StatusTooManyRequests || code == http.StatusPaymentRequired:
		return ErrKindQuota
	case code >= 500:
		return ErrKindTransient
	default:
		return ErrKindInvalid
	}
}

func classifyTransportErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return Error{Kind: ErrKindTimeout, Message: err.Error()}
	}
	return Error{Kind: ErrKindTransient, Message: err.Error()}
}
