package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrBlocked indicates the upstream refused the request outright
// (HTTP 403 or 429).
type ErrBlocked struct {
	Status int
	Err    error
}

func (e ErrBlocked) Error() string {
	return fmt.Errorf("blocked (status %d): %w", e.Status, e.Err).Error()
}

func (e ErrBlocked) Unwrap() error {
	return e.Err
}

// ErrCaptcha indicates a challenge page was served instead of results.
type ErrCaptcha struct {
	Marker string
}

func (e ErrCaptcha) Error() string {
	return fmt.Sprintf("captcha challenge detected (%q)", e.Marker)
}

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		return ErrBlocked{Status: statusCode, Err: wrapped}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	return err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return "blocked"
	}
	var captcha ErrCaptcha
	if errors.As(err, &captcha) {
		return "captcha"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	return "other"
}
