package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProviderError is a send the mail provider did not accept.
type ProviderError struct {
	// Provider is the adapter name, "webhook" or "ses".
	Provider string
	// StatusCode is the relay's HTTP status; zero when no response arrived.
	StatusCode int
	// Code is the provider's own error code, e.g. an SES exception name.
	Code      string
	Message   string
	Transient bool
	Cause     error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("send via ")
	if e.Provider != "" {
		b.WriteString(e.Provider)
	} else {
		b.WriteString("mail provider")
	}
	b.WriteString(" failed")

	switch {
	case e.StatusCode > 0 && e.Code != "":
		fmt.Fprintf(&b, " (status %d, %s)", e.StatusCode, e.Code)
	case e.StatusCode > 0:
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	case e.Code != "":
		fmt.Fprintf(&b, " (%s)", e.Code)
	}

	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// requestFailed wraps an error raised before any provider response was read.
// Everything except caller cancellation is worth another attempt.
func requestFailed(providerName, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:  providerName,
		Message:   message,
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

// invalidMessage rejects a message before it leaves the process.
func invalidMessage(providerName string, err error) *ProviderError {
	return &ProviderError{Provider: providerName, Message: "invalid message", Cause: err}
}

// IsTransient reports whether a failed send could succeed if retried.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
