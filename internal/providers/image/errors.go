package image

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"teamshots/internal/providers/genai"
	"teamshots/internal/providers/qwen"
)

// Code is the provider-agnostic error category.
type Code string

const (
	CodeInvalidAPIKey   Code = "INVALID_API_KEY"
	CodeQuotaExceeded   Code = "QUOTA_EXCEEDED"
	CodeSafetyViolation Code = "SAFETY_VIOLATION"
	CodeTimeout         Code = "TIMEOUT"
	CodeUnknown         Code = "UNKNOWN_ERROR"
)

// Retryable reports whether a call failing with c may be attempted again.
func (c Code) Retryable() bool {
	switch c {
	case CodeInvalidAPIKey, CodeSafetyViolation:
		return false
	default:
		return true
	}
}

// ProviderError is the normalized failure of a provider call.
type ProviderError struct {
	Code      Code
	Retryable bool
	Provider  string
	Message   string
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError whose retryability follows code.
func NewProviderError(code Code, provider, message string, err error) *ProviderError {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &ProviderError{Code: code, Retryable: code.Retryable(), Provider: provider, Message: message, Err: err}
}

// CodeOf returns the normalized code of err.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return Normalize("", err).Code
}

// Normalize maps any provider or transport error onto the shared taxonomy.
func Normalize(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return NewProviderError(classify(err), provider, "", err)
}

func classify(err error) Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	if errors.Is(err, genai.ErrMissingAPIKey) || errors.Is(err, qwen.ErrMissingAPIKey) {
		return CodeInvalidAPIKey
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return CodeSafetyViolation
	}
	var gErr *genai.APIError
	if errors.As(err, &gErr) {
		if code := classifyStatus(gErr.StatusCode, gErr.Status+" "+gErr.Message); code != "" {
			return code
		}
	}
	var qErr *qwen.APIError
	if errors.As(err, &qErr) {
		switch {
		case qErr.Code == "InvalidApiKey":
			return CodeInvalidAPIKey
		case strings.HasPrefix(qErr.Code, "Throttling"):
			return CodeQuotaExceeded
		case qErr.Code == "DataInspectionFailed" || qErr.Code == "IPInfringementSuspect":
			return CodeSafetyViolation
		case qErr.Code == "RequestTimeOut":
			return CodeTimeout
		}
		if code := classifyStatus(qErr.StatusCode, qErr.Message); code != "" {
			return code
		}
	}
	return classifyMessage(err.Error())
}

func classifyStatus(status int, text string) Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeInvalidAPIKey
	case http.StatusTooManyRequests:
		return CodeQuotaExceeded
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return CodeTimeout
	}
	if code := classifyMessage(text); code != CodeUnknown {
		return code
	}
	if status >= 500 {
		return CodeUnknown
	}
	return ""
}

func classifyMessage(msg string) Code {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "api key not valid"), strings.Contains(msg, "api_key_invalid"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "permission_denied"):
		return CodeInvalidAPIKey
	case strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate limit"):
		return CodeQuotaExceeded
	case strings.Contains(msg, "safety"), strings.Contains(msg, "blocked"),
		strings.Contains(msg, "inappropriate"):
		return CodeSafetyViolation
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline_exceeded"):
		return CodeTimeout
	default:
		return CodeUnknown
	}
}
