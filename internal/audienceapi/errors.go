package audienceapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/pkg/httpretry"
)

// APIError is a classified failure from the audience service. It
// implements domain.ClassifiableError so the retry layer can judge it
// without knowing anything about HTTP.
type APIError struct {
	StatusCode     int
	Code           int
	Message        string
	Category       domain.ErrorCategory
	RetryAfterHint time.Duration
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("audience API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("audience API error (status %d)", e.StatusCode)
}

func (e *APIError) ErrorCategory() domain.ErrorCategory { return e.Category }

func (e *APIError) RetryAfter() time.Duration { return e.RetryAfterHint }

// newAPIError builds an APIError from a non-2xx response. The body is
// expected to carry the usual metadata envelope but anything else is
// tolerated; the raw text becomes the message.
func newAPIError(statusCode int, header http.Header, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Category:   categoryForStatus(statusCode),
	}

	var envelope struct {
		Metadata ResponseMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Metadata.Message != "" {
		apiErr.Message = envelope.Metadata.Message
		apiErr.Code = envelope.Metadata.Code
	} else {
		apiErr.Message = truncate(strings.TrimSpace(string(body)), 200)
	}

	if apiErr.Category == domain.ErrorCategoryRateLimit {
		apiErr.RetryAfterHint = httpretry.ParseRetryAfter(header.Get("Retry-After"))
	}

	return apiErr
}

// protocolError marks a 2xx response whose body cannot be trusted.
func protocolError(statusCode int, msg string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    msg,
		Category:   domain.ErrorCategoryProtocol,
	}
}

func categoryForStatus(statusCode int) domain.ErrorCategory {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.ErrorCategoryAuthentication
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrorCategoryRateLimit
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return domain.ErrorCategoryTimeout
	case statusCode >= 500:
		return domain.ErrorCategoryServer
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return domain.ErrorCategoryValidation
	default:
		return domain.ErrorCategoryUnknown
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
