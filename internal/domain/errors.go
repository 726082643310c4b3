package domain

import "time"

// ErrorCategory tags a submission failure with its cause class. The retry
// classifier keys every decision off this tag.
type ErrorCategory string

const (
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryRateLimit      ErrorCategory = "rate_limit"
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryProtocol       ErrorCategory = "protocol"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// ClassifiableError is implemented by errors that know their own category.
// The submission client produces these; anything else falls back to the
// classifier's transport-level inspection.
type ClassifiableError interface {
	error
	ErrorCategory() ErrorCategory
	// RetryAfter returns the server-provided wait hint, or 0 when the
	// producer supplied none.
	RetryAfter() time.Duration
}
