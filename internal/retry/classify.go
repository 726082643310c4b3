// Package retry decides whether a submission failure is worth another
// attempt and how long to wait before it.
//
// Classification is fail-closed: an error that cannot be positively
// identified as transient is treated as fatal so a broken payload or a
// revoked credential never spins through the retry budget.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/ignite/list-loader/internal/domain"
)

// Floor delays applied when the error carries no server hint.
const (
	RateLimitFloor = 5 * time.Second
	ServerFloor    = 2 * time.Second
	NetworkFloor   = 2 * time.Second
	TimeoutFloor   = 3 * time.Second
)

// Classification is the verdict for one failed attempt. Delay is only
// meaningful when Retryable is true; a zero Delay tells the caller to
// fall back to Backoff.
type Classification struct {
	Category  domain.ErrorCategory
	Retryable bool
	Delay     time.Duration
}

// Classify maps an error to a retry verdict. Errors implementing
// domain.ClassifiableError are judged by their declared category;
// anything else is probed for network/timeout shapes and otherwise
// treated as unknown, which is fatal.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: domain.ErrorCategoryUnknown}
	}

	var cerr domain.ClassifiableError
	if errors.As(err, &cerr) {
		return classifyCategory(cerr.ErrorCategory(), cerr.RetryAfter())
	}

	return classifyCategory(probe(err), 0)
}

func classifyCategory(cat domain.ErrorCategory, hint time.Duration) Classification {
	switch cat {
	case domain.ErrorCategoryAuthentication, domain.ErrorCategoryValidation:
		return Classification{Category: cat}

	case domain.ErrorCategoryRateLimit:
		delay := RateLimitFloor
		if hint > 0 {
			delay = hint
		}
		return Classification{Category: cat, Retryable: true, Delay: delay}

	case domain.ErrorCategoryServer, domain.ErrorCategoryProtocol:
		return Classification{Category: cat, Retryable: true, Delay: ServerFloor}

	case domain.ErrorCategoryTimeout:
		return Classification{Category: cat, Retryable: true, Delay: TimeoutFloor}

	case domain.ErrorCategoryNetwork:
		return Classification{Category: cat, Retryable: true, Delay: NetworkFloor}

	default:
		return Classification{Category: domain.ErrorCategoryUnknown}
	}
}

// probe inspects plain errors for transport-level failure shapes.
func probe(err error) domain.ErrorCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorCategoryTimeout
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return domain.ErrorCategoryTimeout
		}
		return domain.ErrorCategoryNetwork
	}

	return domain.ErrorCategoryUnknown
}
