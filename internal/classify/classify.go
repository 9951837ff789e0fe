// Package classify maps raw provider failures onto the error taxonomy.
// The retryable bit is the only thing the worker acts on; the kind feeds
// analytics and dashboards.
package classify

import (
	"errors"
	"strings"

	"github.com/notifyhub/dispatch/internal/domain"
)

// networkCodes are transport-level error codes that always warrant a retry.
var networkCodes = map[string]bool{
	"ETIMEDOUT":    true,
	"ECONNREFUSED": true,
	"ENOTFOUND":    true,
	"ECONNRESET":   true,
}

// Classify maps a provider failure to its taxonomy bucket and retryability.
// Rules are evaluated top to bottom; first match wins.
func Classify(err error) (domain.ErrorKind, bool) {
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		pe = &domain.ProviderError{Message: err.Error()}
	}

	msg := strings.ToLower(pe.Message)

	switch {
	case networkCodes[pe.ErrorCode],
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "network"):
		return domain.KindNetwork, true

	case pe.StatusCode == 429,
		strings.Contains(msg, "rate limit"):
		return domain.KindRateLimit, true

	case pe.StatusCode == 502, pe.StatusCode == 503,
		strings.Contains(msg, "service unavailable"):
		return domain.KindNetwork, true

	case pe.StatusCode == 401, pe.StatusCode == 403,
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"):
		return domain.KindAuthentication, false

	case pe.StatusCode == 400,
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "bad request"):
		return domain.KindInvalidData, false

	case pe.ProviderName != "":
		// Provider-tagged failure that matched nothing above.
		return domain.KindProvider, true
	}

	// Unknown failure: retry conservatively.
	return domain.KindRetryable, true
}
