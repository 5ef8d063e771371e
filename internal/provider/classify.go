package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"clanker/internal/domain"
)

// classifyStatus maps an upstream HTTP status to the agent error taxonomy.
// 401/403 mean rejected credentials, 429 is a rate limit (with an optional
// Retry-After hint), everything >= 500 is an upstream failure. Any other
// non-2xx status means the request itself was malformed, which retrying
// cannot fix.
func classifyStatus(providerName string, status int, body string, retryAfter time.Duration) *domain.AgentError {
	err := fmt.Errorf("HTTP %d: %s", status, body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewAgentError(domain.AgentAuth, providerName, err)
	case status == http.StatusTooManyRequests:
		ae := domain.NewAgentError(domain.AgentRateLimited, providerName, err)
		ae.RetryAfter = retryAfter
		return ae
	case status >= 500:
		return domain.NewAgentError(domain.AgentProvider, providerName, err)
	default:
		return domain.NewAgentError(domain.AgentInvalidResponse, providerName, err)
	}
}

// classifyTransport maps a failure with no HTTP response. Cancellation passes
// through untouched so callers can tell shutdown from a flaky network; an
// exceeded deadline is a timed-out call and counts as a network failure.
func classifyTransport(providerName string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewAgentError(domain.AgentNetwork, providerName, err)
}

// parseRetryAfter reads a Retry-After header value in seconds. Returns zero
// when absent or unparseable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
