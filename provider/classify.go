package provider

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ultraai/orchestrator/model"
)

// defaultRateLimitPattern and defaultOverloadPattern are the built-in
// "provider rate-limit regex" / "overloaded" body-classification rules.
// ClassifyHTTP takes the table as a parameter, but the openaicompat adapters
// always pass DefaultRegexTable(); no configuration file is read for these
// patterns, so changing them is a code change.
var (
	defaultRateLimitPattern = regexp.MustCompile(`(?i)rate.?limit|too many requests|quota`)
	defaultOverloadPattern  = regexp.MustCompile(`(?i)overloaded|server_error|service unavailable`)
)

// RegexTable is the per-provider configuration for body-pattern
// classification, kept separate from the HTTP-status table so it can be
// updated as providers change their error bodies without a code change.
type RegexTable struct {
	RateLimit *regexp.Regexp
	Overload  *regexp.Regexp
}

// DefaultRegexTable returns the built-in patterns.
func DefaultRegexTable() RegexTable {
	return RegexTable{RateLimit: defaultRateLimitPattern, Overload: defaultOverloadPattern}
}

// ClassifyHTTP maps an HTTP status + response body to the normalized
// five-way status table from spec §4.1. It never returns model.StatusOK —
// callers only call this on an observed failure (status >= 400, or a
// successful-looking response that failed schema validation).
func ClassifyHTTP(status int, body string, retryAfter string, table RegexTable) model.OutputStatus {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.StatusInvalidKey
	case status == http.StatusTooManyRequests:
		return model.StatusRateLimited
	case retryAfter != "" && parseRetryAfter(retryAfter) != nil:
		return model.StatusRateLimited
	case table.RateLimit != nil && table.RateLimit.MatchString(body):
		return model.StatusRateLimited
	case status >= 500:
		return model.StatusProviderError
	case table.Overload != nil && table.Overload.MatchString(body):
		return model.StatusProviderError
	default:
		return model.StatusProviderError
	}
}

// ClassifyTransportError maps a network-layer error (DNS failure, connection
// reset, timeout) from an http.Client.Do call to a status. Deadline
// exceeded or explicit cancellation maps to timeout/cancelled respectively;
// everything else is a provider_error.
func ClassifyTransportError(ctx context.Context, err error) model.OutputStatus {
	if ctx.Err() == context.Canceled {
		return model.StatusCancelled
	}
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return model.StatusTimeout
	}
	return model.StatusProviderError
}

// ParseRetryAfter parses an HTTP Retry-After header, which may be either a
// delay in seconds or an HTTP-date. Returns nil if unparseable.
func parseRetryAfter(v string) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// ParseRetryAfter is the exported form, used by the retry handler (C2) to
// honor a provider-supplied delay in place of the computed backoff.
func ParseRetryAfter(v string) (time.Duration, bool) {
	d := parseRetryAfter(v)
	if d == nil {
		return 0, false
	}
	return *d, true
}
