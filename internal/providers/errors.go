package providers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/featherdev/feather/internal/llm"
)

// wrapError normalizes an SDK error into *llm.LLMError with whatever status
// and Retry-After metadata can be recovered from it.
func wrapError(provider string, err error, status int, retryAfter string) error {
	if err == nil {
		return nil
	}
	if status == 0 {
		status = statusFromMessage(err.Error())
	}
	le := &llm.LLMError{
		Provider:  provider,
		Status:    status,
		Retryable: retryableStatus(status),
		Err:       err,
	}
	if d, ok := parseRetryAfter(retryAfter); ok {
		le.RetryAfter = d
	} else if d, ok := retryAfterFromMessage(err.Error()); ok {
		le.RetryAfter = d
	}
	return le
}

func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests || status >= 500
}

// statusFromMessage is a fallback for SDK errors that do not expose a typed
// status code. The interesting codes appear verbatim in the message.
func statusFromMessage(msg string) int {
	for _, code := range []int{429, 500, 502, 503, 504, 408, 400, 401, 402, 403, 404, 422} {
		if strings.Contains(msg, strconv.Itoa(code)) {
			return code
		}
	}
	return 0
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func retryAfterFromMessage(msg string) (time.Duration, bool) {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"retry-after:", "retry-after", "retry after"} {
		idx := strings.Index(lower, marker)
		if idx == -1 {
			continue
		}
		rest := strings.Fields(msg[idx+len(marker):])
		if len(rest) == 0 {
			continue
		}
		if d, ok := parseRetryAfter(strings.Trim(rest[0], ":,;")); ok {
			return d, true
		}
	}
	return 0, false
}
