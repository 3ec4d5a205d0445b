// Package retry decides what to do with a failed upstream call: wait it
// out, rotate to another account, or give up.
package retry

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/howard-nolan/geminigate/internal/gemini"
)

// Action is the decision for one failed attempt.
type Action int

const (
	// NoRetry surfaces the error to the client as-is.
	NoRetry Action = iota
	// WaitAndRetry sleeps Decision.DelayMS milliseconds and retries the
	// same account.
	WaitAndRetry
	// RotateAccount retries immediately on the next account.
	RotateAccount
)

// String returns the action name for logging.
func (a Action) String() string {
	switch a {
	case WaitAndRetry:
		return "wait_and_retry"
	case RotateAccount:
		return "rotate_account"
	default:
		return "no_retry"
	}
}

// Decision pairs an Action with its wait time (WaitAndRetry only).
type Decision struct {
	Action  Action
	DelayMS int64
}

// waitThresholdMS is the longest upstream-suggested delay we will sit
// through on the same account; anything longer rotates instead.
const waitThresholdMS = 5000

// waitPaddingMS is added on top of the upstream's suggested delay so we
// don't come back a hair too early and get limited again.
const waitPaddingMS = 200

// durationRunRE matches one <number><unit> run inside a Go-style duration
// string like "1h16m0.667923083s". time.ParseDuration is too strict for
// what upstreams actually send (stray spaces, bare runs), so the runs are
// matched and summed by hand.
var durationRunRE = regexp.MustCompile(`([\d.]+)\s*(ms|s|m|h)`)

// ParseDurationMS parses a duration string into milliseconds, rounding to
// the nearest whole millisecond. Returns false when no <number><unit> run
// is found.
func ParseDurationMS(s string) (int64, bool) {
	matches := durationRunRE.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, false
	}

	total := 0.0
	for _, m := range matches {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil || math.IsInf(value, 0) || math.IsNaN(value) {
			continue
		}
		switch m[2] {
		case "ms":
			total += value
		case "s":
			total += value * 1000
		case "m":
			total += value * 60 * 1000
		case "h":
			total += value * 60 * 60 * 1000
		}
	}
	return int64(math.Round(total)), true
}

// errorDetail is the slice of one error-details entry we care about.
// Everything else in the entry is ignored.
type errorDetail struct {
	Type       string `json:"@type"`
	RetryDelay string `json:"retryDelay"`
	Metadata   struct {
		QuotaResetDelay string `json:"quotaResetDelay"`
	} `json:"metadata"`
}

// ParseRetryDelayMS digs the suggested retry delay out of a 429 error
// body. RetryInfo.retryDelay wins over metadata.quotaResetDelay. A
// details entry that doesn't decode is skipped, not fatal.
func ParseRetryDelayMS(body string) (int64, bool) {
	var env gemini.ErrorResponse
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return 0, false
	}

	details := make([]errorDetail, 0, len(env.Error.Details))
	for _, raw := range env.Error.Details {
		var d errorDetail
		if json.Unmarshal(raw, &d) == nil {
			details = append(details, d)
		}
	}

	for _, d := range details {
		// The @type is a full URL like
		// "type.googleapis.com/google.rpc.RetryInfo"; substring match
		// keeps us independent of the host part.
		if !strings.Contains(d.Type, "RetryInfo") || d.RetryDelay == "" {
			continue
		}
		if ms, ok := ParseDurationMS(d.RetryDelay); ok {
			return ms, true
		}
	}
	for _, d := range details {
		if d.Metadata.QuotaResetDelay == "" {
			continue
		}
		if ms, ok := ParseDurationMS(d.Metadata.QuotaResetDelay); ok {
			return ms, true
		}
	}
	return 0, false
}

// Decide maps a failed attempt's status code and body to an Action.
//
//   - 429 with a parsable delay <= 5s: wait delay+200ms, same account
//   - 429 otherwise: rotate
//   - 403 / 404: rotate (the account lacks access, waiting won't help)
//   - anything else: don't retry
func Decide(status int, body string) Decision {
	switch status {
	case 429:
		if ms, ok := ParseRetryDelayMS(body); ok && ms <= waitThresholdMS {
			return Decision{Action: WaitAndRetry, DelayMS: ms + waitPaddingMS}
		}
		return Decision{Action: RotateAccount}
	case 403, 404:
		return Decision{Action: RotateAccount}
	default:
		return Decision{Action: NoRetry}
	}
}

// ShouldRetryEmpty reports whether a completed stream that produced no
// content at all should be retried. Only normal terminations qualify; a
// safety block that produced nothing is final.
func ShouldRetryEmpty(hasContent bool, finishReason string) bool {
	if hasContent {
		return false
	}
	switch finishReason {
	case "MAX_TOKENS", "STOP", "max_tokens", "stop", "length":
		return true
	default:
		return false
	}
}
