package agent

import "regexp"

// classifyWindow bounds how much trailing error text is scanned for
// failure signatures. CLIs print the operative error last; scanning
// megabytes of earlier output only invites false positives.
const classifyWindow = 2000

// RetryablePatterns identify provider-side failure signatures that may
// clear on their own: rate limits, quota exhaustion, overload, and
// transient network errors. Anything else is treated as deterministic
// and retrying it would burn attempts for the same outcome.
var RetryablePatterns = []string{
	`(?i)(?:rate limit|usage limit|quota) (?:exceeded|reached|hit)`,
	`(?i)rate.?limited`,
	`(?i)too many requests`,
	`(?i)overloaded_error`,
	`(?i)server (?:overloaded|is overloaded)`,
	`(?i)(?:api|request|server) (?:error|failed)[^\n]*(?:429|500|502|503|529)`,
	`(?i)(?:service|temporarily) unavailable`,
	`(?i)connection (?:reset|refused|closed)`,
	`(?i)network (?:error|timeout|unreachable)`,
}

var retryableRegexps = compilePatterns(RetryablePatterns)

// compilePatterns compiles pattern strings, skipping any that fail to
// compile.
func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// DefaultRetryable reports whether errorText carries a transient failure
// signature. It is the Runner's default classifier; callers with
// provider-specific knowledge can install their own via WithClassifier.
func DefaultRetryable(errorText string) bool {
	if errorText == "" {
		return false
	}
	if len(errorText) > classifyWindow {
		errorText = errorText[len(errorText)-classifyWindow:]
	}
	for _, re := range retryableRegexps {
		if re.MatchString(errorText) {
			return true
		}
	}
	return false
}
