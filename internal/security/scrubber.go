package security

import "regexp"

var (
	bearerPattern = regexp.MustCompile(`(?i)(Bearer|Bot|token)\s+[A-Za-z0-9._\-]{20,}`)
	// access_token=..., client_secret=..., refresh_token=... in URLs and bodies
	queryTokenPattern = regexp.MustCompile(`(?i)((?:access|refresh)_token|client_secret|api_key)=[^&\s"]+`)
	// GitHub personal/app tokens
	githubTokenPattern = regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`)
	// Long hex strings (32+ chars), likely API keys
	hexKeyPattern = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)
)

// ScrubOutput redacts credentials from text before it is stored or logged.
func ScrubOutput(output string) string {
	result := bearerPattern.ReplaceAllString(output, "$1 [REDACTED]")
	result = queryTokenPattern.ReplaceAllString(result, "$1=[REDACTED]")
	result = githubTokenPattern.ReplaceAllString(result, "[REDACTED]")
	result = hexKeyPattern.ReplaceAllString(result, "[REDACTED]")
	return result
}

// Truncate cuts s to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
