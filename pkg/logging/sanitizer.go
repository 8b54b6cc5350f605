package logging

import "regexp"

const (
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
	// MaxDetailLength bounds provider error details before logging.
	MaxDetailLength = 200
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass|secret)=[^;&\s]+`)

	// Bearer tokens and JWTs (three base64url segments)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`)

	// api_key=..., apikey=..., token=... with long values
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|token|key)=[A-Za-z0-9-_:]{8,}`)

	// provider key shapes that show up verbatim in error bodies
	providerKeyPattern = regexp.MustCompile(`\b(sk-(or|ant)?-?[A-Za-z0-9_-]{16,}|gh[pousr]_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,}|AKIA[A-Z0-9]{16}|ASIA[A-Z0-9]{16})\b`)

	// user:pass@host in connection URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeDetail redacts credential material from a free-form detail string
// (probe results, provider error bodies) and truncates it. Always pass probe
// and integration failure text through this before logging or returning it.
func SanitizeDetail(detail string) string {
	if detail == "" {
		return ""
	}

	s := passwordPattern.ReplaceAllString(detail, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = providerKeyPattern.ReplaceAllString(s, RedactedText)
	s = connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)

	if len(s) > MaxDetailLength {
		s = s[:MaxDetailLength] + "..."
	}
	return s
}

// SanitizeError sanitizes an error message that might contain sensitive data.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeDetail(err.Error())
}
