package logging

import (
	"regexp"
	"unicode/utf8"
)

const (
	// MaxQueryLogLength is the maximum length of generated SQL written to logs.
	MaxQueryLogLength = 100
	// MaxUserTextLogLength is the maximum length of a user question written to logs at INFO.
	MaxUserTextLogLength = 50
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordRedaction = redaction{
		pattern:     regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`),
		replacement: "${1}=" + RedactedText,
	}

	// Bearer tokens in provider error bodies
	bearerRedaction = redaction{
		pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-_.]+`),
		replacement: "Bearer " + RedactedText,
	}

	// api_key=..., key=... with a long token value
	apiKeyRedaction = redaction{
		pattern:     regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9\-_]{20,}`),
		replacement: "${1}=" + RedactedText,
	}

	// OpenAI/Anthropic style secret keys echoed back in error messages
	secretKeyRedaction = redaction{
		pattern:     regexp.MustCompile(`sk-[A-Za-z0-9\-_]{16,}`),
		replacement: RedactedText,
	}

	// user:pass@host in connection URLs
	userInfoRedaction = redaction{
		pattern:     regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`),
		replacement: "://" + RedactedText + "@" + RedactedText,
	}
)

func apply(s string, rules ...redaction) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// SanitizeConnectionString removes credentials from a connection string.
// Use this before logging any database URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return apply(connStr, passwordRedaction, userInfoRedaction)
}

// SanitizeError returns the error text with credentials, tokens and keys removed.
// Database and model provider errors go through this before being logged.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return apply(err.Error(), passwordRedaction, bearerRedaction, apiKeyRedaction, secretKeyRedaction, userInfoRedaction)
}

// SanitizeQuery truncates a SQL statement for logging and strips credential-like literals.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	return apply(TruncateString(query, MaxQueryLogLength), passwordRedaction, apiKeyRedaction)
}

// SanitizeUserText truncates a user question for INFO-level logs.
func SanitizeUserText(text string) string {
	return TruncateString(text, MaxUserTextLogLength)
}

// TruncateString shortens s to at most maxLen runes, adding an ellipsis when cut.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
