package logging

import (
	"regexp"
)

const (
	// MaxErrorLength bounds error text persisted on scrape jobs.
	MaxErrorLength = 1000
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens in echoed request headers
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._~+/=-]+`)

	// Credentials carried in query strings of upstream URLs
	querySecretPattern = regexp.MustCompile(`(?i)([?&](?:api[_-]?key|apikey|key|token|access_token|client_secret|signature)=)[^&\s"']+`)

	// Connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes sensitive data from connection strings.
// Use this before logging any database or Redis URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeURL redacts credentials in the query string and userinfo of a URL.
func SanitizeURL(u string) string {
	if u == "" {
		return ""
	}
	sanitized := querySecretPattern.ReplaceAllString(u, "${1}"+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Upstream fetch errors embed request URLs, which may carry API keys.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = querySecretPattern.ReplaceAllString(sanitized, "${1}"+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return TruncateString(sanitized, MaxErrorLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
