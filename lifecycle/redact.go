package lifecycle

import (
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// key=value or key: value pairs whose key suggests a credential.
	secretPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|authorization|bearer)\s*[=:]\s*\S+`)
)

// Redact scrubs email addresses and credential-looking key/value pairs from
// error text before it is persisted on a job or written to logs.
func Redact(s string) string {
	s = secretPattern.ReplaceAllString(s, "$1=[redacted]")
	s = emailPattern.ReplaceAllString(s, "[redacted-email]")
	return s
}
