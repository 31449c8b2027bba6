// Package redact scrubs credentials and other sensitive values from text
// before it is logged, sent to progress observers, or returned in API errors.
// Provider error messages in particular can echo API keys, session cookies or
// bearer tokens back to the caller.
package redact

import (
	"net/url"
	"regexp"
)

// Redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedCookiePlaceholder     = "[REDACTED_COOKIE]"
	RedactedTokenPlaceholder      = "[REDACTED_TOKEN]"
	RedactedURLPlaceholder        = "[REDACTED_URL]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules see the raw text.
var rules = []rule{
	{
		regexp.MustCompile(`(?i)\b(postgres(?:ql)?|mysql|mongodb)://[^@\s]+@`),
		RedactedCredentialPlaceholder,
	},
	{
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		"[REDACTED_JWT]",
	},
	{
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`),
		"Bearer " + RedactedTokenPlaceholder,
	},
	{
		regexp.MustCompile(`AIza[0-9A-Za-z_-]{30,}`),
		RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)\b((?:set-)?cookie)(\s*[:=]\s*)[^\s;,]+(?:;\s*[^\s;,]+)*`),
		"${1}${2}" + RedactedCookiePlaceholder,
	},
	{
		regexp.MustCompile(`(?i)\b(api[_-]?key|key|token|access_token|secret|password|passwd)(\s*[:=]\s*)['"]?[^'"&\s,]{6,}['"]?`),
		"${1}${2}" + RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		"[REDACTED_EMAIL]",
	},
	{
		regexp.MustCompile(`(/[\w.-]+){2,}`),
		RedactedPathPlaceholder,
	},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// URL masks the password of a connection URL, keeping the rest readable.
// Unparseable input is replaced entirely.
func URL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return RedactedURLPlaceholder
	}
	return u.Redacted()
}
