package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redacted replaces masked attribute values.
const Redacted = "[REDACTED]"

// defaultSensitiveKeys are matched as substrings of lower-cased attribute
// keys.
var defaultSensitiveKeys = []string{
	"password", "passwd", "secret", "token",
	"authorization", "cookie", "api_key", "apikey",
}

var valuePatterns = []struct {
	regex       *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`), "Bearer ***"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)=[^&\s]+`), "$1=***"},
}

// Redactor masks sensitive attribute values. Request headers such as
// Authorization and Cookie end up in rule logs through transaction fields.
type Redactor struct {
	keys []string
}

// NewRedactor creates a Redactor with the default keys plus extra.
func NewRedactor(extra []string) *Redactor {
	keys := append([]string(nil), defaultSensitiveKeys...)
	for _, k := range extra {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return &Redactor{keys: keys}
}

// IsSensitiveKey reports whether key names a masked attribute.
func (r *Redactor) IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range r.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// RedactString masks credentials embedded in free text.
func (r *Redactor) RedactString(s string) string {
	for _, p := range valuePatterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if r.IsSensitiveKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); s != "" {
			return slog.String(a.Key, r.RedactString(s))
		}
	}
	return a
}
