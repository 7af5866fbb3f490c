package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// RedactStrategy selects how sensitive values are rewritten.
type RedactStrategy string

const (
	// RedactMask replaces the whole value.
	RedactMask RedactStrategy = "mask"
	// RedactHash replaces the value with a short stable digest.
	RedactHash RedactStrategy = "hash"
	// RedactTruncate keeps only the last N characters.
	RedactTruncate RedactStrategy = "truncate"
)

// sensitiveFields is the normalised field-name set. Keys are lowercased with
// underscores, dashes, and whitespace stripped before lookup.
var sensitiveFields = map[string]bool{
	"email":       true,
	"firstname":   true,
	"lastname":    true,
	"phone":       true,
	"mobile":      true,
	"address":     true,
	"city":        true,
	"state":       true,
	"postalcode":  true,
	"zipcode":     true,
	"ssn":         true,
	"taxid":       true,
	"dateofbirth": true,
	"dob":         true,
}

var (
	emailContentRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	phoneContentRe = regexp.MustCompile(`^\+?[0-9][0-9 ().-]{8,}[0-9]$`)
	digitRunRe     = regexp.MustCompile(`[0-9]{10,}`)
)

// Redactor rewrites PII in parameter maps before they are logged or audited.
type Redactor struct {
	Strategy RedactStrategy
	// ShowLast is the tail length kept by the truncate strategy. Default 4.
	ShowLast int
}

// NewRedactor creates a redactor with the default truncate-last-4 strategy.
func NewRedactor() *Redactor {
	return &Redactor{Strategy: RedactTruncate, ShowLast: 4}
}

// Redact deep-copies the map with every sensitive value rewritten. Strings
// that look like emails or phone numbers are redacted by content regardless
// of field name.
func (r *Redactor) Redact(params map[string]any) map[string]any {
	out, _ := r.redactValue("", params).(map[string]any)
	return out
}

func (r *Redactor) redactValue(key string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = r.redactValue(k, val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.redactValue(key, val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.redactValue(key, val)
		}
		return out
	case string:
		return r.redactString(key, t)
	default:
		return v
	}
}

func (r *Redactor) redactString(key, s string) string {
	if s == "" {
		return s
	}

	// Content-based redaction wins regardless of field name.
	if emailContentRe.MatchString(s) {
		return redactEmail(s)
	}
	if phoneContentRe.MatchString(s) && countDigits(s) >= 10 {
		return redactPhone(s)
	}

	if sensitiveFields[normaliseKey(key)] {
		return r.apply(s)
	}

	// Long digit runs inside otherwise innocuous strings still leak.
	return digitRunRe.ReplaceAllStringFunc(s, func(run string) string {
		return "***" + run[len(run)-4:]
	})
}

func (r *Redactor) apply(s string) string {
	switch r.Strategy {
	case RedactMask:
		return "****"
	case RedactHash:
		sum := sha256.Sum256([]byte(s))
		return "sha256:" + hex.EncodeToString(sum[:])[:12]
	default:
		n := r.ShowLast
		if n <= 0 {
			n = 4
		}
		if len(s) <= n {
			return "***"
		}
		return "***" + s[len(s)-n:]
	}
}

func redactEmail(s string) string {
	at := strings.Index(s, "@")
	if at <= 0 {
		return "****"
	}
	return s[:1] + "***@" + s[at+1:]
}

func redactPhone(s string) string {
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) < 4 {
		return "****"
	}
	return "***" + string(digits[len(digits)-4:])
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}

func normaliseKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		switch r {
		case '_', '-', ' ', '\t':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
