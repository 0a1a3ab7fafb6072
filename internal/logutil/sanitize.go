package logutil

import (
	"unicode"

	"go.uber.org/zap"
)

// maxFieldLen bounds user-provided strings that end up in log lines.
const maxFieldLen = 256

// SanitizeForLog strips control characters from user-provided strings so a
// crafted credential name cannot forge additional log entries. Newlines, CR
// and tabs become spaces; other control runes are dropped.
func SanitizeForLog(s string) string {
	out := []rune{}
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			out = append(out, ' ')
		case unicode.IsControl(r):
			continue
		default:
			out = append(out, r)
		}
		if len(out) >= maxFieldLen {
			break
		}
	}
	return string(out)
}

// String is zap.String with the value passed through SanitizeForLog.
func String(key, value string) zap.Field {
	return zap.String(key, SanitizeForLog(value))
}
