package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces values that may identify a borrower.
const RedactedValue = "[REDACTED]"

// plainKeys are emitted verbatim by MaskField.
var plainKeys = map[string]bool{
	"loan_id":    true,
	"asset":      true,
	"asset_id":   true,
	"outcome":    true,
	"status":     true,
	"component":  true,
	"error":      true,
	"request_id": true,
}

// MaskField builds a log attribute for a possibly sensitive value. Known
// identifier keys pass through, 20-byte hex addresses keep only their first
// and last four hex digits, and anything else is replaced.
func MaskField(key, value string) slog.Attr {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "" || plainKeys[strings.ToLower(strings.TrimSpace(key))]:
		return slog.String(key, value)
	case isHexAddress(trimmed):
		return slog.String(key, ShortAddress(trimmed))
	default:
		return slog.String(key, RedactedValue)
	}
}

// ShortAddress abbreviates a hex address as 0x1234…abcd. Values that are not
// addresses are redacted.
func ShortAddress(addr string) string {
	if !isHexAddress(addr) {
		return RedactedValue
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

func isHexAddress(s string) bool {
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
