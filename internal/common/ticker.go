// Package common provides shared utilities across the application.
package common

import (
	"strings"
)

// IssuerCode is a 6-digit Korean exchange issuer code (e.g. "005930"
// for Samsung Electronics). Codes are zero-padded decimal strings as
// assigned by KRX.
type IssuerCode string

// IsValidIssuerCode reports whether s is a well-formed 6-digit code.
func IsValidIssuerCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseIssuerCode normalizes a raw ticker string to an IssuerCode.
// Accepts bare codes ("005930"), krx-prefixed forms ("KRX:005930"),
// and suffixed forms ("005930.KS", "005930.KQ"). Returns "" when the
// input does not contain a valid 6-digit code.
func ParseIssuerCode(raw string) IssuerCode {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.Index(s, "."); idx > 0 {
		s = s[:idx]
	}

	if !IsValidIssuerCode(s) {
		return ""
	}
	return IssuerCode(s)
}

// ParseIssuerCodes normalizes a list of raw ticker strings, dropping
// anything that does not parse.
func ParseIssuerCodes(raw []string) []IssuerCode {
	result := make([]IssuerCode, 0, len(raw))
	for _, r := range raw {
		if code := ParseIssuerCode(r); code != "" {
			result = append(result, code)
		}
	}
	return result
}

// String returns the bare 6-digit code.
func (c IssuerCode) String() string {
	return string(c)
}
