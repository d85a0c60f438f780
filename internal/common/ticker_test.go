package common

import (
	"testing"
)

func TestParseIssuerCode(t *testing.T) {
	tests := []struct {
		input string
		want  IssuerCode
	}{
		// Bare codes
		{"005930", "005930"},
		{"000660", "000660"},
		{"035420", "035420"},

		// Prefixed and suffixed forms
		{"KRX:005930", "005930"},
		{"krx:005930", "005930"},
		{"005930.KS", "005930"},
		{"035720.KQ", "035720"},

		// Whitespace handling
		{"  005930  ", "005930"},

		// Invalid inputs
		{"", ""},
		{"5930", ""},
		{"0059300", ""},
		{"00593a", ""},
		{"삼성전자", ""},
		{"AAPL", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseIssuerCode(tt.input)

			if result != tt.want {
				t.Errorf("ParseIssuerCode(%q) = %q, want %q", tt.input, result, tt.want)
			}
		})
	}
}

func TestIsValidIssuerCode(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"005930", true},
		{"000001", true},
		{"999999", true},
		{"", false},
		{"00593", false},
		{"0059301", false},
		{"00593x", false},
		{"-05930", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsValidIssuerCode(tt.input); got != tt.want {
				t.Errorf("IsValidIssuerCode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseIssuerCodes(t *testing.T) {
	input := []string{"005930", "KRX:000660", "035420.KS", "  ", "", "bogus"}
	result := ParseIssuerCodes(input)

	if len(result) != 3 {
		t.Fatalf("ParseIssuerCodes returned %d codes, want 3", len(result))
	}

	expected := []IssuerCode{"005930", "000660", "035420"}
	for i, code := range result {
		if code != expected[i] {
			t.Errorf("result[%d] = %q, want %q", i, code, expected[i])
		}
	}
}
