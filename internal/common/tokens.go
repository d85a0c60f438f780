package common

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// koreanParticles are postpositions stripped from token tails before
// text comparison. Ordered longest first so 에서 wins over 에.
var koreanParticles = []string{
	"으로부터", "에게서", "으로써", "으로서", "이라고",
	"에서", "에게", "부터", "까지", "처럼", "보다", "마다", "조차", "마저", "라고", "이나", "이며",
	"은", "는", "이", "가", "을", "를", "의", "에", "와", "과", "도", "만", "로", "며", "나",
}

// Tokenize splits text into comparison tokens: lowercased, split on
// anything that is not a letter or digit, with trailing Korean
// particles stripped. Tokens shorter than two runes are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		token := StripParticle(field)
		if utf8.RuneCountInString(token) < 2 {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// StripParticle removes one trailing Korean particle from a token. The
// stem must keep at least two runes, so short words like 주가 survive.
func StripParticle(token string) string {
	for _, particle := range koreanParticles {
		if !strings.HasSuffix(token, particle) {
			continue
		}
		stem := strings.TrimSuffix(token, particle)
		if utf8.RuneCountInString(stem) >= 2 {
			return stem
		}
	}
	return token
}
