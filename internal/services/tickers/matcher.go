// -----------------------------------------------------------------------
// Package tickers matches Korean exchange issuer codes and company
// names in news text.
// -----------------------------------------------------------------------

package tickers

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/nuntius/internal/common"
)

// issuer describes one listed company the matcher recognises.
type issuer struct {
	code    string
	name    string
	aliases []string
}

// issuers is the static catalog of recognised listings. Aliases cover
// the spellings Korean financial feeds actually use; matching is
// substring-based because Korean attaches particles directly to names
// (삼성전자가, 삼성전자의).
var issuers = []issuer{
	{code: "005930", name: "삼성전자", aliases: []string{"Samsung Electronics", "삼성"}},
	{code: "000660", name: "SK하이닉스", aliases: []string{"SK Hynix", "하이닉스"}},
	{code: "373220", name: "LG에너지솔루션", aliases: []string{"LG Energy Solution"}},
	{code: "207940", name: "삼성바이오로직스", aliases: []string{"Samsung Biologics"}},
	{code: "005380", name: "현대차", aliases: []string{"Hyundai Motor", "현대자동차"}},
	{code: "000270", name: "기아", aliases: []string{"Kia"}},
	{code: "068270", name: "셀트리온", aliases: []string{"Celltrion"}},
	{code: "035420", name: "NAVER", aliases: []string{"네이버", "Naver"}},
	{code: "035720", name: "카카오", aliases: []string{"Kakao"}},
	{code: "051910", name: "LG화학", aliases: []string{"LG Chem"}},
	{code: "006400", name: "삼성SDI", aliases: []string{"Samsung SDI"}},
	{code: "066570", name: "LG전자", aliases: []string{"LG Electronics"}},
	{code: "012330", name: "현대모비스", aliases: []string{"Hyundai Mobis"}},
	{code: "105560", name: "KB금융", aliases: []string{"KB Financial"}},
	{code: "055550", name: "신한지주", aliases: []string{"Shinhan Financial"}},
	{code: "096770", name: "SK이노베이션", aliases: []string{"SK Innovation"}},
	{code: "034730", name: "SK스퀘어", aliases: []string{"SK Square"}},
	{code: "015760", name: "한국전력", aliases: []string{"KEPCO", "한전"}},
	{code: "032830", name: "삼성생명", aliases: []string{"Samsung Life"}},
	{code: "003670", name: "포스코퓨처엠", aliases: []string{"POSCO Future M"}},
}

// codePattern matches a bare 6-digit issuer code in running text.
var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// Matcher finds issuer codes in news text, by code literal or by
// company-name alias.
type Matcher struct {
	byCode map[string][]string
}

// NewMatcher creates a matcher over the static issuer catalog.
func NewMatcher() *Matcher {
	byCode := make(map[string][]string, len(issuers))
	for _, is := range issuers {
		terms := make([]string, 0, len(is.aliases)+1)
		terms = append(terms, strings.ToLower(is.name))
		for _, alias := range is.aliases {
			terms = append(terms, strings.ToLower(alias))
		}
		byCode[is.code] = terms
	}
	return &Matcher{byCode: byCode}
}

// FindTickers returns the sorted unique issuer codes whose code
// literal or any alias occurs in the text.
func (m *Matcher) FindTickers(text string) []string {
	if text == "" {
		return []string{}
	}

	found := make(map[string]bool)
	lower := strings.ToLower(text)

	for _, match := range codePattern.FindAllString(text, -1) {
		if _, ok := m.byCode[match]; ok && common.IsValidIssuerCode(match) {
			found[match] = true
		}
	}

	for code, terms := range m.byCode {
		if found[code] {
			continue
		}
		for _, term := range terms {
			if strings.Contains(lower, term) {
				found[code] = true
				break
			}
		}
	}

	codes := make([]string, 0, len(found))
	for code := range found {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	return codes
}

// Name returns the primary Korean name for a code, or "" when the
// code is not in the catalog.
func (m *Matcher) Name(code string) string {
	for _, is := range issuers {
		if is.code == code {
			return is.name
		}
	}
	return ""
}

// MatchStrength scores how strongly an item is about specific listed
// companies, in [0,1]. More occurrences, more distinct codes, and a
// hit in the title all raise the strength.
func (m *Matcher) MatchStrength(title, body string) float64 {
	text := title + " " + body
	codes := m.FindTickers(text)
	if len(codes) == 0 {
		return 0
	}

	occurrences := m.countOccurrences(text)
	titleHit := len(m.FindTickers(title)) > 0

	// Saturates at five occurrences; a second distinct code lifts the
	// uniqueness factor to full weight.
	base := float64(occurrences) * 0.2
	if base > 1.0 {
		base = 1.0
	}
	uniqueness := 0.5 + 0.25*float64(len(codes))
	if uniqueness > 1.0 {
		uniqueness = 1.0
	}
	strength := base * uniqueness
	if titleHit {
		strength *= 1.25
	}
	if strength > 1.0 {
		strength = 1.0
	}

	return strength
}

// countOccurrences counts every code-literal and alias occurrence in
// the text. Overlapping aliases of the same issuer each count; the
// strength curve saturates quickly enough that this does not matter.
func (m *Matcher) countOccurrences(text string) int {
	count := 0
	lower := strings.ToLower(text)

	for _, match := range codePattern.FindAllString(text, -1) {
		if _, ok := m.byCode[match]; ok {
			count++
		}
	}
	for _, terms := range m.byCode {
		for _, term := range terms {
			count += strings.Count(lower, term)
		}
	}

	return count
}
