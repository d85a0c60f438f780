// -----------------------------------------------------------------------
// Content Normalizer - feed content cleaning, quality heuristics, and
// dedup-key hashing
// -----------------------------------------------------------------------

package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

const (
	// maxContentRunes bounds stored body text. The ellipsis counts
	// toward the limit so cleaning an already-cleaned string is a
	// no-op.
	maxContentRunes = 5000
	ellipsis        = "…"

	// shortContentRunes is the threshold at or below which an item
	// carries too little text to score or embed meaningfully.
	shortContentRunes = 50

	punctuationRatioLimit = 0.6
	repeatedTrigramLimit  = 5
)

// Service normalises raw feed content into plain text suitable for
// storage, scoring, and embedding.
type Service struct {
	logger arbor.ILogger
}

// NewService creates a content normaliser.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
	}
}

// Clean strips HTML tags and entities, collapses all whitespace runs
// to single spaces, trims, and truncates to maxContentRunes.
func (s *Service) Clean(raw string) string {
	if raw == "" {
		return ""
	}

	text := raw
	if strings.ContainsAny(raw, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			doc.Find("script, style").Remove()
			text = doc.Text()
		} else {
			s.logger.Warn().Err(err).Msg("Failed to parse content as HTML, using raw text")
		}
	}

	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > maxContentRunes {
		text = string(runes[:maxContentRunes-1]) + ellipsis
	}

	return text
}

// ExtractBestContent picks the richer of an item's description and
// content fields, cleaned. Feeds disagree about which field carries
// the article text, so length decides.
func (s *Service) ExtractBestContent(description, content string) string {
	cleanDescription := s.Clean(description)
	cleanContent := s.Clean(content)

	if cleanContent == "" {
		return cleanDescription
	}
	if utf8.RuneCountInString(cleanDescription) > utf8.RuneCountInString(cleanContent) {
		return cleanDescription
	}

	return cleanContent
}

// DedupKey builds the stable identity hash for a feed item. Titles
// are cleaned and lower-cased, and the publish time is truncated to
// the minute, so re-fetched items with second-level jitter still
// collide on the same key.
func (s *Service) DedupKey(title, source string, publishedAt time.Time) string {
	canonical := strings.ToLower(s.Clean(title))
	bucket := publishedAt.UTC().Truncate(time.Minute).Format(time.RFC3339)

	sum := sha256.Sum256([]byte(canonical + "|" + source + "|" + bucket))
	return hex.EncodeToString(sum[:])
}

// IsContentTooShort reports whether cleaned text carries too little
// signal to be worth scoring or embedding.
func (s *Service) IsContentTooShort(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) <= shortContentRunes
}

// IsContentSuspicious flags scraper garbage: text that is mostly
// punctuation, or that repeats the same rune 3-gram five or more
// times (the ㅋㅋㅋㅋ pattern).
func (s *Service) IsContentSuspicious(text string) bool {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return false
	}

	punct, total := 0, 0
	for _, r := range runes {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	if total > 0 && float64(punct)/float64(total) >= punctuationRatioLimit {
		return true
	}

	if len(runes) < 3 {
		return false
	}
	trigrams := make(map[string]int, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		gram := string(runes[i : i+3])
		trigrams[gram]++
		if trigrams[gram] >= repeatedTrigramLimit {
			return true
		}
	}

	return false
}

// DetectLang guesses the item language from its script. Anything with
// Hangul is treated as Korean; everything else defaults to English.
func (s *Service) DetectLang(text string) string {
	for _, r := range text {
		if unicode.Is(unicode.Hangul, r) {
			return "ko"
		}
	}
	return "en"
}
