// Package common provides shared utilities and default configuration.
package common

// DefaultSource represents a default RSS source seeded on startup when
// no catalog file is present.
type DefaultSource struct {
	Name           string  `json:"name"`
	URL            string  `json:"url"`
	Weight         float64 `json:"weight"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// GetDefaultSources returns the list of default RSS sources seeded on
// startup. This is the single source of truth for the bundled catalog;
// a sources.yaml file overrides it entirely.
func GetDefaultSources() []DefaultSource {
	return []DefaultSource{
		{
			Name:           "yonhap-economy",
			URL:            "https://www.yna.co.kr/rss/economy.xml",
			Weight:         0.9,
			TimeoutSeconds: 15,
		},
		{
			Name:           "hankyung-economy",
			URL:            "https://www.hankyung.com/feed/economy",
			Weight:         0.8,
			TimeoutSeconds: 15,
		},
		{
			Name:           "mk-stock",
			URL:            "https://www.mk.co.kr/rss/50200011/",
			Weight:         0.8,
			TimeoutSeconds: 15,
		},
		{
			Name:           "edaily-stock",
			URL:            "http://rss.edaily.co.kr/stock_news.xml",
			Weight:         0.7,
			TimeoutSeconds: 15,
		},
		{
			Name:           "sedaily-all",
			URL:            "https://www.sedaily.com/rss/newsall.xml",
			Weight:         0.7,
			TimeoutSeconds: 15,
		},
		{
			Name:           "moneytoday",
			URL:            "https://rss.mt.co.kr/mt_news.xml",
			Weight:         0.6,
			TimeoutSeconds: 15,
		},
	}
}
