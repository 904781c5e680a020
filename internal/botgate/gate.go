// Package botgate scores inbound HTTP requests for bot-like origin based on
// header completeness and user-agent patterns. The score is advisory: it
// biases rate-limit strictness and flags requests for audit logging. It is
// never the sole basis for rejecting a payment webhook.
package botgate

import (
	"net/http"
	"regexp"
	"strings"
)

var knownBotPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bot`),
	regexp.MustCompile(`(?i)crawl`),
	regexp.MustCompile(`(?i)spider`),
	regexp.MustCompile(`(?i)headless`),
	regexp.MustCompile(`(?i)scrape`),
	regexp.MustCompile(`(?i)phantom`),
	regexp.MustCompile(`(?i)selenium`),
	regexp.MustCompile(`(?i)puppeteer`),
	regexp.MustCompile(`(?i)chrome-lighthouse`),
}

// allowedBots are legitimate indexing bots that bypass pattern scoring.
var allowedBots = []string{
	"Googlebot",
	"Bingbot",
	"DuckDuckBot",
	"YandexBot",
	"Applebot",
	"facebookexternalhit",
}

// completenessHeaders are present on essentially every real browser request;
// each one missing raises the score.
var completenessHeaders = []string{
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
	"Connection",
}

// Gate scores requests. Deterministic: the same request always produces the
// same score, so decisions stay auditable.
type Gate struct{}

func New() *Gate { return &Gate{} }

// Score returns a trust score in [0,1]; higher is more bot-like.
func (g *Gate) Score(r *http.Request) float64 {
	ua := r.Header.Get("User-Agent")

	for _, bot := range allowedBots {
		if strings.Contains(ua, bot) {
			return 0
		}
	}

	var score float64

	for _, p := range knownBotPatterns {
		if p.MatchString(ua) {
			score += 0.4
			break
		}
	}
	if ua == "" || len(ua) < 10 || ua == "Mozilla/5.0" {
		score += 0.3
	}

	for _, h := range completenessHeaders {
		if r.Header.Get(h) == "" {
			score += 0.1
		}
	}

	// Wildcard-everything accept headers are a scraper tell.
	if r.Header.Get("Accept") == "*/*" &&
		r.Header.Get("Accept-Language") == "*" &&
		r.Header.Get("Accept-Encoding") == "*" {
		score += 0.2
	}

	if score > 1 {
		score = 1
	}
	return score
}
