// Package classify assigns a topical domain to a story by keyword scoring.
package classify

import "strings"

// DefaultDomain is returned when no keyword table matches.
const DefaultDomain = "Trends"

const bigTechKey = "BIG_TECH"

type domainKeywords struct {
	key      string
	keywords []string
}

// Table order matters: on equal scores the earlier domain wins.
var domains = []domainKeywords{
	{"AI", []string{"ai", "artificial intelligence", "llm", "gpt", "openai", "machine learning", "neural network", "deepmind", "anthropic", "claude", "gemini", "llama"}},
	{"HARDWARE", []string{"cpu", "gpu", "nvidia", "amd", "intel", "chip", "processor", "hardware", "device", "phone", "laptop", "samsung", "iphone", "pixel"}},
	{"GAMING", []string{"game", "gaming", "esports", "console", "playstation", "xbox", "nintendo", "steam", "epic games", "unity", "unreal engine"}},
	{"SOFTWARE", []string{"software", "app", "ios", "android", "windows", "macos", "linux", "developer", "coding", "programming", "github", "gitlab"}},
	{bigTechKey, []string{"apple", "google", "microsoft", "meta", "amazon", "tesla", "facebook", "twitter", "x.com", "layoff", "lawsuit", "acquisition"}},
	{"TRENDS", []string{"trend", "future", "market", "analysis", "prediction", "adoption", "emerging", "crypto", "blockchain", "metaverse", "web3"}},
}

// Classify scores title+body against every domain table and returns the
// friendly label of the best one.
//
// Keywords are plain substrings, so "ai" also hits "said"; that matches how
// the domains were tuned and is kept as is.
func Classify(title, body string) string {
	text := strings.ToLower(title + " " + body)

	maxScore := 0.0
	best := DefaultDomain

	for _, d := range domains {
		score := 0.0
		for _, kw := range d.keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}

		if d.key == bigTechKey && score > 0 {
			score *= 1.2
		}

		if score > maxScore {
			maxScore = score
			best = Label(d.key)
		}
	}

	return best
}

// Label renders an internal domain key for display.
func Label(key string) string {
	if key == bigTechKey {
		return "Big Tech Buzz"
	}
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + strings.ToLower(key[1:])
}

// Labels lists every label Classify can return, in table order.
func Labels() []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		out = append(out, Label(d.key))
	}
	return out
}
