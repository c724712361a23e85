package rss

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedItem is one normalized feed entry. It lives only for the duration of a
// harvest pass.
type FeedItem struct {
	Title       string
	Content     string
	Source      string
	Link        string
	Published   time.Time
	Fingerprint string
}

// Fingerprint hashes the link, or the title when the entry has no link.
func Fingerprint(link, title string) string {
	key := link
	if key == "" {
		key = title
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Source is a configured feed endpoint.
type Source struct {
	Category string
	URL      string
}

// FeedsConfig is YAML config structure
//
//	categories:
//	  - name: ai
//	    feeds:
//	      - https://...
//	feeds:
//	  - https://...
//
// Uncategorized feeds are listed under "general".
type FeedsConfig struct {
	Categories []struct {
		Name  string   `yaml:"name"`
		Feeds []string `yaml:"feeds"`
	} `yaml:"categories"`
	Feeds []string `yaml:"feeds"`
}

// LoadFeeds reads the feed list from a YAML file. A missing file yields the
// built-in default list.
func LoadFeeds(path string) ([]Source, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSources(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FeedsConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	var sources []Source
	for _, c := range cfg.Categories {
		for _, u := range c.Feeds {
			if u = strings.TrimSpace(u); u != "" {
				sources = append(sources, Source{Category: c.Name, URL: u})
			}
		}
	}
	for _, u := range cfg.Feeds {
		if u = strings.TrimSpace(u); u != "" {
			sources = append(sources, Source{Category: "general", URL: u})
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%s lists no feeds", path)
	}
	return sources, nil
}

var defaultFeeds = []struct {
	category string
	urls     []string
}{
	{"ai", []string{
		"https://www.technologyreview.com/feed/",
		"https://venturebeat.com/category/ai/feed/",
		"https://www.marktechpost.com/feed/",
	}},
	{"hardware", []string{
		"https://www.tomshardware.com/feeds/all",
		"https://www.anandtech.com/rss",
		"https://www.techpowerup.com/rss/",
	}},
	{"gaming", []string{
		"https://www.ign.com/articles/feed",
		"https://kotaku.com/rss",
		"https://www.gamespot.com/feeds/news/",
	}},
	{"software", []string{
		"https://www.omgubuntu.co.uk/feed",
		"https://thenextweb.com/feed/",
		"https://blogs.microsoft.com/feed/",
	}},
	{"trends", []string{
		"https://singularityhub.com/feed/",
		"https://www.futurism.com/feed",
		"https://www.space.com/feeds/all",
	}},
	{"big_tech", []string{
		"https://www.apple.com/newsroom/rss-feed.rss",
		"https://aws.amazon.com/about-aws/whats-new/recent/feed/",
		"https://about.fb.com/news/feed/",
	}},
}

func DefaultSources() []Source {
	var out []Source
	for _, c := range defaultFeeds {
		for _, u := range c.urls {
			out = append(out, Source{Category: c.category, URL: u})
		}
	}
	return out
}
