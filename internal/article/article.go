// Package article holds the durable candidate/article entity shared by the
// harvest and drain halves of the pipeline.
package article

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the lifecycle state of an Article.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusPending, StatusPublished, StatusRejected, StatusFailed:
		return true
	}
	return false
}

const (
	// SourceLabel is the provenance label written on every harvested record.
	SourceLabel = "TechFeed360 AI"
	// PlaceholderSummary is shown until the generator has run.
	PlaceholderSummary = "Waiting for generation..."
)

// Article is a queued candidate or a published article.
//
// DraftContext is only meaningful while Status is queued; Body only once the
// record is published. Promotion writes Body and clears DraftContext together.
type Article struct {
	ID              int64     `json:"id"`
	Fingerprint     string    `json:"fingerprint"`
	Slug            string    `json:"slug"`
	Status          Status    `json:"status"`
	Title           string    `json:"title"`
	Summary         string    `json:"summary"`
	DraftContext    string    `json:"draft_context,omitempty"`
	Body            string    `json:"content"`
	ImageURL        string    `json:"image"`
	Domain          string    `json:"domain"`
	Tags            []string  `json:"tags"`
	KeyTakeaways    []string  `json:"key_takeaways"`
	OriginalSources []string  `json:"original_sources"`
	Views           int64     `json:"views"`
	Source          string    `json:"source"`
	SourceURL       string    `json:"source_url"`
	PublishedAt     time.Time `json:"published_at"`
	FailureCount    int       `json:"failure_count,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Generated is the content produced for one candidate by the generator.
type Generated struct {
	Title        string
	Slug         string
	Summary      string
	Body         string
	ImageURL     string
	Tags         []string
	KeyTakeaways []string
}

// TempSlug is the placeholder slug a candidate carries until it is published.
func TempSlug(fingerprint string) string {
	return "temp-" + fingerprint
}

var nonWord = regexp.MustCompile(`[^\w-]+`)

// Slugify turns a title into a URL slug suffixed with the unix-millis of now
// so that two articles with the same title never collide.
func Slugify(title string, now time.Time) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = strings.Join(strings.Fields(s), "-")
	s = nonWord.ReplaceAllString(s, "")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "article"
	}
	return fmt.Sprintf("%s-%d", s, now.UnixMilli())
}
