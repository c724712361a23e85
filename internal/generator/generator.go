// Package generator turns a candidate's draft context into a finished
// article through a completion service.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/techfeed/internal/article"
	"github.com/deusflow/techfeed/internal/llm"
	"github.com/deusflow/techfeed/internal/metrics"
	"github.com/deusflow/techfeed/internal/retry"
)

// ErrMalformedOutput means the completion was not the expected JSON object.
var ErrMalformedOutput = errors.New("malformed generation output")

const MaxSummaryRunes = 200

type Config struct {
	Temperature float32
	MaxTokens   int
	// Retries is the number of extra calls allowed after a rate limit.
	Retries     int
	DefaultWait time.Duration
}

type Generator struct {
	llm     llm.Completer
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(c llm.Completer, cfg Config, log *slog.Logger) *Generator {
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = 60 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{llm: c, cfg: cfg, log: log, metrics: metrics.Global, now: time.Now}
}

// Generate writes an article for domain from the raw source context.
// Rate limits are retried; any other failure, including malformed output,
// is returned as is.
func (g *Generator) Generate(ctx context.Context, domain, sources string) (*article.Generated, error) {
	req := llm.Request{
		System:      systemPrompt,
		User:        buildPrompt(domain, sources),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		JSON:        true,
	}

	var raw string
	err := retry.Do(ctx, retry.RetryConfig{
		Retries: g.cfg.Retries,
		Delay:   g.cfg.DefaultWait,
		Classify: func(err error) (bool, time.Duration) {
			wait, limited := llm.RateLimited(err)
			return limited, wait
		},
		OnRetry: func(attempt int, wait time.Duration, err error) {
			g.metrics.IncrementRateLimitRetries()
			g.log.Warn("completion rate limited, backing off", "attempt", attempt, "retry_after", wait)
		},
		Sleep: g.sleep,
	}, func(ctx context.Context) error {
		out, err := g.llm.Complete(ctx, req)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	gen, err := parseOutput(raw)
	if err != nil {
		return nil, err
	}
	gen.Slug = article.Slugify(gen.Title, g.now())
	return gen, nil
}

type output struct {
	Title        *string   `json:"title"`
	Summary      *string   `json:"summary"`
	Content      *string   `json:"content"`
	KeyTakeaways *[]string `json:"key_takeaways"`
	Tags         *[]string `json:"tags"`
}

// parseOutput decodes exactly one JSON object and checks every field.
func parseOutput(raw string) (*article.Generated, error) {
	dec := json.NewDecoder(strings.NewReader(stripCodeFence(raw)))

	var out output
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedOutput)
	}

	var missing []string
	if out.Title == nil || strings.TrimSpace(*out.Title) == "" {
		missing = append(missing, "title")
	}
	if out.Summary == nil || strings.TrimSpace(*out.Summary) == "" {
		missing = append(missing, "summary")
	}
	if out.Content == nil || strings.TrimSpace(*out.Content) == "" {
		missing = append(missing, "content")
	}
	if out.KeyTakeaways == nil || len(*out.KeyTakeaways) == 0 {
		missing = append(missing, "key_takeaways")
	}
	if out.Tags == nil {
		missing = append(missing, "tags")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedOutput, strings.Join(missing, ", "))
	}

	return &article.Generated{
		Title:        strings.TrimSpace(*out.Title),
		Summary:      truncateSummary(strings.TrimSpace(*out.Summary)),
		Body:         strings.TrimSpace(*out.Content),
		Tags:         *out.Tags,
		KeyTakeaways: *out.KeyTakeaways,
	}, nil
}

// stripCodeFence removes a surrounding ```json fence some models add even in
// JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateSummary(s string) string {
	if utf8.RuneCountInString(s) <= MaxSummaryRunes {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:MaxSummaryRunes-1])
	if i := strings.LastIndexAny(cut, " \t\n"); i > MaxSummaryRunes/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:.-") + "…"
}
