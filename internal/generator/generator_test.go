package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/deusflow/techfeed/internal/llm"
	"github.com/deusflow/techfeed/internal/metrics"
	"github.com/deusflow/techfeed/internal/retry"
)

const validOutput = `{
  "title": "Nvidia Unveils Blackwell GPU",
  "summary": "Nvidia announced its Blackwell GPU for data centers.",
  "content": "## Introduction\n\nNvidia has unveiled...",
  "key_takeaways": ["Blackwell targets data centers", "Shipping later this year"],
  "tags": ["nvidia", "gpu"]
}`

// scriptedCompleter returns the queued responses in order.
type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
	last      llm.Request
}

func (s *scriptedCompleter) Complete(_ context.Context, r llm.Request) (string, error) {
	i := s.calls
	s.calls++
	s.last = r
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return validOutput, nil
}

func rateLimit(after time.Duration) error {
	return &llm.RateLimitError{Provider: "test", RetryAfter: after, Err: errors.New("429")}
}

func newTestGenerator(c llm.Completer, waits *[]time.Duration) *Generator {
	g := New(c, Config{Temperature: 0.7, MaxTokens: 2048, Retries: 3, DefaultWait: time.Minute}, nil)
	g.metrics = metrics.New()
	g.now = func() time.Time { return time.UnixMilli(1700000000000) }
	g.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return g
}

func TestGenerateParsesOutput(t *testing.T) {
	var waits []time.Duration
	c := &scriptedCompleter{}
	g := newTestGenerator(c, &waits)

	gen, err := g.Generate(context.Background(), "Hardware", "Title: Nvidia unveils Blackwell\nContent: ...\nSource: Example")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Title != "Nvidia Unveils Blackwell GPU" || gen.Slug != "nvidia-unveils-blackwell-gpu-1700000000000" {
		t.Errorf("title/slug = %q/%q", gen.Title, gen.Slug)
	}
	if len(gen.KeyTakeaways) != 2 || len(gen.Tags) != 2 || !strings.HasPrefix(gen.Body, "## Introduction") {
		t.Errorf("unexpected output %+v", gen)
	}

	if !c.last.JSON || c.last.Temperature != 0.7 || c.last.MaxTokens != 2048 {
		t.Errorf("request parameters = %+v", c.last)
	}
	if !strings.Contains(c.last.User, "Domain: Hardware") || !strings.Contains(c.last.User, "900 and 1600 words") {
		t.Error("prompt is missing the domain or the length rule")
	}
}

func TestGenerateRetriesThreeRateLimits(t *testing.T) {
	var waits []time.Duration
	c := &scriptedCompleter{errs: []error{rateLimit(5 * time.Second), rateLimit(0), rateLimit(2 * time.Second)}}
	g := newTestGenerator(c, &waits)

	if _, err := g.Generate(context.Background(), "Ai", "src"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if c.calls != 4 {
		t.Errorf("calls = %d, want 4", c.calls)
	}
	want := []time.Duration{5 * time.Second, time.Minute, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v", waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
	if g.metrics.RateLimitRetries != 3 {
		t.Errorf("rate limit retries metric = %d", g.metrics.RateLimitRetries)
	}
}

func TestGenerateExhaustsOnFourRateLimits(t *testing.T) {
	var waits []time.Duration
	c := &scriptedCompleter{errs: []error{rateLimit(0), rateLimit(0), rateLimit(0), rateLimit(0)}}
	g := newTestGenerator(c, &waits)

	_, err := g.Generate(context.Background(), "Ai", "src")
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected exhausted retries, got %v", err)
	}
	if c.calls != 4 || len(waits) != 3 {
		t.Errorf("calls=%d waits=%d", c.calls, len(waits))
	}
}

func TestGenerateDoesNotRetryOtherErrors(t *testing.T) {
	var waits []time.Duration
	boom := errors.New("connection reset")
	c := &scriptedCompleter{errs: []error{boom}}
	g := newTestGenerator(c, &waits)

	_, err := g.Generate(context.Background(), "Ai", "src")
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if c.calls != 1 || len(waits) != 0 {
		t.Errorf("calls=%d waits=%d", c.calls, len(waits))
	}
}

func TestGenerateMalformedOutput(t *testing.T) {
	tests := map[string]string{
		"not json":        "Here is your article!",
		"truncated":       `{"title": "x", "summary": "y"`,
		"missing content": `{"title":"t","summary":"s","key_takeaways":["k"],"tags":[]}`,
		"no takeaways":    `{"title":"t","summary":"s","content":"c","key_takeaways":[],"tags":[]}`,
		"missing tags":    `{"title":"t","summary":"s","content":"c","key_takeaways":["k"]}`,
		"trailing prose":  `{"title":"t","summary":"s","content":"c","key_takeaways":["k"],"tags":[]} thanks!`,
		"array":           `[{"title":"t"}]`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			var waits []time.Duration
			g := newTestGenerator(&scriptedCompleter{responses: []string{raw}}, &waits)
			_, err := g.Generate(context.Background(), "Ai", "src")
			if !errors.Is(err, ErrMalformedOutput) {
				t.Errorf("expected ErrMalformedOutput, got %v", err)
			}
		})
	}
}

func TestParseOutputStripsCodeFence(t *testing.T) {
	gen, err := parseOutput("```json\n" + validOutput + "\n```")
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if gen.Title == "" {
		t.Error("title not parsed")
	}
}

func TestTruncateSummary(t *testing.T) {
	short := "A short summary."
	if got := truncateSummary(short); got != short {
		t.Errorf("short summary changed: %q", got)
	}

	long := strings.Repeat("word ", 60)
	got := truncateSummary(long)
	if n := utf8.RuneCountInString(got); n > MaxSummaryRunes {
		t.Errorf("truncated summary has %d runes", n)
	}
	if !strings.HasSuffix(got, "…") || strings.HasSuffix(strings.TrimSuffix(got, "…"), " ") {
		t.Errorf("unexpected truncation %q", got)
	}
}
