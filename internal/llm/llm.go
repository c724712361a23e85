// Package llm wraps the completion services used to write articles.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Request is one system+user completion call.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// JSON forces a single JSON object response where the provider supports it.
	JSON bool
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// RateLimitError signals that the provider rejected the call for rate
// reasons. RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RateLimited reports whether err carries a rate limit signal, along with the
// provider's wait hint.
func RateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// ParseRetryAfter reads a Retry-After header value, either delay-seconds or
// an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

type Options struct {
	Provider string // groq | openai | gemini
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// New builds the completer for opts.Provider.
func New(ctx context.Context, opts Options) (Completer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s: missing API key", opts.Provider)
	}
	switch opts.Provider {
	case "gemini":
		return NewGeminiClient(ctx, opts.APIKey, opts.Model)
	case "groq", "openai", "":
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", opts.Provider)
	}
}
