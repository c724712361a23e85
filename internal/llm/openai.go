package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	GroqBaseURL  = "https://api.groq.com/openai/v1"
	DefaultModel = "llama-3.3-70b-versatile"
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint,
// Groq by default.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	provider string
}

func NewOpenAIClient(opts Options) *OpenAIClient {
	conf := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		conf.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	conf.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &retryAfterRecorder{base: http.DefaultTransport},
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	provider := opts.Provider
	if provider == "" {
		provider = "groq"
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(conf), model: model, provider: provider}
}

func (c *OpenAIClient) Complete(ctx context.Context, r Request) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.System},
			{Role: openai.ChatMessageRoleUser, Content: r.User},
		},
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
	if r.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	hint := &retryAfterHint{}
	resp, err := c.client.CreateChatCompletion(withHint(ctx, hint), req)
	if err != nil {
		if isStatus(err, http.StatusTooManyRequests) {
			return "", &RateLimitError{Provider: c.provider, RetryAfter: hint.get(), Err: err}
		}
		return "", fmt.Errorf("%s completion: %w", c.provider, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s completion: no choices returned", c.provider)
	}
	return resp.Choices[0].Message.Content, nil
}

func isStatus(err error, code int) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == code
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == code
	}
	return false
}

type hintKey struct{}

type retryAfterHint struct {
	mu    sync.Mutex
	delay time.Duration
}

func (h *retryAfterHint) set(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delay = d
}

func (h *retryAfterHint) get() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delay
}

func withHint(ctx context.Context, h *retryAfterHint) context.Context {
	return context.WithValue(ctx, hintKey{}, h)
}

// retryAfterRecorder copies the Retry-After header of 429 responses into the
// hint carried by the request context, since the client library drops it.
type retryAfterRecorder struct {
	base http.RoundTripper
}

func (t *retryAfterRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if h, ok := req.Context().Value(hintKey{}).(*retryAfterHint); ok {
			h.set(ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		}
	}
	return resp, nil
}
