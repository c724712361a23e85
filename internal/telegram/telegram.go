// Package telegram announces freshly published articles in a chat or channel.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/techfeed/internal/article"
	"github.com/deusflow/techfeed/internal/retry"
)

const (
	apiBase         = "https://api.telegram.org"
	maxCaptionBytes = 1000
)

type Notifier struct {
	token   string
	chatID  string
	siteURL string
	apiBase string
	client  *http.Client
	retry   retry.RetryConfig
	log     *slog.Logger
}

// New returns nil when token or chatID is empty; a nil Notifier is a no-op.
func New(token, chatID, siteURL string, log *slog.Logger) *Notifier {
	if token == "" || chatID == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		token:   token,
		chatID:  chatID,
		siteURL: strings.TrimRight(siteURL, "/"),
		apiBase: apiBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   retry.RetryConfig{Retries: 2, Delay: 2 * time.Second, Backoff: true},
		log:     log,
	}
}

// Announce sends a short notice for a published article: a photo with
// caption when the article has an image, a text message otherwise.
func (n *Notifier) Announce(ctx context.Context, a *article.Article) error {
	if n == nil {
		return nil
	}

	text := n.format(a)
	method, payload := "sendMessage", map[string]interface{}{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": false,
	}
	if a.ImageURL != "" {
		method, payload = "sendPhoto", map[string]interface{}{
			"chat_id":    n.chatID,
			"photo":      a.ImageURL,
			"caption":    truncate(text, maxCaptionBytes),
			"parse_mode": "HTML",
		}
	}

	err := retry.Do(ctx, n.retry, func(ctx context.Context) error {
		return n.call(ctx, method, payload)
	})
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	n.log.Info("publication notice sent", "article_id", a.ID)
	return nil
}

func (n *Notifier) format(a *article.Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", html.EscapeString(a.Title))
	if a.Domain != "" {
		fmt.Fprintf(&b, "#%s\n", strings.ReplaceAll(a.Domain, " ", ""))
	}
	fmt.Fprintf(&b, "%s\n\n", html.EscapeString(a.Summary))
	link := a.SourceURL
	if n.siteURL != "" && a.Slug != "" {
		link = n.siteURL + "/article/" + a.Slug
	}
	if link != "" {
		fmt.Fprintf(&b, `<a href="%s">Read more</a>`, html.EscapeString(link))
	}
	return b.String()
}

func (n *Notifier) call(ctx context.Context, method string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error make JSON: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", n.apiBase, n.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("error HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error: status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max-len("…")]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}
