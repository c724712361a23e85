package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deusflow/techfeed/internal/article"
	"github.com/deusflow/techfeed/internal/retry"
)

func testNotifier(srv *httptest.Server) *Notifier {
	n := New("TOKEN", "@channel", "https://techfeed.example", nil)
	n.apiBase = srv.URL
	n.retry = retry.RetryConfig{Retries: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
	return n
}

func TestNewWithoutCredentialsIsNoop(t *testing.T) {
	var n *Notifier = New("", "", "", nil)
	if n != nil {
		t.Fatal("expected nil notifier")
	}
	if err := n.Announce(context.Background(), &article.Article{Title: "x"}); err != nil {
		t.Fatalf("nil notifier should be a no-op: %v", err)
	}
}

func TestAnnounceSendsMessage(t *testing.T) {
	var path string
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := &article.Article{ID: 3, Title: "Chips & <Dips>", Summary: "Summary", Slug: "chips-dips-1", Domain: "Big Tech Buzz"}
	if err := testNotifier(srv).Announce(context.Background(), a); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	text, _ := payload["text"].(string)
	if !strings.Contains(text, "Chips &amp; &lt;Dips&gt;") {
		t.Errorf("title not escaped: %q", text)
	}
	if !strings.Contains(text, "https://techfeed.example/article/chips-dips-1") || !strings.Contains(text, "#BigTechBuzz") {
		t.Errorf("unexpected text %q", text)
	}
}

func TestAnnounceUsesPhotoAndRetries(t *testing.T) {
	var calls int32
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		path = r.URL.Path
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := &article.Article{Title: "t", Summary: "s", ImageURL: "https://img.example/a.png"}
	if err := testNotifier(srv).Announce(context.Background(), a); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if calls != 2 || path != "/botTOKEN/sendPhoto" {
		t.Errorf("calls=%d path=%s", calls, path)
	}
}

func TestTruncate(t *testing.T) {
	s := strings.Repeat("ж", 10)
	got := truncate(s, 9)
	if len(got) > 9 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncate = %q (%d bytes)", got, len(got))
	}
}
