package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"curator/internal/domain"
	"curator/internal/sink"
)

func fakeBotAPI(t *testing.T, send func(w http.ResponseWriter, r *http.Request)) (string, *atomic.Int32) {
	t.Helper()
	var getMe atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			getMe.Add(1)
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"curator","username":"curator_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			send(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/bot%s/%s", &getMe
}

func TestDeliver(t *testing.T) {
	var text, mode, chat string
	endpoint, getMe := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		text, mode, chat = r.FormValue("text"), r.FormValue("parse_mode"), r.FormValue("chat_id")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
	})

	s, err := New(domain.Destination{ID: "tg", Type: domain.DestinationTelegram, Token: "T", ChatID: 42, RatePerSec: 100}, endpoint)
	if err != nil {
		t.Fatal(err)
	}
	msg := domain.FormattedMessage{Content: "a <b> c", Embed: &domain.Embed{Title: "T", URL: "https://x/1"}}
	for i := 0; i < 2; i++ {
		if err := s.Deliver(context.Background(), msg); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
	if getMe.Load() != 1 {
		t.Fatalf("bot connected %d times, want 1", getMe.Load())
	}
	if chat != "42" || mode != "HTML" {
		t.Fatalf("chat=%q mode=%q", chat, mode)
	}
	if !strings.Contains(text, "a &lt;b&gt; c") || !strings.Contains(text, `<a href="https://x/1">T</a>`) {
		t.Fatalf("text = %q", text)
	}
}

func TestDeliverErrors(t *testing.T) {
	cases := []struct {
		body string
		want sink.Kind
	}{
		{`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, sink.KindInvalidDestination},
		{`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`, sink.KindTransient},
		{`{"ok":false,"error_code":400,"description":"Bad Request: message is too long"}`, sink.KindRejected},
	}
	for _, tc := range cases {
		endpoint, _ := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(tc.body))
		})
		s, _ := New(domain.Destination{ID: "tg", Token: "T", ChatID: 1, RatePerSec: 100}, endpoint)
		err := s.Deliver(context.Background(), domain.FormattedMessage{Content: "x"})
		if got := sink.KindOf(err); got != tc.want {
			t.Fatalf("%s: kind = %s, want %s (%v)", tc.body, got, tc.want, err)
		}
	}
}

func TestDeliverHonoursContext(t *testing.T) {
	unblock := make(chan struct{})
	endpoint, _ := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		<-unblock
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":1,"type":"private"}}}`))
	})
	t.Cleanup(func() { close(unblock) })

	s, _ := New(domain.Destination{ID: "tg", Token: "T", ChatID: 1, RatePerSec: 100}, endpoint)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	begin := time.Now()
	err := s.Deliver(ctx, domain.FormattedMessage{Content: "x"})
	if err == nil {
		t.Fatal("expected an error for a send outliving its context")
	}
	if d := time.Since(begin); d > time.Second {
		t.Fatalf("deliver returned after %v", d)
	}
	if sink.KindOf(err) != sink.KindTransient || ctx.Err() == nil {
		t.Fatalf("err = %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(domain.Destination{ID: "tg", ChatID: 1}, ""); err == nil {
		t.Fatal("expected token error")
	}
	if _, err := New(domain.Destination{ID: "tg", Token: "T"}, ""); err == nil {
		t.Fatal("expected chat id error")
	}
}

func TestRenderFallsBackWhenTooLong(t *testing.T) {
	long := strings.Repeat("x", 5000)
	out := Render(domain.FormattedMessage{Content: "short", Embed: &domain.Embed{Description: long}})
	if out != "short" {
		t.Fatalf("expected plain content fallback, got %d chars", len(out))
	}
}
