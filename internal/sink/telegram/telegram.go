// Package telegram delivers messages to a Telegram chat through a bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"curator/internal/domain"
	"curator/internal/ratelimit"
	"curator/internal/sink"
)

const messageMax = 4096

type Sink struct {
	dest     domain.Destination
	endpoint string
	limiter  *ratelimit.Limiter

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// New creates a sink for dest. The bot is connected on first delivery so a
// missing network at startup does not keep the scheduler from starting.
// endpoint may be empty for the public Bot API.
func New(dest domain.Destination, endpoint string) (*Sink, error) {
	if dest.Token == "" {
		return nil, fmt.Errorf("destination %s: token is required", dest.ID)
	}
	if dest.ChatID == 0 {
		return nil, fmt.Errorf("destination %s: chat_id is required", dest.ID)
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	qps := float64(dest.RatePerSec)
	if qps <= 0 {
		// Telegram allows about one message per second per chat.
		qps = 1
	}
	return &Sink{dest: dest, endpoint: endpoint, limiter: ratelimit.New(qps, 1)}, nil
}

func (s *Sink) client() (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot != nil {
		return s.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(s.dest.Token, s.endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	s.bot = bot
	return bot, nil
}

func (s *Sink) Deliver(ctx context.Context, msg domain.FormattedMessage) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return &sink.Error{Kind: sink.KindTransient, Err: err}
	}
	bot, err := s.client()
	if err != nil {
		return classify(fmt.Errorf("connect bot: %w", err))
	}

	m := tgbotapi.NewMessage(s.dest.ChatID, Render(msg))
	m.ParseMode = tgbotapi.ModeHTML

	// The bot API takes no context. An abandoned send is bounded by the
	// client timeout and may still land, which the caller treats as a
	// cancelled item.
	sent := make(chan error, 1)
	go func() {
		_, err := bot.Send(m)
		sent <- err
	}()
	select {
	case err := <-sent:
		if err != nil {
			return classify(fmt.Errorf("failed to send telegram message: %w", err))
		}
		return nil
	case <-ctx.Done():
		return &sink.Error{Kind: sink.KindTransient, Err: ctx.Err()}
	}
}

func classify(err error) error {
	var te *tgbotapi.Error
	if errors.As(err, &te) {
		kind := sink.KindRejected
		switch {
		case te.Code == 429 || te.Code >= 500 || te.RetryAfter > 0:
			kind = sink.KindTransient
		case te.Code == 401 || te.Code == 403 || te.Code == 404:
			kind = sink.KindInvalidDestination
		}
		return &sink.Error{Kind: kind, Err: err}
	}
	return &sink.Error{Kind: sink.KindTransient, Err: err}
}

// Render turns a message into Telegram HTML.
func Render(msg domain.FormattedMessage) string {
	var b strings.Builder
	if msg.Content != "" {
		b.WriteString(html.EscapeString(msg.Content))
	}
	if e := msg.Embed; e != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		switch {
		case e.Title != "" && e.URL != "":
			fmt.Fprintf(&b, `<b><a href="%s">%s</a></b>`, html.EscapeString(e.URL), html.EscapeString(e.Title))
		case e.Title != "":
			fmt.Fprintf(&b, "<b>%s</b>", html.EscapeString(e.Title))
		case e.URL != "":
			b.WriteString(html.EscapeString(e.URL))
		}
		if e.Author != "" {
			fmt.Fprintf(&b, "\n<i>%s</i>", html.EscapeString(e.Author))
		}
		if e.Description != "" {
			b.WriteString("\n" + html.EscapeString(e.Description))
		}
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "\n<b>%s:</b> %s", html.EscapeString(f.Name), html.EscapeString(f.Value))
		}
	}
	out := b.String()
	if utf8.RuneCountInString(out) > messageMax {
		// Cutting HTML could leave a dangling tag; fall back to plain content.
		plain := []rune(msg.Content)
		if len(plain) > messageMax {
			plain = plain[:messageMax]
		}
		out = html.EscapeString(string(plain))
		if utf8.RuneCountInString(out) > messageMax {
			out = string([]rune(out)[:messageMax])
		}
	}
	return strings.ToValidUTF8(out, "?")
}
