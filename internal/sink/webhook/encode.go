package webhook

import (
	"fmt"
	"time"
	"unicode/utf8"

	"curator/internal/domain"
)

// Discord limits.
const (
	discordContentMax     = 2000
	discordTitleMax       = 256
	discordDescriptionMax = 4096
	discordFieldValueMax  = 1024
)

type discordAuthor struct {
	Name string `json:"name"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	URL         string              `json:"url,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Author      *discordAuthor      `json:"author,omitempty"`
	Thumbnail   *discordImage       `json:"thumbnail,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Fields      []domain.EmbedField `json:"fields,omitempty"`
}

type discordPayload struct {
	Content  string         `json:"content,omitempty"`
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds,omitempty"`
}

func discordBody(dest domain.Destination, m domain.FormattedMessage) any {
	p := discordPayload{
		Content:  truncate(m.Content, discordContentMax),
		Username: dest.Username,
	}
	if e := m.Embed; e != nil {
		de := discordEmbed{
			Title:       truncate(e.Title, discordTitleMax),
			URL:         e.URL,
			Description: truncate(e.Description, discordDescriptionMax),
			Color:       e.Color,
		}
		if e.Author != "" {
			de.Author = &discordAuthor{Name: truncate(e.Author, discordTitleMax)}
		}
		if e.Thumbnail != "" {
			de.Thumbnail = &discordImage{URL: e.Thumbnail}
		}
		if !e.Timestamp.IsZero() {
			de.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
		}
		for _, f := range e.Fields {
			f.Name = truncate(f.Name, discordTitleMax)
			f.Value = truncate(f.Value, discordFieldValueMax)
			de.Fields = append(de.Fields, f)
		}
		p.Embeds = []discordEmbed{de}
	}
	return p
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color      string       `json:"color,omitempty"`
	Title      string       `json:"title,omitempty"`
	TitleLink  string       `json:"title_link,omitempty"`
	Text       string       `json:"text,omitempty"`
	AuthorName string       `json:"author_name,omitempty"`
	ThumbURL   string       `json:"thumb_url,omitempty"`
	Fields     []slackField `json:"fields,omitempty"`
	Ts         int64        `json:"ts,omitempty"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

func slackBody(dest domain.Destination, m domain.FormattedMessage) any {
	p := slackPayload{Text: m.Content, Username: dest.Username}
	if e := m.Embed; e != nil {
		a := slackAttachment{
			Title:      e.Title,
			TitleLink:  e.URL,
			Text:       e.Description,
			AuthorName: e.Author,
			ThumbURL:   e.Thumbnail,
		}
		if e.Color != 0 {
			a.Color = fmt.Sprintf("#%06X", e.Color)
		}
		if !e.Timestamp.IsZero() {
			a.Ts = e.Timestamp.Unix()
		}
		for _, f := range e.Fields {
			a.Fields = append(a.Fields, slackField{Title: f.Name, Value: f.Value, Short: f.Inline})
		}
		p.Attachments = []slackAttachment{a}
	}
	if p.Text == "" && p.Attachments == nil {
		p.Text = " "
	}
	return p
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
