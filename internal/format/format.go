// Package format renders candidate items into messages using per-platform
// templates with {field} placeholders.
package format

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"curator/internal/domain"
)

// Formatter turns an item into a message for a platform.
type Formatter interface {
	Format(item domain.CandidateItem, platform domain.Platform) (domain.FormattedMessage, error)
}

// Template configures how one platform's items look.
type Template struct {
	Content string `mapstructure:"template"`
	// Embed adds a rich card under the content.
	Embed bool `mapstructure:"embed"`
}

const (
	DefaultContent = "{url}"
	descriptionMax = 300
	defaultColor   = 0x7289DA
)

var ErrEmptyMessage = errors.New("template produced an empty message")

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

var platformColors = map[domain.Platform]int{
	domain.PlatformYouTube: 0xFF0000,
	domain.PlatformReddit:  0xFF4500,
	domain.PlatformRSS:     0xF26522,
}

// DefaultTemplates are used for platforms missing from configuration.
func DefaultTemplates() map[domain.Platform]Template {
	return map[domain.Platform]Template{
		domain.PlatformYouTube: {Content: "**New video from {channel}**\n{url}", Embed: false},
		domain.PlatformReddit:  {Content: "**From r/{subreddit}**\n{title}\n{url}", Embed: true},
		domain.PlatformRSS:     {Content: "{url}", Embed: true},
		domain.PlatformCommand: {Content: "{url}", Embed: true},
	}
}

type TemplateFormatter struct {
	templates map[domain.Platform]Template
	now       func() time.Time
}

func New(templates map[domain.Platform]Template) *TemplateFormatter {
	merged := DefaultTemplates()
	for p, t := range templates {
		merged[p] = t
	}
	return &TemplateFormatter{templates: merged, now: time.Now}
}

func (f *TemplateFormatter) Format(item domain.CandidateItem, platform domain.Platform) (domain.FormattedMessage, error) {
	tmpl, ok := f.templates[platform]
	if !ok {
		tmpl = Template{Content: DefaultContent, Embed: true}
	}
	vars := Variables(item, platform)
	msg := domain.FormattedMessage{
		Platform: platform,
		Content:  strings.TrimSpace(Render(tmpl.Content, vars)),
	}
	if tmpl.Embed {
		msg.Embed = f.embed(item, platform)
	}
	if msg.Content == "" && (msg.Embed == nil || (msg.Embed.Title == "" && msg.Embed.URL == "")) {
		return domain.FormattedMessage{}, ErrEmptyMessage
	}
	return msg, nil
}

// Render replaces each {field} with its value. Unknown fields render empty.
func Render(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		return vars[m[1:len(m)-1]]
	})
}

// Variables lists the placeholders available for an item. Extra fields from
// the connector are included but never shadow the core ones.
func Variables(item domain.CandidateItem, platform domain.Platform) map[string]string {
	vars := make(map[string]string, len(item.Extra)+10)
	for k, v := range item.Extra {
		vars[k] = v
	}
	vars["id"] = item.PlatformID
	vars["title"] = item.Title
	vars["url"] = item.URL
	vars["author"] = item.Author
	vars["description"] = item.Description
	vars["thumbnail"] = item.Thumbnail
	vars["platform"] = string(platform)
	if !item.PublishedAt.IsZero() {
		vars["published"] = item.PublishedAt.UTC().Format(time.RFC3339)
		vars["date"] = item.PublishedAt.UTC().Format("2006-01-02")
	}
	if _, ok := vars["channel"]; !ok {
		vars["channel"] = item.Author
	}
	if _, ok := vars["username"]; !ok {
		vars["username"] = item.Author
	}
	return vars
}

func (f *TemplateFormatter) embed(item domain.CandidateItem, platform domain.Platform) *domain.Embed {
	e := &domain.Embed{
		Title:       item.Title,
		URL:         item.URL,
		Color:       Color(platform),
		Author:      item.Author,
		Thumbnail:   item.Thumbnail,
		Description: shorten(item.Description, descriptionMax),
		Timestamp:   item.PublishedAt,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = f.now()
	}

	var keys []struct{ key, name string }
	switch platform {
	case domain.PlatformYouTube:
		keys = []struct{ key, name string }{{"views", "Views"}, {"likes", "Likes"}, {"duration", "Duration"}}
	case domain.PlatformReddit:
		keys = []struct{ key, name string }{{"upvotes", "Upvotes"}, {"comments", "Comments"}, {"subreddit", "Subreddit"}}
	}
	for _, k := range keys {
		v, ok := item.Extra[k.key]
		if !ok || v == "" {
			continue
		}
		if k.key == "subreddit" && !strings.HasPrefix(v, "r/") {
			v = "r/" + v
		}
		e.Fields = append(e.Fields, domain.EmbedField{Name: k.name, Value: v, Inline: true})
	}
	return e
}

func Color(p domain.Platform) int {
	if c, ok := platformColors[p]; ok {
		return c
	}
	return defaultColor
}

func shorten(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
