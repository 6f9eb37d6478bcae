// Package feed implements connectors for platforms that publish Atom or RSS:
// YouTube channel and playlist feeds, subreddit listings and plain feeds.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"curator/internal/connector"
	"curator/internal/domain"
	"curator/internal/ratelimit"
)

const (
	DefaultYouTubeBase = "https://www.youtube.com"
	DefaultRedditBase  = "https://www.reddit.com"
	DefaultUserAgent   = "curator/1.0 (+https://github.com/curator)"
)

type Options struct {
	Client    *http.Client
	UserAgent string
	// QPS caps requests per host. Zero means unlimited.
	QPS float64
	// BaseURL overrides the platform host for YouTube and Reddit.
	BaseURL string
}

// Connector fetches a feed resolved from the task query.
type Connector struct {
	platform domain.Platform
	parser   *gofeed.Parser
	limits   *ratelimit.Keyed
	resolve  func(query string) (string, error)
}

func newConnector(p domain.Platform, opts Options, resolve func(string) (string, error)) *Connector {
	parser := gofeed.NewParser()
	parser.UserAgent = opts.UserAgent
	if parser.UserAgent == "" {
		parser.UserAgent = DefaultUserAgent
	}
	parser.Client = opts.Client
	if parser.Client == nil {
		parser.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Connector{
		platform: p,
		parser:   parser,
		limits:   ratelimit.NewKeyed(opts.QPS, 1),
		resolve:  resolve,
	}
}

func NewYouTube(opts Options) *Connector {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultYouTubeBase
	}
	return newConnector(domain.PlatformYouTube, opts, func(q string) (string, error) {
		return youTubeFeedURL(base, q)
	})
}

func NewReddit(opts Options) *Connector {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultRedditBase
	}
	return newConnector(domain.PlatformReddit, opts, func(q string) (string, error) {
		return redditFeedURL(base, q)
	})
}

func NewRSS(opts Options) *Connector {
	return newConnector(domain.PlatformRSS, opts, func(q string) (string, error) {
		u, err := url.Parse(strings.TrimSpace(q))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("not a feed url: %q", q)
		}
		return u.String(), nil
	})
}

func (c *Connector) Fetch(ctx context.Context, query string) ([]domain.CandidateItem, error) {
	feedURL, err := c.resolve(query)
	if err != nil {
		return nil, &connector.Error{Kind: connector.KindInvalidQuery, Err: err}
	}
	u, _ := url.Parse(feedURL)
	if err := c.limits.Wait(ctx, u.Host); err != nil {
		return nil, &connector.Error{Kind: connector.KindTransient, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	parsed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, classify(feedURL, err)
	}

	items := make([]domain.CandidateItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		ci, ok := c.toCandidate(it)
		if !ok {
			continue
		}
		items = append(items, ci)
	}
	return items, nil
}

func classify(feedURL string, err error) error {
	var he gofeed.HTTPError
	if errors.As(err, &he) {
		return &connector.Error{Kind: connector.ClassifyStatus(he.StatusCode), Err: fmt.Errorf("fetch %s: %w", feedURL, err)}
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return &connector.Error{Kind: connector.KindInvalidQuery, Err: fmt.Errorf("parse %s: %w", feedURL, err)}
	}
	return &connector.Error{Kind: connector.KindTransient, Err: fmt.Errorf("fetch %s: %w", feedURL, err)}
}

func (c *Connector) toCandidate(it *gofeed.Item) (domain.CandidateItem, bool) {
	id := extValue(it.Extensions, "yt", "videoId")
	if id == "" {
		id = it.GUID
	}
	if id == "" {
		id = it.Link
	}
	if id == "" {
		return domain.CandidateItem{}, false
	}

	ci := domain.CandidateItem{
		PlatformID:  id,
		Title:       strings.TrimSpace(it.Title),
		URL:         it.Link,
		Description: strings.TrimSpace(it.Description),
		Extra:       map[string]string{},
	}
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		ci.Author = it.Authors[0].Name
	}
	if it.PublishedParsed != nil {
		ci.PublishedAt = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		ci.PublishedAt = *it.UpdatedParsed
	}
	if it.Image != nil {
		ci.Thumbnail = it.Image.URL
	}

	if group, ok := it.Extensions["media"]["group"]; ok && len(group) > 0 {
		if ci.Thumbnail == "" {
			if th := group[0].Children["thumbnail"]; len(th) > 0 {
				ci.Thumbnail = th[0].Attrs["url"]
			}
		}
		if ci.Description == "" {
			if d := group[0].Children["description"]; len(d) > 0 {
				ci.Description = strings.TrimSpace(d[0].Value)
			}
		}
		// YouTube: <media:community><media:starRating count=".."/><media:statistics views=".."/>
		if comm := group[0].Children["community"]; len(comm) > 0 {
			if st := comm[0].Children["statistics"]; len(st) > 0 && st[0].Attrs["views"] != "" {
				ci.Extra["views"] = st[0].Attrs["views"]
			}
			if sr := comm[0].Children["starRating"]; len(sr) > 0 && sr[0].Attrs["count"] != "" {
				ci.Extra["likes"] = sr[0].Attrs["count"]
			}
		}
	}
	if ci.Thumbnail == "" {
		if th := it.Extensions["media"]["thumbnail"]; len(th) > 0 {
			ci.Thumbnail = th[0].Attrs["url"]
		}
	}

	switch c.platform {
	case domain.PlatformYouTube:
		if ch := extValue(it.Extensions, "yt", "channelId"); ch != "" {
			ci.Extra["channel_id"] = ch
		}
	case domain.PlatformReddit:
		if len(it.Categories) > 0 {
			ci.Extra["subreddit"] = it.Categories[0]
		}
		ci.Author = strings.TrimPrefix(ci.Author, "/u/")
	}
	if ci.Description == "" && it.Content != "" {
		ci.Description = strings.TrimSpace(it.Content)
	}
	return ci, true
}

func extValue(e ext.Extensions, ns, name string) string {
	if e == nil {
		return ""
	}
	if v := e[ns][name]; len(v) > 0 {
		return strings.TrimSpace(v[0].Value)
	}
	return ""
}
