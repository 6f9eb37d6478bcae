package feed

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	channelIDRe  = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
	playlistIDRe = regexp.MustCompile(`^(PL|UU|LL|FL|OL)[A-Za-z0-9_-]{10,}$`)
	subredditRe  = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)
)

// youTubeFeedURL accepts a channel id, a playlist id, a channel or playlist
// URL, or a feed URL.
func youTubeFeedURL(base, q string) (string, error) {
	q = strings.TrimSpace(q)
	switch {
	case channelIDRe.MatchString(q):
		return base + "/feeds/videos.xml?channel_id=" + q, nil
	case playlistIDRe.MatchString(q):
		return base + "/feeds/videos.xml?playlist_id=" + q, nil
	}

	u, err := url.Parse(q)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("unrecognised youtube query %q", q)
	}
	if strings.HasPrefix(u.Path, "/feeds/videos.xml") {
		return u.String(), nil
	}
	if list := u.Query().Get("list"); playlistIDRe.MatchString(list) {
		return base + "/feeds/videos.xml?playlist_id=" + list, nil
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "channel" && channelIDRe.MatchString(parts[1]) {
		return base + "/feeds/videos.xml?channel_id=" + parts[1], nil
	}
	return "", fmt.Errorf("youtube query %q needs a channel id or playlist id", q)
}

// redditFeedURL accepts "golang", "r/golang", "/r/golang/top" or a subreddit URL.
// The listing defaults to new.
func redditFeedURL(base, q string) (string, error) {
	q = strings.TrimSpace(q)
	if u, err := url.Parse(q); err == nil && u.Host != "" {
		q = u.Path
	}
	q = strings.Trim(q, "/")
	q = strings.TrimPrefix(q, "r/")

	name, sort, _ := strings.Cut(q, "/")
	if !subredditRe.MatchString(name) {
		return "", fmt.Errorf("invalid subreddit %q", name)
	}
	switch strings.TrimSuffix(sort, "/.rss") {
	case "", "new", ".rss":
		sort = "new"
	case "hot", "top", "rising":
		sort = strings.TrimSuffix(sort, "/.rss")
	default:
		return "", fmt.Errorf("unsupported subreddit listing %q", sort)
	}
	return fmt.Sprintf("%s/r/%s/%s/.rss", base, name, sort), nil
}
