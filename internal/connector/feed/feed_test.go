package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"curator/internal/connector"
)

const youTubeAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
 <title>Channel</title>
 <entry>
  <id>yt:video:vid00000001</id>
  <yt:videoId>vid00000001</yt:videoId>
  <yt:channelId>UCaaaaaaaaaaaaaaaaaaaaaa</yt:channelId>
  <title>Newest video</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=vid00000001"/>
  <author><name>Some Channel</name></author>
  <published>2024-05-02T10:00:00+00:00</published>
  <media:group>
   <media:title>Newest video</media:title>
   <media:thumbnail url="https://i.ytimg.com/vi/vid00000001/hqdefault.jpg" width="480" height="360"/>
   <media:description>All about Go</media:description>
   <media:community>
    <media:starRating count="321" average="5.00" min="1" max="5"/>
    <media:statistics views="98765"/>
   </media:community>
  </media:group>
 </entry>
 <entry>
  <id>yt:video:vid00000002</id>
  <yt:videoId>vid00000002</yt:videoId>
  <title>Older video</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=vid00000002"/>
  <published>2024-05-01T10:00:00+00:00</published>
 </entry>
</feed>`

const plainRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Blog</title>
<item><title>First</title><link>https://blog.example/1</link><guid>post-1</guid><description>one</description></item>
<item><title>No guid</title><link>https://blog.example/2</link></item>
<item><title>Nothing to key on</title></item>
</channel></rss>`

func TestYouTubeFetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(youTubeAtom))
	}))
	defer srv.Close()

	c := NewYouTube(Options{BaseURL: srv.URL})
	items, err := c.Fetch(context.Background(), "UCaaaaaaaaaaaaaaaaaaaaaa")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotQuery != "channel_id=UCaaaaaaaaaaaaaaaaaaaaaa" {
		t.Fatalf("query = %q", gotQuery)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	first := items[0]
	if first.PlatformID != "vid00000001" {
		t.Fatalf("id = %q", first.PlatformID)
	}
	if first.Author != "Some Channel" || first.Description != "All about Go" {
		t.Fatalf("unexpected item: %+v", first)
	}
	if first.Thumbnail != "https://i.ytimg.com/vi/vid00000001/hqdefault.jpg" {
		t.Fatalf("thumbnail = %q", first.Thumbnail)
	}
	if first.Extra["channel_id"] != "UCaaaaaaaaaaaaaaaaaaaaaa" {
		t.Fatalf("channel id extra = %q", first.Extra["channel_id"])
	}
	if first.Extra["views"] != "98765" || first.Extra["likes"] != "321" {
		t.Fatalf("engagement extra = %v", first.Extra)
	}
	if _, ok := items[1].Extra["views"]; ok {
		t.Fatal("entry without statistics must not report views")
	}
	if items[1].PlatformID != "vid00000002" {
		t.Fatal("connector order must be preserved")
	}
}

func TestRSSFetchIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(plainRSS))
	}))
	defer srv.Close()

	items, err := NewRSS(Options{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected items without id to be dropped, got %d", len(items))
	}
	if items[0].PlatformID != "post-1" || items[1].PlatformID != "https://blog.example/2" {
		t.Fatalf("ids = %q, %q", items[0].PlatformID, items[1].PlatformID)
	}
}

func TestFetchErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   connector.Kind
	}{
		{"forbidden", http.StatusForbidden, "", connector.KindAuth},
		{"throttled", http.StatusTooManyRequests, "", connector.KindRateLimited},
		{"missing", http.StatusNotFound, "", connector.KindInvalidQuery},
		{"server", http.StatusBadGateway, "", connector.KindTransient},
		{"not a feed", http.StatusOK, "<html><body>hello</body></html>", connector.KindInvalidQuery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewReddit(Options{BaseURL: srv.URL}).Fetch(context.Background(), "golang")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := connector.KindOf(err); got != tc.want {
				t.Fatalf("kind = %s, want %s (%v)", got, tc.want, err)
			}
		})
	}
}

func TestInvalidQueries(t *testing.T) {
	if _, err := NewRSS(Options{}).Fetch(context.Background(), "not a url"); connector.KindOf(err) != connector.KindInvalidQuery {
		t.Fatalf("rss: %v", err)
	}
	if _, err := NewYouTube(Options{}).Fetch(context.Background(), "@somehandle"); connector.KindOf(err) != connector.KindInvalidQuery {
		t.Fatalf("youtube: %v", err)
	}
	if _, err := NewReddit(Options{}).Fetch(context.Background(), "r/x"); connector.KindOf(err) != connector.KindInvalidQuery {
		t.Fatalf("reddit: %v", err)
	}
}

func TestQueryResolution(t *testing.T) {
	cases := []struct {
		in, want string
		yt       bool
	}{
		{"UCaaaaaaaaaaaaaaaaaaaaaa", "B/feeds/videos.xml?channel_id=UCaaaaaaaaaaaaaaaaaaaaaa", true},
		{"PLbbbbbbbbbbbbbbbb", "B/feeds/videos.xml?playlist_id=PLbbbbbbbbbbbbbbbb", true},
		{"https://www.youtube.com/channel/UCaaaaaaaaaaaaaaaaaaaaaa/videos", "B/feeds/videos.xml?channel_id=UCaaaaaaaaaaaaaaaaaaaaaa", true},
		{"https://www.youtube.com/watch?v=x&list=PLbbbbbbbbbbbbbbbb", "B/feeds/videos.xml?playlist_id=PLbbbbbbbbbbbbbbbb", true},
		{"golang", "B/r/golang/new/.rss", false},
		{"/r/golang/top", "B/r/golang/top/.rss", false},
		{"https://www.reddit.com/r/golang/", "B/r/golang/new/.rss", false},
	}
	for _, tc := range cases {
		var got string
		var err error
		if tc.yt {
			got, err = youTubeFeedURL("B", tc.in)
		} else {
			got, err = redditFeedURL("B", tc.in)
		}
		if err != nil || got != tc.want {
			t.Errorf("%q -> %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}
