package command

import (
	"context"
	"os/exec"
	"testing"

	"curator/internal/connector"
)

func requireSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestFetchParsesItems(t *testing.T) {
	sh := requireSh(t)
	c := Command{Path: sh, Args: []string{"-c", `printf '[{"id":"a","title":"%s"},{"title":"no id"},{"id":"b"}]' "$0"`}}

	items, err := c.Fetch(context.Background(), "hello")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].PlatformID != "a" || items[0].Title != "hello" || items[1].PlatformID != "b" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestFetchExitCodes(t *testing.T) {
	sh := requireSh(t)
	cases := []struct {
		script string
		want   connector.Kind
	}{
		{"exit 2", connector.KindInvalidQuery},
		{"exit 3", connector.KindAuth},
		{"exit 4", connector.KindRateLimited},
		{"exit 1", connector.KindTransient},
		{"echo not json", connector.KindTransient},
	}
	for _, tc := range cases {
		_, err := Command{Path: sh, Args: []string{"-c", tc.script}}.Fetch(context.Background(), "q")
		if err == nil {
			t.Fatalf("%q: expected error", tc.script)
		}
		if got := connector.KindOf(err); got != tc.want {
			t.Fatalf("%q: kind = %s, want %s", tc.script, got, tc.want)
		}
	}
}
