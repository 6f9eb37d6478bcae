package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curator/internal/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "curator.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
scheduler:
  tick: 5s
  workers: 2
dedup:
  retention: 720h
templates:
  youtube:
    template: "{title} {url}"
    embed: true
destinations:
  - id: main
    type: discord
    url: https://discord.com/api/webhooks/1/abc
  - id: phone
    type: telegram
    token: "123:abc"
    chat_id: 42
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Scheduler.Tick != 5*time.Second || cfg.Scheduler.Workers != 2 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.MinInterval != time.Minute || cfg.Scheduler.ShutdownTimeout != 30*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.Retention != 720*time.Hour || cfg.Scheduler.PruneSchedule != "@daily" {
		t.Fatalf("retention not handed to scheduler: %+v", cfg.Scheduler)
	}
	if cfg.Dedup.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Dedup.Driver)
	}
	if len(cfg.Destinations) != 2 || cfg.Destinations[1].ChatID != 42 || cfg.Destinations[0].Type != domain.DestinationDiscord {
		t.Fatalf("destinations = %+v", cfg.Destinations)
	}
	tpl := cfg.PlatformTemplates()[domain.PlatformYouTube]
	if tpl.Content != "{title} {url}" || !tpl.Embed {
		t.Fatalf("template = %+v", tpl)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "scheduler:\n  workers: 2\n")
	t.Setenv("CURATOR_SCHEDULER_WORKERS", "8")
	t.Setenv("CURATOR_DATABASE_PATH", "/tmp/other.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.Workers != 8 || cfg.Database.Path != "/tmp/other.db" {
		t.Fatalf("env ignored: workers=%d path=%s", cfg.Scheduler.Workers, cfg.Database.Path)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"workers", "scheduler:\n  workers: 0\n", "scheduler.workers"},
		{"min interval", "scheduler:\n  min_interval: 10ms\n", "scheduler.min_interval"},
		{"driver", "dedup:\n  driver: mongo\n", "dedup.driver"},
		{"prune schedule", "dedup:\n  prune_schedule: \"not cron\"\n", "dedup.prune_schedule"},
		{"template platform", "templates:\n  myspace:\n    template: x\n", "unknown platform"},
		{"duplicate destination", "destinations:\n  - {id: a, type: slack, url: http://x}\n  - {id: a, type: slack, url: http://y}\n", "duplicate id"},
		{"destination type", "destinations:\n  - {id: a, type: pager}\n", "unknown type"},
		{"webhook url", "destinations:\n  - {id: a, type: webhook}\n", "url is required"},
		{"telegram chat", "destinations:\n  - {id: a, type: telegram, token: t}\n", "chat_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
