package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
api:
  base_url: https://example.org/API
  interval: 1200ms
poll:
  enabled: true
  rank_interval: 1h
dispatch:
  routes:
    rank_improved: [chat]
sinks:
  webhooks:
    chat: https://example.org/hook
storage:
  driver: memory
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != "https://example.org/API" {
		t.Fatalf("base_url = %q", cfg.API.BaseURL)
	}
	if cfg.API.Interval != "1200ms" {
		t.Fatalf("interval = %q", cfg.API.Interval)
	}
	if !cfg.Poll.Enabled || cfg.Poll.RankInterval != "1h" {
		t.Fatalf("poll = %+v", cfg.Poll)
	}
	if got := cfg.Dispatch.Routes["rank_improved"]; len(got) != 1 || got[0] != "chat" {
		t.Fatalf("routes = %v", cfg.Dispatch.Routes)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the parsed config")
	}
}

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{
		"api": {"base_url": "https://example.org/API"},
		"sinks": {"log": true},
		"dispatch": {"routes": {"rank_improved": ["log"]}},
		"storage": {"driver": "memory"}
	}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Sinks.Log {
		t.Fatal("sinks.log not parsed")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nsurprise: true\n"))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "surprise") {
		t.Fatalf("err = %v, want unknown-field rejection", err)
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", "storage:\n  driver: memory\n"))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json",
		`{"api":{"base_url":"x"},"storage":{"driver":"memory"}} {"extra":1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing tokens must be rejected")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := validConfig()
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("no config delivered")
	}

	// A full buffer drops the stale item and delivers the newest.
	stale, fresh := validConfig(), validConfig()
	m.publish(stale)
	m.publish(fresh)
	select {
	case got := <-ch:
		if got != fresh {
			t.Fatal("slow subscriber must see the newest config")
		}
	default:
		t.Fatal("no config delivered after overflow")
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("unsubscribed channel must be closed")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(validConfig())
}
