package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	t.Setenv(EnvPort, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvDebuggerURL, "")

	path := filepath.Join(t.TempDir(), "titlesentinel.yaml")
	doc := `
port: 20000
selectors:
  - ".query"
timing:
  content_debounce: 250ms
  title_debounce: 3s
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 20000 {
		t.Errorf("port = %d", cfg.Port)
	}
	if diff := cmp.Diff([]string{".query"}, cfg.Selectors); diff != "" {
		t.Errorf("selectors (-want +got):\n%s", diff)
	}
	if cfg.Timing.ContentDebounce != 250*time.Millisecond || cfg.Timing.TitleDebounce != 3*time.Second {
		t.Errorf("timing = %+v", cfg.Timing)
	}
	// Untouched keys keep their defaults.
	if cfg.Timing.SettleDelay != time.Second || cfg.TitleSource != ".conversation-title" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("selektors: [a]\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	os.WriteFile(path, []byte("port: 20000\ndata_dir: /from/file\n"), 0o644)
	t.Setenv(EnvPort, "30000")
	t.Setenv(EnvDataDir, "/from/env")
	t.Setenv(EnvDebuggerURL, "ws://127.0.0.1:9222/devtools/browser/x")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 30000 || cfg.DataDir != "/from/env" {
		t.Errorf("env not applied: port=%d dir=%q", cfg.Port, cfg.DataDir)
	}
	if !strings.HasPrefix(cfg.DebuggerURL, "ws://") {
		t.Errorf("debugger url = %q", cfg.DebuggerURL)
	}
}

func TestConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	os.WriteFile(path, []byte("match_url: https://example.test/\n"), 0o644)
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvPort, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MatchURL != "https://example.test/" {
		t.Errorf("match url = %q", cfg.MatchURL)
	}
}

func TestApplyEnvBadPort(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) string {
		if k == EnvPort {
			return "abc"
		}
		return ""
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no selectors", func(c *Config) { c.Selectors = nil }, "no selector strategies"},
		{"bad selector", func(c *Config) { c.Selectors = []string{"div[["} }, "selector"},
		{"bad title source", func(c *Config) { c.TitleSource = "p[[" }, "title_source"},
		{"empty generic entry", func(c *Config) { c.GenericTitles = []string{"Gemini", " "} }, "generic title 1 is empty"},
		{"no generics", func(c *Config) { c.GenericTitles = nil }, "no generic titles"},
		{"zero debounce", func(c *Config) { c.Timing.ContentDebounce = 0 }, "timing.content_debounce"},
		{"negative length", func(c *Config) { c.FallbackLen = -1 }, "fallback_len"},
		{"port", func(c *Config) { c.Port = 70000 }, "port 70000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	orig := Default()
	data, err := orig.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "content_debounce: 500ms") {
		t.Errorf("durations not rendered as strings:\n%s", data)
	}

	var back Config
	if err := Decode(data, &back); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(orig, back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestScanRules(t *testing.T) {
	rules := Default().ScanRules()
	if rules.FallbackLen != 40 || rules.DisplayLen != 60 || rules.SignatureLen != 10 {
		t.Errorf("rules = %+v", rules)
	}
	if rules.Selectors[0] != `[data-message-author-role="user"]` {
		t.Errorf("primary selector = %q", rules.Selectors[0])
	}
}
