// Package config loads the static rules the companion runs with. Values are
// layered: command-line flags over environment over an optional YAML file
// over built-in defaults. Nothing is reconfigured at runtime.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/lotas/titlesentinel/internal/scan"
	"github.com/lotas/titlesentinel/internal/sentinel"
	"github.com/lotas/titlesentinel/internal/titles"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Environment variables consulted by ApplyEnv.
const (
	EnvConfig      = "TITLESENTINEL_CONFIG"
	EnvPort        = "TITLESENTINEL_PORT"
	EnvDataDir     = "TITLESENTINEL_DATA_DIR"
	EnvDebuggerURL = "TITLESENTINEL_DEBUGGER_URL"
)

// Timing holds every scheduler delay.
type Timing struct {
	ContentDebounce  time.Duration `yaml:"content_debounce"`
	TitleDebounce    time.Duration `yaml:"title_debounce"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	InitialScan      time.Duration `yaml:"initial_scan"`
	TitleSourceStart time.Duration `yaml:"title_source_start"`
	TitleSourceRetry time.Duration `yaml:"title_source_retry"`
	SnapshotTimeout  time.Duration `yaml:"snapshot_timeout"`
}

// Config is the effective configuration.
type Config struct {
	Port        int    `yaml:"port"`
	DataDir     string `yaml:"data_dir"`
	DebuggerURL string `yaml:"debugger_url"`
	MatchURL    string `yaml:"match_url"`

	Selectors     []string          `yaml:"selectors"`
	TitleSource   string            `yaml:"title_source"`
	Noise         string            `yaml:"noise"`
	GenericTitles titles.GenericSet `yaml:"generic_titles"`

	MaxTitleLen  int `yaml:"max_title_len"`
	FallbackLen  int `yaml:"fallback_len"`
	DisplayLen   int `yaml:"display_len"`
	SignatureLen int `yaml:"signature_len"`

	Timing Timing `yaml:"timing"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Port:     19191,
		DataDir:  filepath.Join(home, ".local", "share", "titlesentinel"),
		MatchURL: "https://gemini.google.com/",
		Selectors: []string{
			`[data-message-author-role="user"]`,
			"user-query",
			".user-query-container",
			`h2[data-test-id="user-query"]`,
		},
		TitleSource:   ".conversation-title",
		Noise:         scan.DefaultNoise,
		GenericTitles: append(titles.GenericSet(nil), titles.DefaultGeneric...),
		MaxTitleLen:   sentinel.DefaultMaxLen,
		FallbackLen:   scan.DefaultFallbackLen,
		DisplayLen:    60,
		SignatureLen:  10,
		Timing: Timing{
			ContentDebounce:  500 * time.Millisecond,
			TitleDebounce:    2 * time.Second,
			SettleDelay:      time.Second,
			InitialScan:      1500 * time.Millisecond,
			TitleSourceStart: 2 * time.Second,
			TitleSourceRetry: time.Second,
			SnapshotTimeout:  5 * time.Second,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path and then
// the environment. An empty path falls back to TITLESENTINEL_CONFIG; when
// that is unset too, no file is read.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode overlays the YAML document data onto cfg. Keys missing from the
// document keep their current values; unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", ErrInvalid, EnvPort, v)
		}
		c.Port = port
	}
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvDebuggerURL); v != "" {
		c.DebuggerURL = v
	}
	return nil
}

// Validate checks the configuration for values the companion cannot run
// with. Every error wraps ErrInvalid.
func (c Config) Validate() error {
	var problems []string
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if len(c.Selectors) == 0 {
		problems = append(problems, "no selector strategies")
	}
	for _, sel := range c.Selectors {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			problems = append(problems, fmt.Sprintf("selector %q: %v", sel, err))
		}
	}
	for name, sel := range map[string]string{"title_source": c.TitleSource, "noise": c.Noise} {
		if sel == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(sel); err != nil {
			problems = append(problems, fmt.Sprintf("%s %q: %v", name, sel, err))
		}
	}
	if len(c.GenericTitles) == 0 {
		problems = append(problems, "no generic titles")
	}
	for i, g := range c.GenericTitles {
		if strings.TrimSpace(g) == "" {
			problems = append(problems, fmt.Sprintf("generic title %d is empty", i))
		}
	}
	for name, n := range map[string]int{
		"max_title_len": c.MaxTitleLen,
		"fallback_len":  c.FallbackLen,
		"display_len":   c.DisplayLen,
		"signature_len": c.SignatureLen,
	} {
		if n <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", name))
		}
	}
	t := c.Timing
	for name, d := range map[string]time.Duration{
		"content_debounce":   t.ContentDebounce,
		"title_debounce":     t.TitleDebounce,
		"settle_delay":       t.SettleDelay,
		"initial_scan":       t.InitialScan,
		"title_source_start": t.TitleSourceStart,
		"title_source_retry": t.TitleSourceRetry,
		"snapshot_timeout":   t.SnapshotTimeout,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("timing.%s must be positive", name))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// ScanRules converts the selector settings for scan.NewScanner.
func (c Config) ScanRules() scan.Rules {
	return scan.Rules{
		Selectors:    c.Selectors,
		Noise:        c.Noise,
		TitleSource:  c.TitleSource,
		DisplayLen:   c.DisplayLen,
		FallbackLen:  c.FallbackLen,
		SignatureLen: c.SignatureLen,
	}
}

// Reconciler converts the title rules for sentinel.New.
func (c Config) Reconciler() sentinel.Config {
	return sentinel.Config{Generic: c.GenericTitles, MaxLen: c.MaxTitleLen}
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
