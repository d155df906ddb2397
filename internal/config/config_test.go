package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFromYAMLDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("freshservice:\n  domain: acme\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !cfg.Sync.AutoDetectDell {
		t.Fatalf("expected auto detect enabled by default")
	}
	if cfg.Sync.Workers != DefaultWorkers {
		t.Fatalf("workers = %d", cfg.Sync.Workers)
	}
	if time.Duration(cfg.Freshservice.Timeout) != DefaultTimeout {
		t.Fatalf("timeout = %v", time.Duration(cfg.Freshservice.Timeout))
	}
	if cfg.IntervalHours() != DefaultSyncHours {
		t.Fatalf("interval = %d", cfg.IntervalHours())
	}
	if got := cfg.BaseURL(); got != "https://acme.freshservice.com" {
		t.Fatalf("base url = %s", got)
	}
}

func TestSyncConfiguration(t *testing.T) {
	cfg, err := FromYAML([]byte(`
freshservice:
  domain: acme
  api_key: k
  timeout: 5
sync:
  auto_detect_dell: false
  dell_asset_type_ids: " 101, ,202,303 "
  sync_schedule: 6
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sc := cfg.SyncConfiguration()
	if sc.AutoDetect {
		t.Fatalf("auto detect should be off")
	}
	if diff := cmp.Diff([]string{"101", "202", "303"}, sc.CategoryIDs); diff != "" {
		t.Fatalf("category ids (-want +got):\n%s", diff)
	}
	if sc.IntervalHours != 6 {
		t.Fatalf("interval = %d", sc.IntervalHours)
	}
	if time.Duration(cfg.Freshservice.Timeout) != 5*time.Second {
		t.Fatalf("timeout = %v", time.Duration(cfg.Freshservice.Timeout))
	}
}

func TestParseSyncSchedule(t *testing.T) {
	cases := map[string]int{"": 24, "abc": 24, "0": 24, "-3": 24, "12": 12, " 8 ": 8}
	for in, want := range cases {
		if got := ParseSyncSchedule(in); got != want {
			t.Errorf("ParseSyncSchedule(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestValidateErrors(t *testing.T) {
	cfg := Default()
	var ce ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &ce) || ce.Field != "freshservice.domain" {
		t.Fatalf("expected domain error, got %v", err)
	}
	cfg.Freshservice.Domain = "acme"
	if err := cfg.Validate(); !errors.As(err, &ce) || ce.Field != "freshservice.api_key" {
		t.Fatalf("expected api key error, got %v", err)
	}
	cfg.Freshservice.APIKey = "k"
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); !errors.As(err, &ce) || ce.Field != "logging.format" {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestInvalidYAML(t *testing.T) {
	_, err := FromYAML([]byte("sync: [unterminated"))
	var ce ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoadGeneratedDefault(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault("acme")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Freshservice.Domain != "acme" || !cfg.Sync.AutoDetectDell || cfg.IntervalHours() != 24 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected missing config error")
	}
	opt, err := LoadOptional(t.TempDir())
	if err != nil || opt == nil {
		t.Fatalf("load optional: %v", err)
	}
}
