package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"servicetag/internal/domain"
)

const (
	// JobName is the only job the sync trigger recognises.
	JobName = "dell_asset_sync"

	DefaultSyncHours = 24
	DefaultWorkers   = 4
	DefaultTimeout   = 30 * time.Second
	fileName         = "servicetag.yml"
)

// ConfigurationError reports an unusable configuration or job request.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e ConfigurationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Config models servicetag.yml.
type Config struct {
	Freshservice struct {
		Domain  string   `yaml:"domain"`
		APIKey  string   `yaml:"api_key"`
		BaseURL string   `yaml:"base_url,omitempty"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"freshservice"`
	Sync struct {
		AutoDetectDell   bool   `yaml:"auto_detect_dell"`
		DellAssetTypeIDs string `yaml:"dell_asset_type_ids"`
		SyncSchedule     string `yaml:"sync_schedule"`
		Workers          int    `yaml:"workers"`
	} `yaml:"sync"`
	API struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret,omitempty"`
	} `yaml:"api"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Duration accepts Go duration strings ("30s") or bare seconds in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with servicetag init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// FromYAML parses config from raw YAML bytes and fills defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, ConfigurationError{Reason: fmt.Sprintf("invalid config yaml: %v", err)}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a config with every optional field populated.
func Default() *Config {
	var cfg Config
	cfg.Sync.AutoDetectDell = true
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Freshservice.Timeout <= 0 {
		c.Freshservice.Timeout = Duration(DefaultTimeout)
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = DefaultWorkers
	}
	if c.API.Addr == "" {
		c.API.Addr = "127.0.0.1:8080"
	}
	if c.API.BasePath == "" {
		c.API.BasePath = "/v0"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate checks the settings a sync run needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Freshservice.Domain) == "" && strings.TrimSpace(c.Freshservice.BaseURL) == "" {
		return ConfigurationError{Field: "freshservice.domain", Reason: "is required"}
	}
	if strings.TrimSpace(c.Freshservice.APIKey) == "" {
		return ConfigurationError{Field: "freshservice.api_key", Reason: "is required"}
	}
	for _, id := range c.CategoryIDs() {
		if strings.ContainsAny(id, `" `) {
			return ConfigurationError{Field: "sync.dell_asset_type_ids", Reason: fmt.Sprintf("invalid asset type id %q", id)}
		}
	}
	if c.Sync.Workers < 1 {
		return ConfigurationError{Field: "sync.workers", Reason: "must be at least 1"}
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return ConfigurationError{Field: "logging.format", Reason: "must be console or json"}
	}
	return nil
}

// BaseURL returns the Freshservice root URL.
func (c *Config) BaseURL() string {
	if c.Freshservice.BaseURL != "" {
		return strings.TrimRight(c.Freshservice.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.freshservice.com", strings.TrimSpace(c.Freshservice.Domain))
}

// CategoryIDs splits dell_asset_type_ids, dropping blanks.
func (c *Config) CategoryIDs() []string {
	return ParseCategoryIDs(c.Sync.DellAssetTypeIDs)
}

// IntervalHours returns sync_schedule, falling back to the default when unset or invalid.
func (c *Config) IntervalHours() int {
	return ParseSyncSchedule(c.Sync.SyncSchedule)
}

// SyncConfiguration returns the immutable per-run settings.
func (c *Config) SyncConfiguration() domain.SyncConfiguration {
	return domain.SyncConfiguration{
		AutoDetect:    c.Sync.AutoDetectDell,
		CategoryIDs:   c.CategoryIDs(),
		IntervalHours: c.IntervalHours(),
	}
}

// ParseCategoryIDs splits a comma-separated list of asset type ids.
func ParseCategoryIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParseSyncSchedule parses an hour count; non-positive or unparseable values become DefaultSyncHours.
func ParseSyncSchedule(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return DefaultSyncHours
	}
	return n
}

// GenerateDefault returns a starter config YAML.
func GenerateDefault(domainName string) string {
	return fmt.Sprintf(defaultTemplate, domainName)
}

const defaultTemplate = `freshservice:
  domain: %s
  api_key: ""
  timeout: 30s

sync:
  # Scan every asset and keep those whose serial looks like a Dell service tag.
  auto_detect_dell: true
  # Used only when auto_detect_dell is false, e.g. "12000345, 12000346".
  dell_asset_type_ids: ""
  sync_schedule: "24"
  workers: 4

api:
  addr: 127.0.0.1:8080
  base_path: /v0

logging:
  level: info
  format: console
`
