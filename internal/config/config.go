package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eargollo/fsaudit/internal/scan"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	RootPath        string      `yaml:"root_path"        json:"root_path"`
	ExcludePatterns []string    `yaml:"exclude_patterns" json:"exclude_patterns"`
	FollowSymlinks  bool        `yaml:"follow_symlinks"  json:"follow_symlinks"`
	ScanWorkers     ScanWorkers `yaml:"scan_workers"     json:"scan_workers"`
	ReadTimeout     *Duration   `yaml:"read_timeout"     json:"read_timeout"`
	OutputDir       string      `yaml:"output_dir"       json:"output_dir"`
	Schedule        string      `yaml:"schedule"         json:"schedule"`
	ScanPaused      bool        `yaml:"scan_paused"      json:"scan_paused"`
	DBPath          string      `yaml:"db_path"          json:"-"`
	HTTPAddr        string      `yaml:"http_addr"        json:"-"`
	LogLevel        string      `yaml:"log_level"        json:"-"`
	LogFile         string      `yaml:"log_file"         json:"-"`
}

// ScanWorkers holds concurrency knobs for the scan pipeline.
type ScanWorkers struct {
	Walkers    int `yaml:"walkers"    json:"walkers"`
	Processors int `yaml:"processors" json:"processors"`
	QueueSize  int `yaml:"queue_size" json:"queue_size"`
}

// Duration is a time.Duration written as "30s" in YAML and JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// DefaultReadTimeout bounds a single chunk read when read_timeout is unset.
const DefaultReadTimeout = 30 * time.Second

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "analysis_output"
	}
	if c.Schedule == "" {
		c.Schedule = "0 2 * * 0"
	}
	if c.DBPath == "" {
		c.DBPath = "data/fsaudit.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.ScanWorkers.Walkers == 0 {
		c.ScanWorkers.Walkers = 1
	}
	if c.ScanWorkers.Processors == 0 {
		c.ScanWorkers.Processors = runtime.NumCPU()
	}
	if c.ScanWorkers.QueueSize == 0 {
		c.ScanWorkers.QueueSize = 1000
	}
	if c.ReadTimeout == nil {
		d := Duration(DefaultReadTimeout)
		c.ReadTimeout = &d
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the tool
// can run without a config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.ScanWorkers.Walkers < 0 || c.ScanWorkers.Processors < 0 || c.ScanWorkers.QueueSize < 0 {
		return errors.New("scan_workers values must not be negative")
	}
	if c.ReadTimeout != nil && *c.ReadTimeout < 0 {
		return errors.New("read_timeout must not be negative")
	}
	if err := scan.ValidateExcludes(c.ExcludePatterns); err != nil {
		return err
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// ScanConfig translates c into pipeline settings.
func (c *Config) ScanConfig() scan.Config {
	cfg := scan.Config{
		Walkers:        c.ScanWorkers.Walkers,
		Processors:     c.ScanWorkers.Processors,
		QueueSize:      c.ScanWorkers.QueueSize,
		FollowSymlinks: c.FollowSymlinks,
		Excludes:       append([]string(nil), c.ExcludePatterns...),
		ReadTimeout:    DefaultReadTimeout,
	}
	if c.ReadTimeout != nil {
		cfg.ReadTimeout = time.Duration(*c.ReadTimeout)
	}
	return cfg
}

// Setting keys persisted in the database by PATCH /api/config.
const (
	KeyRootPath        = "root_path"
	KeyExcludePatterns = "exclude_patterns"
	KeyFollowSymlinks  = "follow_symlinks"
	KeySchedule        = "schedule"
	KeyScanPaused      = "scan_paused"
	KeyWalkers         = "walkers"
	KeyProcessors      = "processors"
	KeyQueueSize       = "queue_size"
	KeyReadTimeout     = "read_timeout"
)

// MergeDBSettings overlays settings stored in the DB on top of the config.
// Unknown keys are silently ignored; malformed values are logged and skipped.
func MergeDBSettings(cfg *Config, settings map[string]string) {
	for key, val := range settings {
		if err := mergeSetting(cfg, key, val); err != nil {
			slog.Warn("ignoring stored setting", "key", key, "value", val, "error", err)
		}
	}
}

func mergeSetting(cfg *Config, key, val string) error {
	switch key {
	case KeyRootPath:
		cfg.RootPath = val
	case KeyExcludePatterns:
		var patterns []string
		if err := json.Unmarshal([]byte(val), &patterns); err != nil {
			return err
		}
		cfg.ExcludePatterns = patterns
	case KeyFollowSymlinks:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		cfg.FollowSymlinks = b
	case KeySchedule:
		cfg.Schedule = val
	case KeyScanPaused:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		cfg.ScanPaused = b
	case KeyWalkers, KeyProcessors, KeyQueueSize:
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		if n < 1 {
			return fmt.Errorf("%s must be positive", key)
		}
		switch key {
		case KeyWalkers:
			cfg.ScanWorkers.Walkers = n
		case KeyProcessors:
			cfg.ScanWorkers.Processors = n
		default:
			cfg.ScanWorkers.QueueSize = n
		}
	case KeyReadTimeout:
		var d Duration
		if err := d.UnmarshalText([]byte(val)); err != nil {
			return err
		}
		cfg.ReadTimeout = &d
	}
	return nil
}
