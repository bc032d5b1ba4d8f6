// Package config loads and validates server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the top-level server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Listen          string   `yaml:"listen" validate:"required,hostname_port"`
	ReadTimeout     Duration `yaml:"read_timeout" validate:"min=0"`
	WriteTimeout    Duration `yaml:"write_timeout" validate:"min=0"`
	IdleTimeout     Duration `yaml:"idle_timeout" validate:"min=0"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// StoreConfig configures the storage engine.
type StoreConfig struct {
	Dir                 string   `yaml:"dir" validate:"required"`
	SegmentSize         int64    `yaml:"segment_size" validate:"min=0"`
	MaxKeySize          int      `yaml:"max_key_size" validate:"min=0"`
	MaxValueSize        int      `yaml:"max_value_size" validate:"min=0"`
	SyncOnPut           bool     `yaml:"sync_on_put"`
	Compression         bool     `yaml:"compression"`
	CompactionThreshold int64    `yaml:"compaction_threshold" validate:"min=0"`
	CompactInterval     Duration `yaml:"compact_interval" validate:"min=0"`
	AutoCompaction      *bool    `yaml:"auto_compaction"`
	CompactBatch        int      `yaml:"compact_batch" validate:"min=0"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	auto := true
	return Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:7379",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Dir:            "./data",
			AutoCompaction: &auto,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file, fills unset fields with defaults, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("config field %s: failed %q validation", e.Namespace(), e.Tag())
		}
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// AutoCompactionEnabled resolves the tri-state auto_compaction setting;
// unset means enabled.
func (s StoreConfig) AutoCompactionEnabled() bool {
	return s.AutoCompaction == nil || *s.AutoCompaction
}
