// Package config handles whit configuration from YAML files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level whit configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Capture  CaptureConfig  `yaml:"capture"`
	StoreDB  string         `yaml:"store_db"`
	LogLevel string         `yaml:"log_level"` // debug | info | warn | error
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	Remote   string `yaml:"remote"`
	Headless bool   `yaml:"headless"`
}

// AnalysisConfig controls the vision backend and the result cache.
type AnalysisConfig struct {
	ProxyURL string `yaml:"proxy_url"`
	Model    string `yaml:"model"`
	Tone     string `yaml:"tone"` // simple | detail | fun
	CacheMax int    `yaml:"cache_max"`
}

// CaptureConfig controls the screenshot pipeline.
type CaptureConfig struct {
	SettleFrames int `yaml:"settle_frames"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Analysis.ProxyURL == "" {
		c.Analysis.ProxyURL = "http://localhost:8787"
	}
	if c.Analysis.Model == "" {
		c.Analysis.Model = "gpt-4o-mini"
	}
	if c.Analysis.Tone == "" {
		c.Analysis.Tone = "simple"
	}
	if c.Analysis.CacheMax <= 0 {
		c.Analysis.CacheMax = 120
	}
	if c.Capture.SettleFrames <= 0 {
		c.Capture.SettleFrames = 3
	}
	if c.StoreDB == "" {
		c.StoreDB = "whit.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports configuration values no component could run with.
func (c *Config) Validate() error {
	switch c.Analysis.Tone {
	case "simple", "detail", "fun":
	default:
		return fmt.Errorf("config: unknown tone %q", c.Analysis.Tone)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}
