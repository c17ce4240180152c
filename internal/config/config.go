// Package config provides centralized configuration for promptrail.
// Settings come from a TOML file at the repo root (falling back to the
// home directory) with environment overrides on top.
package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/joss/promptrail/internal/logging"
)

// FileName is the config file looked up at the repo root and in $HOME.
const FileName = ".promptrail.toml"

// CustomPattern is a user supplied redaction rule.
type CustomPattern struct {
	Pattern     string `toml:"pattern"`
	Replacement string `toml:"replacement"`
}

// RedactionConfig controls the redaction pipeline.
type RedactionConfig struct {
	// Mode is "replace" (fixed placeholder) or "hash" (salted digest
	// so repeated secrets stay correlatable).
	Mode            string          `toml:"mode"`
	CustomPatterns  []CustomPattern `toml:"custom_patterns"`
	DisablePatterns []string        `toml:"disable_patterns"`
	Salt            string          `toml:"salt"`
}

// CaptureConfig controls what the capture path keeps.
type CaptureConfig struct {
	MaxPromptLength       int      `toml:"max_prompt_length"`
	StoreFullConversation bool     `toml:"store_full_conversation"`
	Exclude               []string `toml:"exclude"`
}

// Config is the full promptrail configuration.
type Config struct {
	Redaction RedactionConfig `toml:"redaction"`
	Capture   CaptureConfig   `toml:"capture"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Redaction: RedactionConfig{Mode: "replace"},
		Capture:   CaptureConfig{MaxPromptLength: 2000},
	}
}

// Load reads configuration for a working copy. A missing file yields
// defaults; a malformed file is reported and also yields defaults, so a
// bad config can never block capture.
func Load(workdir string) *Config {
	log := logging.New("config")

	path := findFile(workdir)
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config unreadable, using defaults")
		return Default()
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config malformed, using defaults")
		return Default()
	}
	cfg.normalize()
	return cfg
}

func (c *Config) normalize() {
	if c.Redaction.Mode != "hash" {
		c.Redaction.Mode = "replace"
	}
	if c.Capture.MaxPromptLength <= 0 {
		c.Capture.MaxPromptLength = Default().Capture.MaxPromptLength
	}
}

func findFile(workdir string) string {
	local := filepath.Join(workdir, FileName)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, FileName)
		if _, err := os.Stat(global); err == nil {
			return global
		}
	}
	return ""
}
