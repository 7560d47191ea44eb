// Package config loads bleat settings from YAML, a .env file and the
// environment, in that order of increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all bleat configuration.
type Config struct {
	mu sync.RWMutex

	Serial     SerialConfig     `yaml:"serial" json:"serial"`
	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Log        LogConfig        `yaml:"log" json:"log"`
	Transcript TranscriptConfig `yaml:"transcript" json:"transcript"`
	Server     ServerConfig     `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	Port     string `yaml:"port" json:"port"` // e.g. /dev/ttyUSB0
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

type EngineConfig struct {
	TimeoutMs int  `yaml:"timeout_ms" json:"timeoutMs"`
	Debug     bool `yaml:"debug" json:"debug"` // echo traffic to stderr
	Color     bool `yaml:"color" json:"color"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error
}

type TranscriptConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr" json:"listenAddr"`
	ProbeSeconds int    `yaml:"probe_seconds" json:"probeSeconds"` // AT liveness probe interval, 0 disables
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 9600,
		},
		Engine: EngineConfig{
			TimeoutMs: 1000,
			Debug:     false,
			Color:     true,
		},
		Log: LogConfig{
			Level: "warn",
		},
		Transcript: TranscriptConfig{
			Enabled: false,
			Path:    "/var/log/bleat",
		},
		Server: ServerConfig{
			ListenAddr:   ":8080",
			ProbeSeconds: 10,
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the file is missing; a file
// that exists but does not parse is an error.
func Load(path string, log logrus.FieldLogger) (*Config, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "config")

	cfg := Default()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.WithField("path", path).Debug("no config file, using defaults")
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			log.WithField("path", path).Debug("config loaded")
		}
	}

	envPaths := []string{".env"}
	if path != "" {
		envPaths = append([]string{filepath.Join(filepath.Dir(path), ".env")}, envPaths...)
	}
	for _, ep := range envPaths {
		loadEnvFile(ep, log)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// Variables already present in the real environment win.
func loadEnvFile(path string, log logrus.FieldLogger) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.WithField("path", path).Debug("loading .env")
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: BLEAT_PORT, BLEAT_BAUD, BLEAT_TIMEOUT_MS, BLEAT_DEBUG,
// BLEAT_LOG_LEVEL, BLEAT_LISTEN, BLEAT_TRANSCRIPT, BLEAT_TRANSCRIPT_PATH
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BLEAT_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("BLEAT_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("BLEAT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.TimeoutMs = n
		}
	}
	if v := os.Getenv("BLEAT_DEBUG"); v != "" {
		c.Engine.Debug = truthy(v)
	}
	if v := os.Getenv("BLEAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BLEAT_LISTEN"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("BLEAT_TRANSCRIPT"); v != "" {
		c.Transcript.Enabled = truthy(v)
	}
	if v := os.Getenv("BLEAT_TRANSCRIPT_PATH"); v != "" {
		c.Transcript.Path = v
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Timeout returns the engine timeout as a duration.
func (c *Config) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Engine.TimeoutMs) * time.Millisecond
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config: no file path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON update. Fields absent from data
// keep their current values.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal current: %w", err)
	}
	var base map[string]any
	if err := json.Unmarshal(current, &base); err != nil {
		return fmt.Errorf("config: unmarshal current: %w", err)
	}
	var patch map[string]any
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("config: unmarshal patch: %w", err)
	}
	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("config: marshal merged: %w", err)
	}
	return json.Unmarshal(merged, c)
}

func deepMerge(dst, src map[string]any) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// TranscriptEnabled reports whether exchanges should be recorded.
func (c *Config) TranscriptEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Transcript.Enabled
}
