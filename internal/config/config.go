// Package config handles Nova configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/nova/config.yaml, /etc/nova/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "nova", "config.yaml"))
	}

	paths = append(paths, "/etc/nova/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Nova configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Companion CompanionConfig `yaml:"companion"`
	Speech    SpeechConfig    `yaml:"speech"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GeminiConfig defines the language service connection.
type GeminiConfig struct {
	// APIKey authenticates against the Generative Language API.
	// Falls back to the GEMINI_API_KEY environment variable when empty.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseurl"`
}

// CompanionConfig tunes conversation behavior.
type CompanionConfig struct {
	// QuietPeriod is how long the companion waits after an unanswered
	// user message before re-engaging.
	QuietPeriod time.Duration `yaml:"quiet_period"`
	// WelcomeAfterHours is the whole-hours absence threshold that
	// triggers a welcome-back message on startup.
	WelcomeAfterHours int `yaml:"welcome_after_hours"`
	// HistoryWindow is how many trailing transcript messages the reply
	// pipeline sends as context.
	HistoryWindow int `yaml:"history_window"`
	// Muted starts the session with speech output off.
	Muted bool `yaml:"muted"`
}

// SpeechConfig defines spoken output.
type SpeechConfig struct {
	// Command is the executable that speaks a line of text passed as
	// its final argument (e.g. "say" on macOS, "espeak" on Linux).
	// Empty disables speech.
	Command string `yaml:"command"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Gemini: GeminiConfig{
			Model:   "gemini-2.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		},
		Companion: CompanionConfig{
			QuietPeriod:       2 * time.Minute,
			WelcomeAfterHours: 1,
			HistoryWindow:     10,
		},
		DataDir: ".",
	}
}

// DBPath returns the SQLite database location under DataDir.
func (c *Config) DBPath() string {
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "nova.db")
}
