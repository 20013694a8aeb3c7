package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Assistant AssistantConfig `json:"assistant" mapstructure:"assistant"`
	Data      DataConfig      `json:"data" mapstructure:"data"`
	Proxy     ProxyConfig     `json:"proxy" mapstructure:"proxy"`
	Upload    UploadConfig    `json:"upload" mapstructure:"upload"`
	Reveal    RevealConfig    `json:"reveal" mapstructure:"reveal"`
}

// AssistantConfig represents the remote assistant account and run limits
type AssistantConfig struct {
	APIKey                string `json:"api_key" mapstructure:"api_key"`
	Organization          string `json:"organization" mapstructure:"organization"`
	AssistantID           string `json:"assistant_id" mapstructure:"assistant_id"`
	BaseURL               string `json:"base_url,omitempty" mapstructure:"base_url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	PollIntervalMillis    int    `json:"poll_interval_millis" mapstructure:"poll_interval_millis"`
	MaxPolls              int    `json:"max_polls" mapstructure:"max_polls"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// ProxyConfig represents proxy configuration
type ProxyConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
}

// UploadConfig represents attachment upload limits
type UploadConfig struct {
	MaxFileSizeMB  int `json:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	MaxImageSize   int `json:"max_image_size" mapstructure:"max_image_size"` // px, longest side
	ImageQuality   int `json:"image_quality" mapstructure:"image_quality"`
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// RevealConfig represents the pace of the reply reveal
type RevealConfig struct {
	ChunkSize      int `json:"chunk_size" mapstructure:"chunk_size"`
	IntervalMillis int `json:"interval_millis" mapstructure:"interval_millis"`
}

// DefaultConfig returns the configuration used when nothing else is set
func DefaultConfig() *Config {
	return &Config{
		Assistant: AssistantConfig{
			BaseURL:               "https://api.openai.com/v1",
			RequestTimeoutSeconds: 30,
			PollIntervalMillis:    1000,
			MaxPolls:              60,
		},
		Data: DataConfig{
			DBPath: "./data/askdan.db",
		},
		Upload: UploadConfig{
			MaxFileSizeMB:  20,
			MaxImageSize:   2048,
			ImageQuality:   85,
			TimeoutSeconds: 60,
		},
		Reveal: RevealConfig{
			ChunkSize:      3,
			IntervalMillis: 5,
		},
	}
}

// envAliases are the well-known variables accepted next to ASKDAN_*
var envAliases = map[string]string{
	"assistant.api_key":      "OPENAI_API_KEY",
	"assistant.organization": "OPENAI_ORGANIZATION",
	"assistant.assistant_id": "OPENAI_ASSISTANT_ID",
	"assistant.base_url":     "OPENAI_BASE_URL",
}

// LoadConfig loads configuration from file and environment variables. A
// missing file is not an error; defaults and the environment still apply.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("ASKDAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		prefixed := "ASKDAN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	if config.Data.DBPath != "" {
		config.Data.DBPath = expandPath(config.Data.DBPath)
	}

	return &config, nil
}

// setDefaults registers every key so the environment can override it
func setDefaults(v *viper.Viper, config *Config) {
	v.SetDefault("assistant.api_key", config.Assistant.APIKey)
	v.SetDefault("assistant.organization", config.Assistant.Organization)
	v.SetDefault("assistant.assistant_id", config.Assistant.AssistantID)
	v.SetDefault("assistant.base_url", config.Assistant.BaseURL)
	v.SetDefault("assistant.request_timeout_seconds", config.Assistant.RequestTimeoutSeconds)
	v.SetDefault("assistant.poll_interval_millis", config.Assistant.PollIntervalMillis)
	v.SetDefault("assistant.max_polls", config.Assistant.MaxPolls)
	v.SetDefault("data.db_path", config.Data.DBPath)
	v.SetDefault("proxy.enabled", config.Proxy.Enabled)
	v.SetDefault("proxy.url", config.Proxy.URL)
	v.SetDefault("upload.max_file_size_mb", config.Upload.MaxFileSizeMB)
	v.SetDefault("upload.max_image_size", config.Upload.MaxImageSize)
	v.SetDefault("upload.image_quality", config.Upload.ImageQuality)
	v.SetDefault("upload.timeout_seconds", config.Upload.TimeoutSeconds)
	v.SetDefault("reveal.chunk_size", config.Reveal.ChunkSize)
	v.SetDefault("reveal.interval_millis", config.Reveal.IntervalMillis)
}

// MissingCredentials lists the assistant settings that are still empty
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.Assistant.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.Assistant.Organization == "" {
		missing = append(missing, "organization")
	}
	if c.Assistant.AssistantID == "" {
		missing = append(missing, "assistant_id")
	}
	return missing
}

// ProxyURL returns the proxy to use, or "" for a direct connection
func (c *Config) ProxyURL() string {
	if !c.Proxy.Enabled {
		return ""
	}
	return c.Proxy.URL
}

// SaveConfig saves configuration to file
func SaveConfig(configPath string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold an API key
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ and relative paths
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	// Expand ~
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	// Make absolute
	absPath, err := filepath.Abs(path)
	if err == nil {
		return absPath
	}

	return path
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	// Try to get user config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to current directory
		return "./config/askdan.json"
	}

	return filepath.Join(configDir, "askdan", "config.json")
}

// EnsureDefaultConfig creates a default config file at configPath if it
// doesn't exist. An empty configPath selects GetConfigPath.
func EnsureDefaultConfig(configPath string) (string, error) {
	if configPath == "" {
		configPath = GetConfigPath()
	}

	// Check if config exists
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", err
	}

	return configPath, nil
}
