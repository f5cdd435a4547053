package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"chatgate/internal/models"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values come from the optional
// YAML settings file first, then environment variables override.
type Config struct {
	Port     string `yaml:"port"`
	BotsFile string `yaml:"bots_file"`
	LogDir   string `yaml:"log_dir"`

	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheMaxSize  int           `yaml:"cache_max_size"`
	HistoryCap    int           `yaml:"history_cap"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	CredentialCap int64         `yaml:"credential_concurrency"`

	// Cache replay pacing.
	ReplayChunkSize  int           `yaml:"replay_chunk_size"`
	ReplayChunkDelay time.Duration `yaml:"replay_chunk_delay"`

	// Per-identity inbound message rate (messages per second, with burst).
	MessageRate  float64 `yaml:"message_rate"`
	MessageBurst int     `yaml:"message_burst"`
}

// Load builds the configuration: defaults, then the YAML file named by
// GATEWAY_CONFIG (if any), then environment variables.
func Load() *Config {
	cfg := &Config{
		Port:             "3001",
		BotsFile:         "bots.json",
		LogDir:           "logs",
		CacheTTL:         7200 * time.Second,
		CacheMaxSize:     5000,
		HistoryCap:       10,
		IdleTimeout:      7200 * time.Second,
		CredentialCap:    20,
		ReplayChunkSize:  3,
		ReplayChunkDelay: 10 * time.Millisecond,
		MessageRate:      1,
		MessageBurst:     5,
	}

	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			// Config file problems are fatal only when one was explicitly named.
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.BotsFile = getEnv("BOTS_FILE", cfg.BotsFile)
	cfg.LogDir = getEnv("CHAT_LOG_DIR", cfg.LogDir)
	cfg.CacheTTL = getDurationEnv("CACHE_TTL_SECONDS", cfg.CacheTTL)
	cfg.CacheMaxSize = getIntEnv("CACHE_MAX_SIZE", cfg.CacheMaxSize)
	cfg.HistoryCap = getIntEnv("HISTORY_CAP", cfg.HistoryCap)
	cfg.IdleTimeout = getDurationEnv("SESSION_IDLE_SECONDS", cfg.IdleTimeout)
	cfg.CredentialCap = int64(getIntEnv("CREDENTIAL_CONCURRENCY", int(cfg.CredentialCap)))

	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// LoadBots loads the personas + credentials configuration from a JSON file.
func LoadBots(filePath string) (*models.BotsConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read bots file: %w", err)
	}

	var config models.BotsConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse bots JSON: %w", err)
	}

	if len(config.Bots) == 0 {
		return nil, fmt.Errorf("bots file %s defines no bots", filePath)
	}
	creds := make(map[string]bool, len(config.Credentials))
	for _, cred := range config.Credentials {
		creds[cred.Key] = true
	}
	for _, bot := range config.Bots {
		if !creds[bot.Credential] {
			return nil, fmt.Errorf("bot %s references unknown credential %q", bot.ID, bot.Credential)
		}
	}

	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return defaultValue
}
