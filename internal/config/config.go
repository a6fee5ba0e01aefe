package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reviewclassifier/internal/prompt"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	TruncationShort = "short"
	TruncationLong  = "long"
)

type Config struct {
	InputPath    string `yaml:"input_path"`
	OutputPath   string `yaml:"output_path"`
	ReviewColumn string `yaml:"review_column"`

	Strategy        string `yaml:"strategy"`
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	SystemPrompt    string `yaml:"system_prompt"`

	ChunkSize      int    `yaml:"chunk_size"`
	TruncationMode string `yaml:"truncation_mode"`
	MaxWords       int    `yaml:"max_words"`

	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MaxPollAttempts     int    `yaml:"max_poll_attempts"`
	PollTimeoutMinutes  int    `yaml:"poll_timeout_minutes"`
	CompletionWindow    string `yaml:"completion_window"`

	Concurrency           int     `yaml:"concurrency"`
	RetryMaxAttempts      int     `yaml:"retry_max_attempts"`
	RetryBaseDelayMs      int     `yaml:"retry_base_delay_ms"`
	SyncRequestsPerSecond float64 `yaml:"sync_requests_per_second"`

	LabelGlossaryPath string `yaml:"label_glossary_path"`
	BatchDir          string `yaml:"batch_dir"`

	DBPath                     string `yaml:"db_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	Schedule       string `yaml:"schedule"`
	Timezone       string `yaml:"timezone"`
	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`
	MetricsAddr    string `yaml:"metrics_addr"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig is Load for program startup: any error is fatal.
func LoadConfig() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return cfg
}

// Load reads config.yaml (or CONFIG_PATH), applies environment overrides and
// defaults, and validates the result.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.InputPath, "INPUT_PATH")
	envOverride(&cfg.OutputPath, "OUTPUT_PATH")
	envOverride(&cfg.ReviewColumn, "REVIEW_COLUMN")
	envOverride(&cfg.Strategy, "STRATEGY")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.SystemPrompt, "SYSTEM_PROMPT")
	envOverride(&cfg.TruncationMode, "TRUNCATION_MODE")
	envOverride(&cfg.CompletionWindow, "COMPLETION_WINDOW")
	envOverride(&cfg.LabelGlossaryPath, "LABEL_GLOSSARY_PATH")
	envOverride(&cfg.BatchDir, "BATCH_DIR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideAllowEmpty(&cfg.Schedule, "SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.MetricsAddr, "METRICS_ADDR")

	errs := []error{
		envOverrideInt(&cfg.ChunkSize, "CHUNK_SIZE"),
		envOverrideInt(&cfg.MaxWords, "MAX_WORDS"),
		envOverrideInt(&cfg.PollIntervalSeconds, "POLL_INTERVAL_SECONDS"),
		envOverrideInt(&cfg.MaxPollAttempts, "MAX_POLL_ATTEMPTS"),
		envOverrideInt(&cfg.PollTimeoutMinutes, "POLL_TIMEOUT_MINUTES"),
		envOverrideInt(&cfg.Concurrency, "CONCURRENCY"),
		envOverrideInt(&cfg.RetryMaxAttempts, "RETRY_MAX_ATTEMPTS"),
		envOverrideInt(&cfg.RetryBaseDelayMs, "RETRY_BASE_DELAY_MS"),
		envOverrideFloat(&cfg.SyncRequestsPerSecond, "SYNC_REQUESTS_PER_SECOND"),
		envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.InputPath == "" {
		cfg.InputPath = "task_1_google_maps_comments.csv"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = "classified_reviews.csv"
	}
	if cfg.ReviewColumn == "" {
		cfg.ReviewColumn = "review"
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "batch"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	if cfg.LLMModel == "" {
		if cfg.LLMProvider == "anthropic" {
			cfg.LLMModel = "claude-sonnet-4-5-20250929"
		} else {
			cfg.LLMModel = "gpt-4-turbo"
		}
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = prompt.DefaultSystemPrompt
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 50
	}
	if cfg.TruncationMode == "" {
		cfg.TruncationMode = TruncationShort
	}
	if cfg.MaxWords == 0 {
		if strings.EqualFold(cfg.TruncationMode, TruncationLong) {
			cfg.MaxWords = 200
		} else {
			cfg.MaxWords = 50
		}
	}
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = 10
	}
	if cfg.PollTimeoutMinutes == 0 {
		cfg.PollTimeoutMinutes = 1500
	}
	if cfg.CompletionWindow == "" {
		cfg.CompletionWindow = "24h"
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.RetryBaseDelayMs == 0 {
		cfg.RetryBaseDelayMs = 1000
	}
	if cfg.SyncRequestsPerSecond == 0 {
		cfg.SyncRequestsPerSecond = 1
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./reviewclassifier.db"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func validate(cfg *Config) error {
	switch cfg.Strategy {
	case "batch", "sync":
	default:
		return fmt.Errorf("strategy must be 'batch' or 'sync', got '%s'", cfg.Strategy)
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
		if cfg.Strategy == "batch" {
			return fmt.Errorf("strategy=batch requires llm_provider=openai")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	switch strings.ToLower(cfg.TruncationMode) {
	case TruncationShort, TruncationLong:
	default:
		return fmt.Errorf("truncation_mode must be 'short' or 'long', got '%s'", cfg.TruncationMode)
	}
	if cfg.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk_size '%d': must be >= 1", cfg.ChunkSize)
	}
	if cfg.MaxWords < 1 {
		return fmt.Errorf("invalid max_words '%d': must be >= 1", cfg.MaxWords)
	}
	if cfg.PollIntervalSeconds < 1 {
		return fmt.Errorf("invalid poll_interval_seconds '%d': must be >= 1", cfg.PollIntervalSeconds)
	}
	if cfg.MaxPollAttempts < 0 {
		return fmt.Errorf("invalid max_poll_attempts '%d': must be >= 0", cfg.MaxPollAttempts)
	}
	if cfg.PollTimeoutMinutes < 1 {
		return fmt.Errorf("invalid poll_timeout_minutes '%d': must be >= 1", cfg.PollTimeoutMinutes)
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("invalid concurrency '%d': must be >= 1", cfg.Concurrency)
	}
	if cfg.RetryMaxAttempts < 1 {
		return fmt.Errorf("invalid retry_max_attempts '%d': must be >= 1", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBaseDelayMs < 0 {
		return fmt.Errorf("invalid retry_base_delay_ms '%d': must be >= 0", cfg.RetryBaseDelayMs)
	}
	if cfg.SyncRequestsPerSecond <= 0 {
		return fmt.Errorf("invalid sync_requests_per_second '%f': must be > 0", cfg.SyncRequestsPerSecond)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if (cfg.SlackBotToken == "") != (cfg.SlackChannelID == "") {
		return fmt.Errorf("slack_bot_token and slack_channel_id must be set together")
	}
	if cfg.LabelGlossaryPath != "" {
		if _, err := os.Stat(cfg.LabelGlossaryPath); err != nil {
			return fmt.Errorf("invalid label_glossary_path '%s': %w", cfg.LabelGlossaryPath, err)
		}
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMinutes) * time.Minute
}

func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}
