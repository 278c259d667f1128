package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.2)
// - LLM_TIMEOUT: Request timeout in seconds (default: 60)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Search Configuration:
// - SEARCH_API_KEY: Tavily API key (required for web_search)
// - SEARCH_API_URL: Tavily API URL (default: https://api.tavily.com/search)
//
// Agent Configuration:
// - AGENT_MAX_STEPS: Max steps per run (default: 20)
// - AGENT_MAX_WALL_TIME: Max run duration (default: 10m)
// - AGENT_TOOL_TIMEOUT: Per tool call deadline (default: 60s)
// - AGENT_CONTEXT_BUDGET: Context token budget, 0 disables eviction (default: 24000)
// - AGENT_KEEP_RECENT_STEPS: Steps eviction always preserves (default: 3)
// - AGENT_RETRY_BUDGET: Extra planner attempts after a failure (default: 2)
// - AGENT_RETRY_BACKOFF: Pause between planner attempts (default: 2s)
// - AGENT_TOKEN_ENCODING: BPE encoding name, empty uses the estimator (default: "")
// - AGENT_WORKERS: Concurrent research runs (default: 2)
//
// Report Configuration:
// - REPORT_LANGUAGE: BCP 47 tag for report output (default: en)
// - REPORT_DIR: Directory for report files (default: ./reports)
//
// Server Configuration:
// - SERVER_ADDR: HTTP listen address (default: :8080)
// - DB_PATH: SQLite database path (default: ./research.db)
// - MAINTENANCE_CRON: Cron expression for the maintenance sweep (default: "0 3 * * *")
// - LOG_LEVEL: debug, info, warn, error (default: info)

type Config struct {
	LLM    LLMConfig    `json:"llm"`
	Search SearchConfig `json:"search"`
	Agent  AgentConfig  `json:"agent"`
	Report ReportConfig `json:"report"`
	Server ServerConfig `json:"server"`
}

// LLMConfig holds the configuration for LLM client
// Supports any OpenAI-compatible provider
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// SearchConfig holds the configuration for the web search tool
type SearchConfig struct {
	APIKey string `json:"api_key"` // Tavily API key
	APIURL string `json:"api_url"` // Tavily API URL
}

// AgentConfig bounds individual research runs and the worker pool
type AgentConfig struct {
	MaxSteps        int           `json:"max_steps"`
	MaxWallTime     time.Duration `json:"max_wall_time"`
	ToolTimeout     time.Duration `json:"tool_timeout"`
	ContextBudget   int           `json:"context_budget"`
	KeepRecentSteps int           `json:"keep_recent_steps"`
	RetryBudget     int           `json:"retry_budget"`
	RetryBackoff    time.Duration `json:"retry_backoff"`
	TokenEncoding   string        `json:"token_encoding"`
	Workers         int           `json:"workers"`
}

// ReportConfig controls report output
type ReportConfig struct {
	Language language.Tag `json:"language"`
	Dir      string       `json:"dir"`
}

// ServerConfig holds the HTTP server and storage configuration
type ServerConfig struct {
	Addr            string `json:"addr"`
	DBPath          string `json:"db_path"`
	MaintenanceCron string `json:"maintenance_cron"`
	LogLevel        string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	reportLang, err := language.Parse(getEnvString("REPORT_LANGUAGE", "en"))
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_LANGUAGE: %w", err)
	}

	config := &Config{
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Search: SearchConfig{
			APIKey: getEnvString("SEARCH_API_KEY", ""),
			APIURL: getEnvString("SEARCH_API_URL", "https://api.tavily.com/search"),
		},
		Agent: AgentConfig{
			MaxSteps:        getEnvInt("AGENT_MAX_STEPS", 20),
			MaxWallTime:     getEnvDuration("AGENT_MAX_WALL_TIME", 10*time.Minute),
			ToolTimeout:     getEnvDuration("AGENT_TOOL_TIMEOUT", 60*time.Second),
			ContextBudget:   getEnvInt("AGENT_CONTEXT_BUDGET", 24000),
			KeepRecentSteps: getEnvInt("AGENT_KEEP_RECENT_STEPS", 3),
			RetryBudget:     getEnvInt("AGENT_RETRY_BUDGET", 2),
			RetryBackoff:    getEnvDuration("AGENT_RETRY_BACKOFF", 2*time.Second),
			TokenEncoding:   getEnvString("AGENT_TOKEN_ENCODING", ""),
			Workers:         getEnvInt("AGENT_WORKERS", 2),
		},
		Report: ReportConfig{
			Language: reportLang,
			Dir:      getEnvString("REPORT_DIR", "./reports"),
		},
		Server: ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8080"),
			DBPath:          getEnvString("DB_PATH", "./research.db"),
			MaintenanceCron: getEnvString("MAINTENANCE_CRON", "0 3 * * *"),
			LogLevel:        getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("AGENT_MAX_STEPS must be positive")
	}
	if c.Agent.Workers <= 0 {
		return fmt.Errorf("AGENT_WORKERS must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
