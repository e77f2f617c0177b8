package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel string
	HTTPAddr string

	LLM LLMConfig

	MaxWorkers        int
	TaskRetention     time.Duration
	TaskSweepInterval time.Duration

	OutputDir    string
	DataDir      string
	PromptsDir   string
	TemplatesDir string

	ChatLogEnabled  bool
	ChatLogDir      string
	ChatLogMaxFiles int
	ChatLogMaxChars int

	RenderFormat string
	ChromePath   string

	MinIdeaLength int
	MaxIdeaLength int
	MaxIterations int

	OTLPEndpoint string
}

type LLMConfig struct {
	Provider        string
	Model           string
	APIKey          string
	BaseURL         string
	Command         string
	AllowedCommands []string
	Timeout         time.Duration
	MaxTokens       int
	RetryAttempts   int
	RetryDelay      time.Duration
	MaxInputLength  int
	MaxOutputLength int
}

// Load reads .env files (when present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	provider := strings.ToLower(getEnv("LLM_PROVIDER", "anthropic"))
	cfg := Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPAddr: getEnv("HTTP_ADDR", ":5000"),
		LLM: LLMConfig{
			Provider:        provider,
			Model:           getEnv("LLM_MODEL", defaultModel(provider)),
			APIKey:          apiKeyFor(provider),
			BaseURL:         getEnv("LLM_BASE_URL", ""),
			Command:         getEnv("LLM_COMMAND", ""),
			AllowedCommands: splitList(getEnv("LLM_ALLOWED_COMMANDS", "claude,codex,ollama")),
			Timeout:         getEnvDuration("LLM_TIMEOUT", 300*time.Second),
			MaxTokens:       getEnvInt("LLM_MAX_TOKENS", 8192),
			RetryAttempts:   getEnvInt("LLM_RETRY_ATTEMPTS", 3),
			RetryDelay:      getEnvDuration("LLM_RETRY_DELAY", 5*time.Second),
			MaxInputLength:  getEnvInt("MAX_INPUT_LENGTH", 100000),
			MaxOutputLength: getEnvInt("MAX_OUTPUT_LENGTH", 2000000),
		},
		MaxWorkers:        getEnvInt("MAX_WORKERS", 3),
		TaskRetention:     getEnvDuration("TASK_RETENTION", 24*time.Hour),
		TaskSweepInterval: getEnvDuration("TASK_SWEEP_INTERVAL", time.Hour),
		OutputDir:         getEnv("OUTPUT_DIR", "output"),
		DataDir:           getEnv("DATA_DIR", "data"),
		PromptsDir:        getEnv("PROMPTS_DIR", "prompts"),
		TemplatesDir:      getEnv("TEMPLATES_DIR", "templates"),
		ChatLogEnabled:    getEnvBool("CHAT_LOG_ENABLED", true),
		ChatLogDir:        getEnv("CHAT_LOG_DIR", "logs"),
		ChatLogMaxFiles:   getEnvInt("CHAT_LOG_MAX_FILES", 30),
		ChatLogMaxChars:   getEnvInt("CHAT_LOG_MAX_CHARS", 10000),
		RenderFormat:      strings.ToLower(getEnv("RENDER_FORMAT", "pdf")),
		ChromePath:        getEnv("CHROME_PATH", ""),
		MinIdeaLength:     getEnvInt("MIN_IDEA_LENGTH", 10),
		MaxIdeaLength:     getEnvInt("MAX_IDEA_LENGTH", 50000),
		MaxIterations:     getEnvInt("MAX_ITERATIONS", 10),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.LLM.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("LLM_RETRY_ATTEMPTS must be >= 1, got %d", c.LLM.RetryAttempts))
	}
	if c.LLM.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("LLM_RETRY_DELAY must not be negative"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT must be positive"))
	}
	if c.LLM.MaxInputLength <= 0 || c.LLM.MaxOutputLength <= 0 {
		errs = append(errs, fmt.Errorf("MAX_INPUT_LENGTH and MAX_OUTPUT_LENGTH must be positive"))
	}
	if c.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("MAX_WORKERS must be >= 1, got %d", c.MaxWorkers))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("MAX_ITERATIONS must be >= 1, got %d", c.MaxIterations))
	}
	switch c.RenderFormat {
	case "pdf", "html":
	default:
		errs = append(errs, fmt.Errorf("RENDER_FORMAT must be pdf or html, got %q", c.RenderFormat))
	}
	return errors.Join(errs...)
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func defaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o"
	case "gemini":
		return "gemini-2.5-pro"
	case "ollama":
		return "qwen2.5:14b"
	default:
		return "claude-sonnet-4-5"
	}
}

func apiKeyFor(provider string) string {
	if v := getEnv("LLM_API_KEY", ""); v != "" {
		return v
	}
	switch provider {
	case "openai":
		return getEnv("OPENAI_API_KEY", "")
	case "gemini":
		return getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", ""))
	case "anthropic":
		return getEnv("ANTHROPIC_API_KEY", "")
	}
	return ""
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
