package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the process-wide configuration read from the environment.
type Settings struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string

	LLMTimeout    time.Duration
	LLMMaxRetries int

	Port               string
	TabsDir            string
	ExportDir          string
	SessionTTL         time.Duration
	RateLimitPerMinute int

	RetrievalMinChars int
	RetrievalTopK     int
	TranslateTarget   string

	Debug bool
}

var providerKeys = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"groq":       "GROQ_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
}

var providerModels = map[string]string{
	"openrouter": "openai/gpt-4o-mini",
	"openai":     "o4-mini-2025-04-16",
	"groq":       "llama-3.3-70b-versatile",
	"anthropic":  "claude-3-5-haiku-latest",
}

// LoadSettings reads and validates the configuration.
func LoadSettings() (*Settings, error) {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", "openrouter"))

	s := &Settings{
		Provider:           provider,
		APIKey:             os.Getenv(providerKeys[provider]),
		BaseURL:            getEnv("LLM_BASE_URL", ""),
		Model:              getEnv("LLM_MODEL", providerModels[provider]),
		LLMTimeout:         getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		LLMMaxRetries:      getEnvInt("LLM_MAX_RETRIES", 2),
		Port:               getEnv("PORT", "8080"),
		TabsDir:            getEnv("TABS_DIR", ""),
		ExportDir:          getEnv("EXPORT_DIR", "exports"),
		SessionTTL:         getEnvDuration("SESSION_TTL", 2*time.Hour),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		RetrievalMinChars:  getEnvInt("RETRIEVAL_MIN_CHARS", 200),
		RetrievalTopK:      getEnvInt("RETRIEVAL_TOP_K", 3),
		TranslateTarget:    getEnv("TRANSLATE_TARGET", "ur"),
		Debug:              getEnvBool("DEBUG", false),
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

func (s *Settings) Validate() error {
	keyName, ok := providerKeys[s.Provider]
	if !ok {
		return fmt.Errorf("LLM_PROVIDER %q is not one of openrouter, openai, groq, anthropic", s.Provider)
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return fmt.Errorf("%s environment variable is required", keyName)
	}
	if s.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if s.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if s.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if s.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if s.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if s.RetrievalTopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be > 0")
	}
	return nil
}

// APIKeyName is the environment variable holding the active provider's key.
func (s *Settings) APIKeyName() string {
	return providerKeys[s.Provider]
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
