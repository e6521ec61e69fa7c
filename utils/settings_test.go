package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")

	// An empty LLM_PROVIDER is not one of the known providers.
	_, err := LoadSettings()
	require.Error(t, err)

	t.Setenv("LLM_PROVIDER", "openrouter")
	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", s.APIKey)
	assert.Equal(t, "openai/gpt-4o-mini", s.Model)
	assert.Equal(t, "OPENROUTER_API_KEY", s.APIKeyName())
	assert.Equal(t, "ur", s.TranslateTarget)
}

func TestLoadSettingsOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Groq")
	t.Setenv("GROQ_API_KEY", "gsk")
	t.Setenv("LLM_MODEL", "llama-3.1-8b-instant")
	t.Setenv("LLM_TIMEOUT", "15s")
	t.Setenv("LLM_MAX_RETRIES", "4")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("DEBUG", "yes")
	t.Setenv("RETRIEVAL_MIN_CHARS", "not-a-number")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "groq", s.Provider)
	assert.Equal(t, "llama-3.1-8b-instant", s.Model)
	assert.Equal(t, 15*time.Second, s.LLMTimeout)
	assert.Equal(t, 4, s.LLMMaxRetries)
	assert.Equal(t, 30*time.Minute, s.SessionTTL)
	assert.True(t, s.Debug)
	assert.Equal(t, 200, s.RetrievalMinChars)
}

func TestSettingsValidate(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Provider:           "openai",
			APIKey:             "k",
			Model:              "m",
			Port:               "8080",
			LLMTimeout:         time.Second,
			RateLimitPerMinute: 1,
			RetrievalTopK:      3,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"unknown provider", func(s *Settings) { s.Provider = "cohere" }, "LLM_PROVIDER"},
		{"missing key", func(s *Settings) { s.APIKey = " " }, "OPENAI_API_KEY"},
		{"zero timeout", func(s *Settings) { s.LLMTimeout = 0 }, "LLM_TIMEOUT"},
		{"negative retries", func(s *Settings) { s.LLMMaxRetries = -1 }, "LLM_MAX_RETRIES"},
		{"no rate limit", func(s *Settings) { s.RateLimitPerMinute = 0 }, "RATE_LIMIT_PER_MINUTE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			assert.ErrorContains(t, s.Validate(), tt.wantErr)
		})
	}
}
