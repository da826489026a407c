package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// LLM providers understood by the generation client.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"FL_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"FL_DB_MAX_CONNS" default:"8"`

	LLMProvider       string        `envconfig:"LLM_PROVIDER" default:"openai"`
	LLMEndpoint       string        `envconfig:"LLM_ENDPOINT" default:"https://api.openai.com/v1/chat/completions"`
	LLMModel          string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMAPIKey         string        `envconfig:"LLM_API_KEY" default:""`
	LLMConnectTimeout time.Duration `envconfig:"LLM_CONNECT_TIMEOUT" default:"10s"`

	ExtractTimeout     time.Duration `envconfig:"EXTRACT_TIMEOUT" default:"120s"`
	ExtractMaxTokens   int           `envconfig:"EXTRACT_MAX_TOKENS" default:"768"`
	DescriptionTimeout time.Duration `envconfig:"DESCRIPTION_TIMEOUT" default:"180s"`
	DescriptionTokens  int           `envconfig:"DESCRIPTION_MAX_TOKENS" default:"2048"`
	ExtractionMode     string        `envconfig:"EXTRACTION_MODE" default:"strict"`
	DescriptionStage   bool          `envconfig:"DESCRIPTION_STAGE" default:"false"`

	MatchThreshold  int `envconfig:"MATCH_THRESHOLD" default:"3"`
	MatchMaxResults int `envconfig:"MATCH_MAX_RESULTS" default:"20"`

	AdjudicateTimeout       time.Duration `envconfig:"ADJUDICATE_TIMEOUT" default:"60s"`
	AdjudicateMaxCandidates int           `envconfig:"ADJUDICATE_MAX_CANDIDATES" default:"5"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("FL_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("FL_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("FL_DB_MIN_CONNS (%d) cannot exceed FL_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	switch strings.ToLower(strings.TrimSpace(c.LLMProvider)) {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q", ProviderOpenAI, ProviderOllama)
	}
	if strings.TrimSpace(c.LLMEndpoint) == "" {
		return fmt.Errorf("LLM_ENDPOINT is required")
	}
	if strings.TrimSpace(c.LLMModel) == "" {
		return fmt.Errorf("LLM_MODEL is required")
	}
	if c.LLMConnectTimeout <= 0 {
		return fmt.Errorf("LLM_CONNECT_TIMEOUT must be > 0")
	}
	if c.ExtractTimeout <= 0 || c.DescriptionTimeout <= 0 || c.AdjudicateTimeout <= 0 {
		return fmt.Errorf("EXTRACT_TIMEOUT, DESCRIPTION_TIMEOUT and ADJUDICATE_TIMEOUT must be > 0")
	}
	if c.ExtractMaxTokens < 1 {
		return fmt.Errorf("EXTRACT_MAX_TOKENS must be >= 1")
	}
	if c.DescriptionTokens < 1 {
		return fmt.Errorf("DESCRIPTION_MAX_TOKENS must be >= 1")
	}
	switch strings.ToLower(strings.TrimSpace(c.ExtractionMode)) {
	case "strict", "permissive":
	default:
		return fmt.Errorf("EXTRACTION_MODE must be strict or permissive")
	}
	if c.MatchThreshold < 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be >= 1")
	}
	if c.MatchMaxResults < 1 {
		return fmt.Errorf("MATCH_MAX_RESULTS must be >= 1")
	}
	if c.AdjudicateMaxCandidates < 0 {
		return fmt.Errorf("ADJUDICATE_MAX_CANDIDATES must be >= 0")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
