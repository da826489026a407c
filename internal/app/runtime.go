package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/oscarsorensen/FirstListing/internal/cli"
	"github.com/oscarsorensen/FirstListing/internal/config"
	"github.com/oscarsorensen/FirstListing/internal/db"
	"github.com/oscarsorensen/FirstListing/internal/extract"
	"github.com/oscarsorensen/FirstListing/internal/listing"
	"github.com/oscarsorensen/FirstListing/internal/llm"
	"github.com/oscarsorensen/FirstListing/internal/logging"
	"github.com/oscarsorensen/FirstListing/internal/match"
	"github.com/oscarsorensen/FirstListing/internal/pipeline"
)

// loadRuntime loads the env file, config and logger shared by every command.
// ok is false when the command should exit with status 1.
func loadRuntime(envLoader *cli.EnvLoader) (cfg *config.Config, logger zerolog.Logger, ok bool) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), false
	}

	logger, err = logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), false
	}
	return cfg, logger, true
}

func openPool(ctx context.Context, cfg *config.Config, skipMigrate bool) (*db.Pool, error) {
	return db.NewPool(ctx, db.Options{
		DatabaseURL: cfg.DatabaseURL,
		MinConns:    cfg.DBMinConns,
		MaxConns:    cfg.DBMaxConns,
		LogLevel:    cfg.LogLevel,
		Environment: cfg.Environment,
		SkipMigrate: skipMigrate,
	})
}

// serviceOverrides carry command flags that take precedence over config.
type serviceOverrides struct {
	Mode             string
	DescriptionStage *bool
}

func buildService(cfg *config.Config, pool *db.Pool, logger zerolog.Logger, overrides serviceOverrides) (*pipeline.Service, error) {
	modeName := cfg.ExtractionMode
	if overrides.Mode != "" {
		modeName = overrides.Mode
	}
	mode, err := listing.ParseMode(modeName)
	if err != nil {
		return nil, err
	}
	descriptionStage := cfg.DescriptionStage
	if overrides.DescriptionStage != nil {
		descriptionStage = *overrides.DescriptionStage
	}

	generator, err := llm.New(llm.Config{
		Provider:       cfg.LLMProvider,
		Endpoint:       cfg.LLMEndpoint,
		Model:          cfg.LLMModel,
		APIKey:         cfg.LLMAPIKey,
		ConnectTimeout: cfg.LLMConnectTimeout,
		TotalTimeout:   cfg.ExtractTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build generation client: %w", err)
	}

	extractor := extract.New(generator, extract.Options{
		Mode:                 mode,
		DescriptionStage:     descriptionStage,
		MaxOutputTokens:      cfg.ExtractMaxTokens,
		Timeout:              cfg.ExtractTimeout,
		DescriptionMaxTokens: cfg.DescriptionTokens,
		DescriptionTimeout:   cfg.DescriptionTimeout,
	})
	scorer := match.NewScorer(match.ScorerOptions{
		Threshold:  cfg.MatchThreshold,
		MaxResults: cfg.MatchMaxResults,
	})
	adjudicator := match.NewAdjudicator(generator, pool, match.AdjudicatorOptions{
		MaxCandidates: cfg.AdjudicateMaxCandidates,
		Timeout:       cfg.AdjudicateTimeout,
	}, logger)

	return pipeline.NewService(pool, extractor, scorer, adjudicator, logger), nil
}
