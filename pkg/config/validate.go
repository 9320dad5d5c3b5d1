package config

import (
	"fmt"
	"strings"
)

// Validate performs comprehensive validation (fail-fast, stops at first error).
func Validate(cfg *Config) error {
	if err := validateDaemon(&cfg.Daemon); err != nil {
		return err
	}
	if err := validateAPI(&cfg.API); err != nil {
		return err
	}
	if err := validateProvider(&cfg.Provider); err != nil {
		return err
	}
	if err := validateDreaming(&cfg.Dreaming); err != nil {
		return err
	}
	if err := validateVector(&cfg.Vector); err != nil {
		return err
	}
	return nil
}

var validLogLevels = map[string]bool{
	"DEBUG": true,
	"INFO":  true,
	"WARN":  true,
	"ERROR": true,
}

func validateDaemon(d *DaemonConfig) error {
	if d.PollInterval <= 0 {
		return NewValidationError("daemon", "poll_interval", fmt.Errorf("must be positive, got %d", d.PollInterval))
	}
	if d.DreamInterval <= 0 {
		return NewValidationError("daemon", "dream_interval", fmt.Errorf("must be positive, got %d", d.DreamInterval))
	}
	if d.LogLevel != "" && !validLogLevels[strings.ToUpper(d.LogLevel)] {
		return NewValidationError("daemon", "log_level", fmt.Errorf("unknown level '%s' (expected DEBUG, INFO, WARN or ERROR)", d.LogLevel))
	}
	return nil
}

func validateAPI(a *APIConfig) error {
	if !a.Enabled {
		return nil
	}
	if a.Port < 1 || a.Port > 65535 {
		return NewValidationError("api", "port", fmt.Errorf("must be between 1 and 65535, got %d", a.Port))
	}
	if a.Host == "" {
		return NewValidationError("api", "host", ErrMissingRequiredField)
	}
	return nil
}

func validateProvider(p *ProviderConfig) error {
	switch p.Default {
	case "anthropic", "bedrock":
	case "":
		return NewValidationError("provider", "default", ErrMissingRequiredField)
	default:
		return NewValidationError("provider", "default", fmt.Errorf("unknown provider '%s' (expected anthropic or bedrock)", p.Default))
	}

	if p.Default == "bedrock" {
		if p.Bedrock.Region == "" {
			return NewValidationError("provider", "bedrock.region", ErrMissingRequiredField)
		}
		if p.Bedrock.Model == "" {
			return NewValidationError("provider", "bedrock.model", ErrMissingRequiredField)
		}
	}
	if p.Default == "anthropic" {
		if p.Anthropic.Model == "" {
			return NewValidationError("provider", "anthropic.model", ErrMissingRequiredField)
		}
	}
	return nil
}

func validateDreaming(d *DreamingConfig) error {
	if d.ExplorationAgents < 1 {
		return NewValidationError("dreaming", "exploration_agents", fmt.Errorf("must be at least 1, got %d", d.ExplorationAgents))
	}
	if d.HistoricalLookback < 0 {
		return NewValidationError("dreaming", "historical_lookback", fmt.Errorf("must not be negative, got %d", d.HistoricalLookback))
	}
	if d.InitialLookbackDays < 0 {
		return NewValidationError("dreaming", "initial_lookback_days", fmt.Errorf("must not be negative, got %d", d.InitialLookbackDays))
	}
	if d.MinAgeDays < 0 {
		return NewValidationError("dreaming", "min_age_days", fmt.Errorf("must not be negative, got %d", d.MinAgeDays))
	}
	return nil
}

func validateVector(v *VectorConfig) error {
	if !v.Enabled {
		return nil
	}
	if v.RedisURL == "" {
		return NewValidationError("vector", "redis_url", ErrMissingRequiredField)
	}
	if v.MinSimilarity < 0 || v.MinSimilarity > 1 {
		return NewValidationError("vector", "min_similarity", fmt.Errorf("must be between 0 and 1, got %g", v.MinSimilarity))
	}
	return nil
}
