package daemon

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/runger/prizm/internal/config"
	"github.com/runger/prizm/internal/provider"
	"github.com/runger/prizm/internal/suggestions/engine"
	"github.com/runger/prizm/internal/suggestions/explain"
	"github.com/runger/prizm/internal/suggestions/learning"
	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/score"
)

// EngineSettings converts the reloadable sections of cfg. Weight overrides
// replace the built-in weights of their category only.
func EngineSettings(cfg *config.Config, logger *slog.Logger) (engine.Settings, error) {
	if logger == nil {
		logger = slog.Default()
	}

	weights := score.DefaultWeights()
	for name, w := range cfg.Scoring.Weights {
		cat, err := model.ParseCategory(name)
		if err != nil {
			return engine.Settings{}, fmt.Errorf("scoring weights: %w", err)
		}
		weights[cat] = score.Weights(w).Clone()
	}

	s := cfg.Scoring
	l := cfg.Learning
	return engine.Settings{
		Scoring: score.Config{
			Weights:               weights,
			UtilizationCeiling:    s.UtilizationCeiling,
			VelocityReference:     s.VelocityReference,
			ConfidenceFloor:       s.ConfidenceFloor,
			MissingProfilePenalty: s.MissingProfilePenalty,
			MissingSignalPenalty:  s.MissingSignalPenalty,
			DataVolumeReference:   s.DataVolumeReference,
			RecencyHalfLife:       s.RecencyHalfLife,
		},
		Learning: learning.Config{
			MinSamples:           l.MinSamples,
			SuppressMinSamples:   l.SuppressMinSamples,
			SuppressHelpfulBelow: l.SuppressHelpfulBelow,
			SuppressActionAtMost: l.SuppressActionAtMost,
		},
		TTL:       cfg.Lifecycle.SuggestionTTL,
		Explainer: NewExplainer(cfg.Explain, logger),
	}, nil
}

// EngineConfig builds the engine configuration for a daemon serving db.
func EngineConfig(cfg *config.Config, db *sql.DB, logger *slog.Logger) (engine.Config, error) {
	settings, err := EngineSettings(cfg, logger)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		DB:                   db,
		Scoring:              settings.Scoring,
		Learning:             settings.Learning,
		TTL:                  settings.TTL,
		ThresholdPcts:        cfg.Lifecycle.ThresholdPcts,
		DefaultCapacityHours: cfg.Scoring.DefaultCapacityHours,
		Explainer:            settings.Explainer,
		Logger:               logger,
	}, nil
}

// NewExplainer selects a text provider according to cfg and wraps it in a
// circuit breaker. Without a usable provider, rationales are template-only.
func NewExplainer(cfg config.ExplainConfig, logger *slog.Logger) *explain.Explainer {
	var p provider.Provider
	if cfg.Provider != provider.NameNone {
		best, err := provider.Select(cfg.Provider, provider.Defaults(cfg.Model)...)
		if err != nil {
			logger.Info("rationale prose disabled", "provider", cfg.Provider, "reason", err)
		} else {
			breaker := provider.NewBreaker(provider.BreakerConfig{
				Threshold: cfg.BreakerThreshold,
				Cooldown:  cfg.BreakerCooldown,
				Logger:    logger,
			})
			p = provider.Guard(best, breaker)
			logger.Info("rationale prose enabled", "provider", best.Name())
		}
	}

	return explain.New(explain.Config{
		Provider:      p,
		Timeout:       cfg.Timeout,
		RatePerMinute: cfg.RatePerMinute,
		MaxTokens:     int64(cfg.MaxTokens),
		Logger:        logger,
	})
}
