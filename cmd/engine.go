package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mhollis/veil/internal/config"
	"github.com/mhollis/veil/internal/pattern"
	"github.com/mhollis/veil/internal/recognizer"
	"github.com/mhollis/veil/internal/redact"
)

// buildRecognizer constructs the entity recognizer detector. A missing
// model is fatal unless recognizer.optional permits pattern-only degraded
// mode, in which case a nil detector is returned.
func buildRecognizer(cfg *config.Config, logger *slog.Logger) (redact.Detector, error) {
	rec, err := recognizer.New(cfg, logger)
	switch {
	case err == nil:
		return rec, nil
	case cfg.Recognizer.Optional && errors.Is(err, recognizer.ErrModelUnavailable):
		logger.Error("entity recognizer unavailable, continuing pattern-only", "error", err)
		// Nil interface, not a nil *Recognizer: the engine checks the
		// interface against nil.
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to create entity recognizer: %w\n\nTroubleshooting:\n- For ollama: ensure the server is running (ollama serve) and the model resource exists\n- For sidecar: check recognizer.sidecar.url in ~/.veil.yaml\n- Set recognizer.optional: true to allow pattern-only operation", err)
	}
}

// buildEngineWith assembles the redaction engine around an existing model
// detector. Used both at startup and on config hot reload, where the
// pattern rules and placeholders are rebuilt but the loaded model
// resource is kept.
func buildEngineWith(cfg *config.Config, logger *slog.Logger, model redact.Detector) (*redact.Engine, error) {
	extra := make([]pattern.RuleDef, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		extra[i] = pattern.RuleDef{Label: rule.Label, Name: rule.Name, Pattern: rule.Pattern}
	}
	patterns, err := pattern.New(extra...)
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern detector: %w", err)
	}

	placeholders, err := redact.ParsePlaceholders(cfg.Placeholders)
	if err != nil {
		return nil, fmt.Errorf("placeholder configuration: %w", err)
	}

	return redact.New(patterns, model,
		redact.WithPlaceholders(placeholders),
		redact.WithMaxInput(cfg.Engine.MaxInputBytes),
		redact.WithWorkers(cfg.Engine.Workers),
		redact.WithLogger(logger),
	), nil
}

// buildEngine constructs recognizer and engine in one step.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*redact.Engine, error) {
	model, err := buildRecognizer(cfg, logger)
	if err != nil {
		return nil, err
	}
	return buildEngineWith(cfg, logger, model)
}
