// Package config provides configuration types and helpers for veil.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the application-wide configuration.
type Config struct {
	Verbose bool   `mapstructure:"verbose"`
	Format  string `mapstructure:"format"`

	Engine       EngineConfig      `mapstructure:"engine"`
	Recognizer   RecognizerConfig  `mapstructure:"recognizer"`
	Rules        []Rule            `mapstructure:"rules"`
	Placeholders map[string]string `mapstructure:"placeholders"`
	Training     TrainingConfig    `mapstructure:"training"`
	Server       ServerConfig      `mapstructure:"server"`
}

// EngineConfig tunes the redaction engine.
type EngineConfig struct {
	// Workers bounds batch concurrency. 0 or 1 means sequential.
	Workers int `mapstructure:"workers"`

	// MaxInputBytes is a hard ceiling on single-document input size.
	// 0 disables the ceiling.
	MaxInputBytes int `mapstructure:"max_input_bytes"`
}

// RecognizerConfig selects and tunes the entity recognizer backend.
type RecognizerConfig struct {
	// Provider selects the backend: "ollama" or "sidecar".
	Provider string `mapstructure:"provider"`

	// Optional permits pattern-only degraded mode when the model
	// resource fails to load. Off by default: a missing model is fatal.
	Optional bool `mapstructure:"optional"`

	// Serialize forces inference calls through a single worker for
	// backends that are not safe for concurrent read access.
	Serialize bool `mapstructure:"serialize"`

	// MaxChunkBytes is the backend's input limit; longer documents are
	// split at whitespace boundaries before detection.
	MaxChunkBytes int `mapstructure:"max_chunk_bytes"`

	Ollama  OllamaConfig  `mapstructure:"ollama"`
	Sidecar SidecarConfig `mapstructure:"sidecar"`
}

// OllamaConfig holds Ollama-specific settings.
type OllamaConfig struct {
	Host     string `mapstructure:"host"`     // API endpoint, e.g. http://localhost:11434
	Model    string `mapstructure:"model"`    // base model for newly trained resources
	Resource string `mapstructure:"resource"` // path to the model resource manifest
}

// SidecarConfig holds NER-sidecar settings.
type SidecarConfig struct {
	URL            string `mapstructure:"url"`             // e.g. http://ner-sidecar:8001
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // per-request timeout
}

// Rule is one extra pattern definition from configuration, appended after
// the built-in rules for its label.
type Rule struct {
	Label   string `mapstructure:"label"`
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
}

// TrainingConfig holds defaults for the extract and train commands.
type TrainingConfig struct {
	Data    string  `mapstructure:"data"`     // path to (text, redacted_text) pairs JSON
	Output  string  `mapstructure:"output"`   // directory for artifacts and model resources
	Split   float64 `mapstructure:"split"`    // dev fraction, e.g. 0.2
	Seed    int64   `mapstructure:"seed"`     // shuffle seed for reproducible splits
	FewShot int     `mapstructure:"few_shot"` // examples embedded in an ollama resource
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load unmarshals the current viper state into a Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults registers default values on a viper instance. Called once
// from the root command before any config file is read.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("format", "text")
	v.SetDefault("verbose", false)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.max_input_bytes", 1<<20)
	v.SetDefault("recognizer.provider", "ollama")
	v.SetDefault("recognizer.optional", false)
	v.SetDefault("recognizer.serialize", false)
	v.SetDefault("recognizer.max_chunk_bytes", 8192)
	v.SetDefault("recognizer.ollama.host", "")
	v.SetDefault("recognizer.ollama.model", "llama3.2")
	v.SetDefault("recognizer.ollama.resource", "models/pii.json")
	v.SetDefault("recognizer.sidecar.timeout_seconds", 10)
	v.SetDefault("training.split", 0.2)
	v.SetDefault("training.seed", 42)
	v.SetDefault("training.few_shot", 8)
	v.SetDefault("server.addr", ":8000")
}
