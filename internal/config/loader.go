package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"cloud":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"native":     {"libretranslate"},
	"direct":     {"ollama"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Languages
	if cfg.Languages.Source != "" && cfg.Languages.Source == cfg.Languages.Target {
		errs = append(errs, fmt.Errorf("languages.source and languages.target are both %q; a session needs a pair", cfg.Languages.Source))
	}
	if cfg.Languages.Pivot != "" &&
		(cfg.Languages.Pivot == cfg.Languages.Source || cfg.Languages.Pivot == cfg.Languages.Target) {
		errs = append(errs, fmt.Errorf("languages.pivot %q must differ from source and target", cfg.Languages.Pivot))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("cloud", cfg.Providers.Cloud.Name)
	for _, fb := range cfg.Providers.CloudFallbacks {
		validateProviderName("cloud", fb.Name)
	}
	validateProviderName("native", cfg.Providers.Native.Name)
	validateProviderName("direct", cfg.Providers.Direct.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Fallback entries must be resolvable.
	for i, fb := range cfg.Providers.CloudFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.cloud_fallbacks[%d].name is required", i))
		}
	}

	// Session
	s := cfg.Session
	if s.Mode != "" && !s.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: full, minimal", s.Mode))
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"session.fast_debounce_ms", s.FastDebounceMs},
		{"session.interim_debounce_ms", s.InterimDebounceMs},
		{"session.quality_pause_ms", s.QualityPauseMs},
		{"session.answer_pause_ms", s.AnswerPauseMs},
		{"session.word_threshold", s.WordThreshold},
		{"session.active_window", s.ActiveWindow},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.value))
		}
	}
	if s.AnswerConfidence < 0 || s.AnswerConfidence > 100 {
		errs = append(errs, fmt.Errorf("session.answer_confidence %d is out of range [0, 100]", s.AnswerConfidence))
	}

	// Pipeline availability warnings
	if cfg.Providers.Cloud.Name == "" && s.Mode != ModeMinimal {
		slog.Warn("no cloud provider configured; quality translation and answers will not be available")
	}
	if cfg.Providers.Native.Name == "" && cfg.Providers.Direct.Name == "" {
		slog.Warn("neither a native nor a direct translation backend is configured; the fast path will be unavailable")
	}

	// Embeddings ↔ archive dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Archive.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but archive.embedding_dimensions is not set; defaulting to 768")
	}
	if cfg.Archive.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("archive.postgres_dsn is set without providers.embeddings; info notes will be archived without a semantic index")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
