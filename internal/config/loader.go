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
	"stt":       {"whisper", "openai"},
	"translate": {"google", "llm", "echo"},
	"tts":       {"openai"},
	"llm":       {"openai", "anthropic", "gemini", "ollama", "mistral", "deepseek", "groq"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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
// Defaults from [Default] apply to every omitted key. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
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
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	} else if cfg.Audio.SampleRate != 16000 {
		slog.Warn("audio.sample_rate differs from the 16 kHz transcription rate; incoming audio will be resampled",
			"sample_rate", cfg.Audio.SampleRate,
		)
	}
	if cfg.Audio.VADThreshold <= 0 || cfg.Audio.VADThreshold >= 1 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold %.4f is out of range (0, 1)", cfg.Audio.VADThreshold))
	}
	if cfg.Audio.SilenceDuration <= 0 {
		errs = append(errs, errors.New("audio.silence_duration must be positive"))
	}
	if cfg.Audio.MinUtterance <= 0 {
		errs = append(errs, errors.New("audio.min_utterance must be positive"))
	}
	if cfg.Audio.MaxBuffer < cfg.Audio.MinUtterance {
		errs = append(errs, fmt.Errorf("audio.max_buffer %s is shorter than audio.min_utterance %s",
			cfg.Audio.MaxBuffer.Std(), cfg.Audio.MinUtterance.Std()))
	}

	// Extraction
	if cfg.Extraction.GeneralThreshold < 0 || cfg.Extraction.GeneralThreshold > 1 {
		errs = append(errs, fmt.Errorf("extraction.general_threshold %.2f is out of range [0, 1]", cfg.Extraction.GeneralThreshold))
	}
	if cfg.Extraction.SpecialtyThreshold < 0 || cfg.Extraction.SpecialtyThreshold > 1 {
		errs = append(errs, fmt.Errorf("extraction.specialty_threshold %.2f is out of range [0, 1]", cfg.Extraction.SpecialtyThreshold))
	}
	if cfg.Extraction.SpecialtyThreshold > cfg.Extraction.GeneralThreshold {
		slog.Warn("extraction.specialty_threshold is higher than general_threshold; specialty routing will validate fewer terms",
			"general", cfg.Extraction.GeneralThreshold,
			"specialty", cfg.Extraction.SpecialtyThreshold,
		)
	}

	// Provider chains
	errs = append(errs, validateChain("stt", cfg.Providers.STT)...)
	errs = append(errs, validateChain("translate", cfg.Providers.Translate)...)
	errs = append(errs, validateChain("tts", cfg.Providers.TTS)...)
	if cfg.Providers.LLM.Name != "" {
		validateProviderName("llm", cfg.Providers.LLM.Name)
	}

	// Provider availability warnings
	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no STT provider configured; audio streams cannot be transcribed, only direct transcription will work")
	}
	if len(cfg.Providers.Translate) == 0 {
		slog.Warn("no translator configured; conversations will echo the source text untranslated")
	}

	// LLM-backed translation needs an LLM backend.
	for _, e := range cfg.Providers.Translate {
		if e.Name == "llm" && cfg.Providers.LLM.Name == "" {
			errs = append(errs, errors.New(`providers.translate entry "llm" requires providers.llm to be configured`))
		}
	}

	// Store
	if !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}

	// Learning
	if !cfg.Learning.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("learning.backend %q is invalid; valid values: file, postgres", cfg.Learning.Backend))
	}
	if cfg.Learning.Backend == LearningPostgres && cfg.Learning.PostgresDSN == "" {
		errs = append(errs, errors.New("learning.postgres_dsn is required when learning.backend is postgres"))
	}
	if cfg.Learning.Backend == LearningFile && cfg.Learning.Path == "" {
		errs = append(errs, errors.New("learning.path is required when learning.backend is file"))
	}
	if cfg.Learning.TrainingMinimum < 0 {
		errs = append(errs, fmt.Errorf("learning.training_minimum %d must not be negative", cfg.Learning.TrainingMinimum))
	}
	if cfg.Learning.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("learning.retention_days %d must not be negative", cfg.Learning.RetentionDays))
	}

	// Session
	if cfg.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	if cfg.Session.DoctorLanguage == "" {
		errs = append(errs, errors.New("session.doctor_language is required"))
	}
	if cfg.Session.PatientLanguage == "" {
		errs = append(errs, errors.New("session.patient_language is required"))
	}

	return errors.Join(errs...)
}

// validateChain checks a provider fallback chain: every entry needs a name
// and names must not repeat within the chain. Unknown names only warn, so
// third-party registrations keep working.
func validateChain(kind string, chain []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(chain))
	for i, e := range chain {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, e.Name, kind, prev))
		}
		seen[e.Name] = i
		validateProviderName(kind, e.Name)
	}
	return errs
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
