// Command talktor is the main entry point for the talktor medical
// conversation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/surajgopal85/talktor/internal/app"
	"github.com/surajgopal85/talktor/internal/config"
	"github.com/surajgopal85/talktor/internal/observe"
	"github.com/surajgopal85/talktor/internal/resilience"
	"github.com/surajgopal85/talktor/pkg/provider/llm"
	"github.com/surajgopal85/talktor/pkg/provider/llm/anyllm"
	"github.com/surajgopal85/talktor/pkg/provider/stt"
	sttopenai "github.com/surajgopal85/talktor/pkg/provider/stt/openai"
	"github.com/surajgopal85/talktor/pkg/provider/stt/whisper"
	"github.com/surajgopal85/talktor/pkg/provider/translate"
	"github.com/surajgopal85/talktor/pkg/provider/translate/googlerest"
	"github.com/surajgopal85/talktor/pkg/provider/translate/llmtranslate"
	"github.com/surajgopal85/talktor/pkg/provider/tts"
	ttsopenai "github.com/surajgopal85/talktor/pkg/provider/tts/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talktor: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talktor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logger := newLogger(cfg.Log.Level, logLevel)
	slog.SetDefault(logger)

	slog.Info("talktor starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Log.Level,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.Empty() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.AudioChanged {
			application.TuneAudio(d.NewAudio)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. The "llm" translate backend
// is registered later, in [buildProviders], once the LLM provider exists.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral and groq share the same
	// pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	// whisper runs locally via whisper.cpp; Model is the GGML model path.
	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.Model, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslator("google", func(entry config.ProviderEntry) (translate.Translator, error) {
		var opts []googlerest.Option
		if entry.BaseURL != "" {
			opts = append(opts, googlerest.WithBaseURL(entry.BaseURL))
		}
		return googlerest.New(entry.APIKey, opts...)
	})

	reg.RegisterTranslator("echo", func(config.ProviderEntry) (translate.Translator, error) {
		return translate.Echo{}, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterSynthesizer("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.StringOption("voice", ""); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates the provider chains named in cfg and wraps
// multi-entry chains in circuit-breaking fallback groups. The translation
// chain always ends in the echo translator so a conversation never loses its
// transcript to a provider outage.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	// The LLM backend exists to power "llm" translation; build it first and
	// register the translate factory that closes over it.
	var llmProvider llm.Provider
	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		llmProvider = p
		slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Providers.LLM.Model)
	}
	reg.RegisterTranslator("llm", func(config.ProviderEntry) (translate.Translator, error) {
		if llmProvider == nil {
			return nil, errors.New("translate backend \"llm\" requires a configured llm provider")
		}
		return llmtranslate.New(llmProvider), nil
	})

	// ── STT chain ─────────────────────────────────────────────────────────────
	var transcribers []stt.Transcriber
	var sttNames []string
	for _, entry := range cfg.Providers.STT {
		p, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		transcribers = append(transcribers, p)
		sttNames = append(sttNames, entry.Name)
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}
	switch len(transcribers) {
	case 0:
		// app falls back to text-only conversations.
	case 1:
		ps.Transcriber = transcribers[0]
	default:
		fb := resilience.NewTranscriberFallback(transcribers[0], sttNames[0], resilience.FallbackConfig{})
		for i, t := range transcribers[1:] {
			fb.AddFallback(sttNames[i+1], t)
		}
		ps.Transcriber = fb
	}

	// ── Translate chain ───────────────────────────────────────────────────────
	var translators []translate.Translator
	for _, entry := range cfg.Providers.Translate {
		p, err := reg.CreateTranslator(entry)
		if err != nil {
			return nil, fmt.Errorf("create translate provider %q: %w", entry.Name, err)
		}
		translators = append(translators, p)
		slog.Info("provider created", "kind", "translate", "name", entry.Name)
	}
	switch {
	case len(translators) == 0:
		slog.Warn("no translate provider configured, using echo")
		ps.Translator = translate.Echo{}
	case len(translators) == 1 && translators[0].Name() == translate.ProviderEcho:
		ps.Translator = translators[0]
	default:
		fb := resilience.NewTranslatorFallback(translators[0], resilience.FallbackConfig{})
		for _, t := range translators[1:] {
			fb.AddFallback(t)
		}
		if translators[len(translators)-1].Name() != translate.ProviderEcho {
			fb.AddFallback(translate.Echo{})
		}
		ps.Translator = fb
	}

	// ── TTS chain ─────────────────────────────────────────────────────────────
	var synthesizers []tts.Synthesizer
	var ttsNames []string
	for _, entry := range cfg.Providers.TTS {
		p, err := reg.CreateSynthesizer(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		synthesizers = append(synthesizers, p)
		ttsNames = append(ttsNames, entry.Name)
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}
	switch len(synthesizers) {
	case 0:
		// Speech synthesis stays disabled.
	case 1:
		ps.Synthesizer = synthesizers[0]
	default:
		fb := resilience.NewSynthesizerFallback(synthesizers[0], ttsNames[0], resilience.FallbackConfig{})
		for i, s := range synthesizers[1:] {
			fb.AddFallback(ttsNames[i+1], s)
		}
		ps.Synthesizer = fb
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║         talktor — startup summary      ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printChain("STT", cfg.Providers.STT)
	printChain("Translate", cfg.Providers.Translate)
	printChain("TTS", cfg.Providers.TTS)
	printRow("LLM", cfg.Providers.LLM.Name)
	printRow("Store", string(cfg.Store.Backend))
	printRow("Learning", string(cfg.Learning.Backend))
	printRow("Specialty", cfg.Specialty.Default)
	printRow("Languages", cfg.Session.DoctorLanguage+" ↔ "+cfg.Session.PatientLanguage)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚════════════════════════════════════════╝")
}

func printChain(kind string, entries []config.ProviderEntry) {
	names := ""
	for i, e := range entries {
		if i > 0 {
			names += " → "
		}
		names += e.Name
	}
	printRow(kind, names)
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 20 {
		value = string([]rune(value)[:17]) + "…"
	}
	fmt.Printf("║  %-13s : %-20s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The level variable is shared with the
// config watcher so log level changes apply without restart.
func newLogger(level config.LogLevel, lv *slog.LevelVar) *slog.Logger {
	lv.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
