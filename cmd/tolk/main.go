// Command tolk is the main entry point for the tolk translation-assist server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tolk-ai/tolk/internal/archive"
	"github.com/tolk-ai/tolk/internal/assist"
	"github.com/tolk-ai/tolk/internal/config"
	"github.com/tolk-ai/tolk/internal/gateway"
	"github.com/tolk-ai/tolk/internal/glossary"
	"github.com/tolk-ai/tolk/internal/health"
	"github.com/tolk-ai/tolk/internal/observe"
	"github.com/tolk-ai/tolk/internal/resilience"
	"github.com/tolk-ai/tolk/internal/retrieve"
	"github.com/tolk-ai/tolk/internal/session"
	"github.com/tolk-ai/tolk/internal/translate"
	"github.com/tolk-ai/tolk/internal/translate/pivot"
	"github.com/tolk-ai/tolk/pkg/provider/embeddings"
	ollamaembed "github.com/tolk-ai/tolk/pkg/provider/embeddings/ollama"
	oaembed "github.com/tolk-ai/tolk/pkg/provider/embeddings/openai"
	"github.com/tolk-ai/tolk/pkg/provider/llm"
	"github.com/tolk-ai/tolk/pkg/provider/llm/anyllm"
	oallm "github.com/tolk-ai/tolk/pkg/provider/llm/openai"
	"github.com/tolk-ai/tolk/pkg/provider/mt"
	"github.com/tolk-ai/tolk/pkg/provider/mt/libre"
	mtollama "github.com/tolk-ai/tolk/pkg/provider/mt/ollama"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchConfig := flag.Bool("watch-config", false, "poll the config file and apply runtime-safe changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tolk: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tolk: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("tolk starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"languages", cfg.Languages.Source+"→"+cfg.Languages.Target,
		"mode", cfg.Session.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "tolk"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Glossary ──────────────────────────────────────────────────────────────
	var (
		glossaryFile *glossary.File
		normalizer   *glossary.Normalizer
	)
	if cfg.Glossary.Path != "" {
		glossaryFile, err = glossary.Load(cfg.Glossary.Path)
		if err != nil {
			slog.Error("failed to load glossary", "path", cfg.Glossary.Path, "err", err)
			return 1
		}
		normalizer = glossary.NewNormalizer(glossaryFile)
		slog.Info("glossary loaded", "path", cfg.Glossary.Path, "terms", len(glossaryFile.Terms))
	}

	// ── Reference retriever ───────────────────────────────────────────────────
	retriever := retrieve.New()
	if len(cfg.Reference.Paths) > 0 {
		indexReferences(retriever, cfg.Reference.Paths)
	}

	// ── Translation resolver ──────────────────────────────────────────────────
	resolver := buildResolver(cfg, providers, normalizer, metrics, logger)

	// ── Cloud assist ──────────────────────────────────────────────────────────
	var cloudAssist session.CloudAssist
	if providers.Cloud != nil {
		opts := []assist.Option{assist.WithLogger(logger)}
		if retriever.Stats().Ready {
			opts = append(opts, assist.WithContextSource(retriever))
		}
		if glossaryFile != nil {
			opts = append(opts, assist.WithGlossary(glossaryFile))
		}
		cloudAssist = assist.New(providers.Cloud, cfg.Languages.Source, cfg.Languages.Target, opts...)
	}

	// ── Session orchestrator ──────────────────────────────────────────────────
	orch := session.New(session.Config{
		SrcLang:          cfg.Languages.Source,
		TgtLang:          cfg.Languages.Target,
		FastDebounce:     time.Duration(cfg.Session.FastDebounceMs) * time.Millisecond,
		InterimDebounce:  time.Duration(cfg.Session.InterimDebounceMs) * time.Millisecond,
		QualityPause:     time.Duration(cfg.Session.QualityPauseMs) * time.Millisecond,
		AnswerPause:      time.Duration(cfg.Session.AnswerPauseMs) * time.Millisecond,
		WordThreshold:    cfg.Session.WordThreshold,
		ActiveWindow:     cfg.Session.ActiveWindow,
		AnswerConfidence: cfg.Session.AnswerConfidence,
		Minimal:          cfg.Session.Mode == config.ModeMinimal,
		Metrics:          metrics,
	}, resolver, cloudAssist, logger)

	// ── Session archive (optional) ────────────────────────────────────────────
	var ctrl gateway.SessionController = orch
	var store *archive.Store
	if cfg.Archive.PostgresDSN != "" {
		store, err = archive.NewStore(ctx, cfg.Archive.PostgresDSN, cfg.Archive.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to open session archive", "err", err)
			return 1
		}
		defer store.Close()

		archiver := archive.NewArchiver(store, providers.Embeddings,
			cfg.Languages.Source, cfg.Languages.Target, logger)
		ctrl = &archivingController{Orchestrator: orch, archiver: archiver, logger: logger}
		slog.Info("session archive enabled", "dimensions", cfg.Archive.EmbeddingDimensions)
	}

	// ── Gateway ───────────────────────────────────────────────────────────────
	gw := gateway.NewServer(ctrl, logger, metrics)
	go gw.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	buildHealth(providers, store).Register(mux)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			serverErr <- server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		serverErr <- server.ListenAndServe()
	}()

	// ── Metrics endpoint (optional) ───────────────────────────────────────────
	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics server error", "err", err)
			}
		}()
		slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
	}

	// ── Config watcher (optional) ─────────────────────────────────────────────
	if *watchConfig {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyConfigChange(config.Diff(old, new), new, logLevel, retriever)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	// Stop the session first so the final quality pass and archive write run
	// while the providers are still up.
	ctrl.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providerSet holds the instantiated backends for one server process.
type providerSet struct {
	// Cloud is the quality-tier LLM, already wrapped in its fallback group
	// when fallbacks are configured. Nil when no cloud provider is named.
	Cloud llm.Provider

	// Native and Direct are the fast-tier MT backends. Either may be nil.
	Native mt.Backend
	Direct mt.Backend

	Embeddings embeddings.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Cloud LLM ─────────────────────────────────────────────────────────────
	// openai uses the dedicated SDK client; the remaining hosted providers
	// share the any-llm pattern of optional APIKey + optional BaseURL.
	reg.RegisterCloud("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterCloud(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
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
	reg.RegisterCloud("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Machine translation ───────────────────────────────────────────────────

	reg.RegisterMT("libretranslate", func(entry config.ProviderEntry) (mt.Backend, error) {
		var opts []libre.Option
		if entry.APIKey != "" {
			opts = append(opts, libre.WithAPIKey(entry.APIKey))
		}
		return libre.New(entry.BaseURL, opts...), nil
	})

	reg.RegisterMT("ollama", func(entry config.ProviderEntry) (mt.Backend, error) {
		return mtollama.New(entry.BaseURL, entry.Model)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates every provider named in cfg using the registry.
// The cloud provider is wrapped in a fallback group when fallbacks are listed.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	if name := cfg.Providers.Cloud.Name; name != "" {
		primary, err := reg.CreateCloud(cfg.Providers.Cloud)
		if err != nil {
			return nil, fmt.Errorf("create cloud provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "cloud", "name", name, "model", cfg.Providers.Cloud.Model)

		if len(cfg.Providers.CloudFallbacks) == 0 {
			ps.Cloud = primary
		} else {
			group := resilience.NewLLMFallback(primary, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.CloudFallbacks {
				fb, err := reg.CreateCloud(entry)
				if err != nil {
					return nil, fmt.Errorf("create cloud fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, fb)
				slog.Info("provider created", "kind", "cloud-fallback", "name", entry.Name, "model", entry.Model)
			}
			ps.Cloud = group
		}
	}

	if name := cfg.Providers.Native.Name; name != "" {
		b, err := reg.CreateMT(cfg.Providers.Native)
		if err != nil {
			return nil, fmt.Errorf("create native backend %q: %w", name, err)
		}
		ps.Native = b
		slog.Info("provider created", "kind", "native", "name", name)
	}

	if name := cfg.Providers.Direct.Name; name != "" {
		b, err := reg.CreateMT(cfg.Providers.Direct)
		if err != nil {
			return nil, fmt.Errorf("create direct backend %q: %w", name, err)
		}
		ps.Direct = b
		slog.Info("provider created", "kind", "direct", "name", name, "model", cfg.Providers.Direct.Model)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name, "model", cfg.Providers.Embeddings.Model)
	}

	return ps, nil
}

// buildResolver assembles the fast-tier resolver: native service first, pivot
// chain second, direct model last.
func buildResolver(cfg *config.Config, ps *providerSet, norm *glossary.Normalizer, metrics *observe.Metrics, logger *slog.Logger) *translate.Resolver {
	src, tgt, pv := cfg.Languages.Source, cfg.Languages.Target, cfg.Languages.Pivot

	opts := []translate.Option{translate.WithLogger(logger), translate.WithMetrics(metrics)}
	if ps.Native != nil {
		opts = append(opts, translate.WithNative(ps.Native))
	}
	if ps.Direct != nil {
		opts = append(opts, translate.WithDirect(ps.Direct))
	}
	if norm != nil {
		opts = append(opts, translate.WithNormalizer(norm))
	}

	if pv != "" {
		first := pickBackend(src, pv, ps.Native, ps.Direct)
		second := pickBackend(pv, tgt, ps.Native, ps.Direct)
		if first != nil && second != nil {
			opts = append(opts, translate.WithPivot(pivot.New(first, second, src, pv, tgt, logger)))
		} else {
			slog.Warn("pivot tier disabled: no backend pair covers the chain",
				"source", src, "pivot", pv, "target", tgt)
		}
	}

	return translate.NewResolver(src, tgt, opts...)
}

// pickBackend returns the first backend that supports the pair, or nil.
func pickBackend(srcLang, tgtLang string, backends ...mt.Backend) mt.Backend {
	for _, b := range backends {
		if b != nil && b.CanTranslate(srcLang, tgtLang) {
			return b
		}
	}
	return nil
}

// indexReferences loads the reference documents into the retriever. A missing
// file is logged and skipped; the rest of the set still gets indexed.
func indexReferences(r *retrieve.Retriever, paths []string) {
	var sources []retrieve.Source
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping reference document", "path", path, "err", err)
			continue
		}
		sources = append(sources, retrieve.Source{Text: string(data), Tag: filepath.Base(path)})
	}
	if len(sources) == 0 {
		return
	}
	r.IndexSources(sources)
	st := r.Stats()
	slog.Info("reference documents indexed", "documents", len(sources), "chunks", st.Chunks, "terms", st.Terms)
}

// buildHealth assembles the readiness checkers for the configured backends.
func buildHealth(ps *providerSet, store *archive.Store) *health.Handler {
	var checkers []health.Checker

	if fast := firstBackend(ps.Native, ps.Direct); fast != nil {
		checkers = append(checkers, health.Checker{
			Name: "fast_backend",
			Check: func(ctx context.Context) error {
				if !fast.Ready(ctx) {
					return errors.New("no fast translation backend ready")
				}
				return nil
			},
		})
	}
	if store != nil {
		checkers = append(checkers, health.Checker{Name: "archive", Check: store.Ping})
	}

	return health.New(checkers...)
}

func firstBackend(backends ...mt.Backend) mt.Backend {
	for _, b := range backends {
		if b != nil {
			return b
		}
	}
	return nil
}

// ── Config hot reload ─────────────────────────────────────────────────────────

// applyConfigChange applies the runtime-safe parts of a config diff. Provider
// and network changes always require a restart.
func applyConfigChange(diff config.ConfigDiff, cfg *config.Config, logLevel *slog.LevelVar, retriever *retrieve.Retriever) {
	if !diff.Changed() {
		return
	}

	if diff.LogLevelChanged {
		logLevel.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ReferenceChanged {
		indexReferences(retriever, cfg.Reference.Paths)
	}
	if diff.GlossaryChanged {
		slog.Warn("glossary path changed; takes effect on restart")
	}
	if diff.SessionChanged {
		slog.Warn("session tuning changed; takes effect on restart")
	}
}

// ── Session archiving ─────────────────────────────────────────────────────────

// archivingController wraps the orchestrator so every Start opens a new
// archive record and every Stop persists the final snapshot.
type archivingController struct {
	*session.Orchestrator
	archiver *archive.Archiver
	logger   *slog.Logger

	mu        sync.Mutex
	sessionID string
	startedAt time.Time
}

func (c *archivingController) Start() {
	c.mu.Lock()
	c.sessionID = newSessionID()
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.Orchestrator.Start()
}

func (c *archivingController) Stop() {
	c.Orchestrator.Stop()

	c.mu.Lock()
	id, startedAt := c.sessionID, c.startedAt
	c.mu.Unlock()
	if id == "" {
		return
	}
	snap := c.Orchestrator.Snapshot()

	// Archiving must not hold up the caller; Stop is on the interactive path.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.archiver.Archive(ctx, id, startedAt, snap); err != nil {
			c.logger.Error("failed to archive session", "session_id", id, "err", err)
		}
	}()
}

func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return "sess-" + hex.EncodeToString(b[:])
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          tolk — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Languages       : %-19s ║\n", summaryLanguages(cfg))
	fmt.Printf("║  Mode            : %-19s ║\n", string(cfg.Session.Mode))
	printProvider("Cloud", cfg.Providers.Cloud.Name, cfg.Providers.Cloud.Model)
	fmt.Printf("║  Cloud fallbacks : %-19d ║\n", len(cfg.Providers.CloudFallbacks))
	printProvider("Native MT", cfg.Providers.Native.Name, "")
	printProvider("Direct MT", cfg.Providers.Direct.Name, cfg.Providers.Direct.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Archive.PostgresDSN != "" {
		fmt.Printf("║  Archive         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Archive         : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Reference docs  : %-19d ║\n", len(cfg.Reference.Paths))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func summaryLanguages(cfg *config.Config) string {
	s := cfg.Languages.Source + "→" + cfg.Languages.Target
	if cfg.Languages.Pivot != "" {
		s += " (via " + cfg.Languages.Pivot + ")"
	}
	return s
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
