package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/khoffmann/nexuspipe"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Load .env if present; a missing file is not an error.
	_ = godotenv.Load()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := nexuspipe.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("NEXUSPIPE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("NEXUSPIPE_READWISE_BASE_URL"); v != "" {
		cfg.ReadwiseBaseURL = v
	}
	if v := os.Getenv("NEXUSPIPE_READWISE_TOKEN"); v != "" {
		cfg.ReadwiseToken = v
	}
	if v := os.Getenv("NEXUSPIPE_EMBED_PROVIDER"); v != "" {
		cfg.EmbeddingProvider.Provider = v
	}
	if v := os.Getenv("NEXUSPIPE_EMBED_MODEL"); v != "" {
		cfg.EmbeddingProvider.Model = v
	}
	if v := os.Getenv("NEXUSPIPE_EMBED_BASE_URL"); v != "" {
		cfg.EmbeddingProvider.BaseURL = v
	}
	if v := os.Getenv("NEXUSPIPE_EMBED_API_KEY"); v != "" {
		cfg.EmbeddingProvider.APIKey = v
	}
	if v := os.Getenv("NEXUSPIPE_DIGEST_PROVIDER"); v != "" {
		cfg.DigestProvider = v
	}
	if v := os.Getenv("NEXUSPIPE_DIGEST_MODEL"); v != "" {
		cfg.DigestModel = v
	}
	if v := os.Getenv("NEXUSPIPE_DIGEST_BASE_URL"); v != "" {
		cfg.DigestBaseURL = v
	}
	if v := os.Getenv("NEXUSPIPE_DIGEST_API_KEY"); v != "" {
		cfg.DigestAPIKey = v
	}
	if v := os.Getenv("NEXUSPIPE_ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}

	// Fallback: check well-known provider env vars for API keys.
	if cfg.EmbeddingProvider.APIKey == "" && cfg.EmbeddingProvider.Provider == "openai" {
		cfg.EmbeddingProvider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.AnthropicAPIKey == "" {
		cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	apiKey := os.Getenv("NEXUSPIPE_API_KEY")
	corsOrigins := os.Getenv("NEXUSPIPE_CORS_ORIGINS")

	ctx := context.Background()
	engine, err := nexuspipe.New(ctx, cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /library", h.handleLibrary)
	mux.HandleFunc("GET /documents/{id}", h.handleGetDocument)

	mux.HandleFunc("POST /readwise/import/start", h.handleImportStart)
	mux.HandleFunc("GET /readwise/import/{job_id}/stream", h.handleStream)
	mux.HandleFunc("POST /readwise/import/{job_id}/pause", h.handlePause)
	mux.HandleFunc("POST /readwise/import/{job_id}/resume", h.handleResume)
	mux.HandleFunc("POST /readwise/import/{job_id}/cancel", h.handleCancel)

	mux.HandleFunc("POST /api/fetch/start", h.handleFetchStart)
	mux.HandleFunc("GET /api/fetch/{job_id}/stream", h.handleStream)
	mux.HandleFunc("POST /api/fetch/{job_id}/pause", h.handlePause)
	mux.HandleFunc("POST /api/fetch/{job_id}/resume", h.handleResume)
	mux.HandleFunc("POST /api/fetch/{job_id}/cancel", h.handleCancel)
	mux.HandleFunc("GET /api/fetch/stats", h.handleFetchStats)
	mux.HandleFunc("POST /api/fetch/retry-failed", h.handleFetchRetryFailed)

	mux.HandleFunc("POST /api/embed/start", h.handleEmbedStart)
	mux.HandleFunc("GET /api/embed/{job_id}/stream", h.handleStream)

	mux.HandleFunc("POST /api/pipeline/start", h.handlePipelineStart)

	mux.HandleFunc("GET /api/providers/health", h.handleProvidersHealth)
	mux.HandleFunc("GET /api/usage/stats", h.handleUsageStats)

	mux.HandleFunc("POST /api/digests/generate", h.handleDigestGenerate)
	mux.HandleFunc("GET /api/digests", h.handleListDigests)
	mux.HandleFunc("GET /api/digests/{id}", h.handleGetDigest)

	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var mwHandler http.Handler = mux
	mwHandler = logMiddleware(mwHandler)
	mwHandler = authMiddleware(apiKey, mwHandler)
	mwHandler = corsMiddleware(corsOrigins, mwHandler)
	mwHandler = recoveryMiddleware(mwHandler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mwHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams can run for a long time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
