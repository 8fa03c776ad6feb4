package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"translit/internal/pkg/translit/config"
	"translit/internal/pkg/translit/engine"
	"translit/internal/pkg/translit/metrics"
	"translit/internal/pkg/translit/preprocess"
	"translit/internal/pkg/translit/server"
	"translit/internal/pkg/translit/service"

	_ "translit/internal/pkg/translit/backends/native"
	_ "translit/internal/pkg/translit/backends/onnx"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fmt.Fprintf(os.Stderr, "translit %s\n", Version)

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadAndParse(os.Args[1:], os.Stdin)
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	if err := setupLogging(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	log.Debug().
		Str("backend", cfg.Backend).
		Str("models_dir", cfg.ModelsDir).
		Int("embedding_size", cfg.EmbeddingSize).
		Int("hidden_size", cfg.HiddenSize).
		Int("max_length", cfg.MaxLength).
		Bool("normalize", cfg.Normalize).
		Msg("Configuration loaded")

	if err := engine.CheckBackend(cfg.Backend); err != nil {
		log.Fatal().Err(err).Msg("Invalid backend")
	}
	for _, b := range engine.Backends() {
		log.Debug().Str("backend", b.Name).Str("description", b.Description).Msg("Backend available")
	}

	cache := engine.NewCache(engine.ConfigLoader(cfg.Backend, buildEngineConfig(cfg), cfg.CheckpointPaths()))
	defer func() {
		if err := cache.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close engines")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []service.Option{service.WithPreprocessor(preprocess.NewPreprocessor(cfg.Normalize))}

	if !cfg.Serve {
		svc := service.New(cache, opts...)
		if err := runOnce(ctx, svc, cfg); err != nil {
			log.Fatal().Err(err).Int("model_id", cfg.ModelID).Msg("Failed to transliterate")
		}
		return
	}

	var m *metrics.Service
	if cfg.Metrics {
		m, err = metrics.New()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up metrics")
		}
		defer m.Shutdown(context.Background())
		opts = append(opts, service.WithObserver(m))
	}

	svc := service.New(cache, opts...)
	srv := server.New(svc, server.Options{
		CORSOrigins: cfg.CORSOrigins,
		BodyLimit:   cfg.BodyLimit,
		Metrics:     m,
	})

	go func() {
		if err := cache.Preload(ctx, cfg.Preload); err != nil {
			log.Error().Err(err).Msg("Preload failed, engines will load on first request")
		}
		srv.MarkReady()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Listen) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}
}

func runOnce(ctx context.Context, svc *service.Service, cfg *config.Config) error {
	log.Info().Str("text", truncateText(cfg.Text, 50)).Int("model_id", cfg.ModelID).Msg("Transliterating...")
	startTime := time.Now()

	out, err := svc.Transliterate(ctx, cfg.Text, cfg.ModelID)
	if err != nil {
		return err
	}

	log.Info().Dur("elapsed", time.Since(startTime)).Msg("Transliteration done")
	fmt.Println(out)
	return nil
}

func buildEngineConfig(cfg *config.Config) engine.EngineConfig {
	return engine.EngineConfig{
		EmbeddingSize:  cfg.EmbeddingSize,
		HiddenSize:     cfg.HiddenSize,
		MaxLength:      cfg.MaxLength,
		Backend:        cfg.Backend,
		RuntimeLibPath: cfg.OnnxRuntimeLib,
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	return nil
}

func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	r := []rune(text)
	if len(r) <= maxLen {
		return text
	}
	return string(r[:maxLen]) + "..."
}
