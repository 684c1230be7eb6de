package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/notekeep/gatehouse/internal/api"
	"github.com/notekeep/gatehouse/internal/audit"
	"github.com/notekeep/gatehouse/internal/config"
	"github.com/notekeep/gatehouse/internal/gate"
	"github.com/notekeep/gatehouse/internal/match"
	"github.com/notekeep/gatehouse/internal/pipeline"
	"github.com/notekeep/gatehouse/internal/state"
	"github.com/notekeep/gatehouse/internal/taxonomy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}

	logger := mustBuildLogger(cfg.Log)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting gatehouse",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Int("block_threshold", cfg.Security.BlockThreshold),
		zap.Float64("similarity_threshold", cfg.Security.SimilarityThreshold),
	)

	clock := clockwork.NewRealClock()

	// Audit sink — ClickHouse when configured, rotating JSONL file
	// otherwise, plain log as the last resort.
	var writer audit.Writer
	var reader *audit.Reader
	if cfg.Audit.ClickHouseDSN != "" {
		chWriter, err := audit.NewClickHouseWriter(cfg.Audit.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to file writer", zap.Error(err))
		} else {
			writer = chWriter
			logger.Info("clickhouse audit writer connected")

			reader, err = audit.NewReader(cfg.Audit.ClickHouseDSN, logger)
			if err != nil {
				logger.Warn("clickhouse reader connection failed", zap.Error(err))
				reader = nil
			}
		}
	}
	if writer == nil {
		if cfg.Audit.FilePath != "" {
			writer = audit.NewFileWriter(audit.FileConfig{
				Path:       cfg.Audit.FilePath,
				MaxSizeMB:  cfg.Audit.FileMaxSizeMB,
				MaxBackups: cfg.Audit.FileMaxBackups,
				MaxAgeDays: cfg.Audit.FileMaxAgeDays,
			}, logger)
			logger.Info("file audit writer ready", zap.String("path", cfg.Audit.FilePath))
		} else {
			writer = audit.NewLogWriter(logger)
			logger.Info("no audit sink configured, using log writer")
		}
	}
	defer writer.Close()
	if reader != nil {
		defer func() { _ = reader.Close() }()
	}

	// Idempotency ledger
	var store state.Store
	switch cfg.Store.Driver {
	case "postgres":
		store, err = state.NewPostgresStore(context.Background(), cfg.Store.DSN, logger)
		if err != nil {
			logger.Fatal("failed to open postgres store", zap.Error(err))
		}
		logger.Info("postgres store connected")
	default:
		store, err = state.NewSQLiteStore(cfg.Store.Path, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.Error(err))
		}
		logger.Info("sqlite store ready", zap.String("path", cfg.Store.Path))
	}
	defer func() { _ = store.Close() }()

	// Admission gate
	extras := make([]gate.ExtraSignature, 0, len(cfg.Security.BlockPatterns))
	for _, bp := range cfg.Security.BlockPatterns {
		extras = append(extras, gate.ExtraSignature{Name: bp.Name, Pattern: bp.Pattern})
	}
	g, err := gate.New(gate.Config{
		AllowedSenders:  cfg.Security.AllowedSenders,
		AllowedCommands: cfg.Security.AllowedCommands,
		PerMinute:       cfg.Security.MaxPerMinute,
		PerHour:         cfg.Security.MaxPerHour,
		SanitizeContent: cfg.Security.SanitizeContent,
		BlockThreshold:  cfg.Security.BlockThreshold,
		ExtraSignatures: extras,
	}, clock, writer, logger)
	if err != nil {
		logger.Fatal("failed to build gate", zap.Error(err))
	}

	// Taxonomy — warm the cache so the first message does not pay for
	// the initial parse.
	loader := taxonomy.NewLoader(cfg.Taxonomy.Path, logger)
	tax := loader.Load()
	logger.Info("taxonomy loaded",
		zap.String("path", cfg.Taxonomy.Path),
		zap.Int("tags", len(tax.Tags)),
		zap.Int("keywords", len(tax.KeywordTags)),
	)

	// Corpus index + fuzzy matcher
	index := match.NewIndex(match.IndexConfig{
		Root:        cfg.Corpus.Root,
		TTL:         cfg.Corpus.IndexTTL,
		MaxFiles:    cfg.Corpus.MaxFiles,
		ExcludeDirs: cfg.Corpus.ExcludeDirs,
	}, clock, logger)
	matcher := match.NewMatcher(index, cfg.Security.SimilarityThreshold, logger)

	pipe := pipeline.New(g, store, loader, matcher, logger)

	deps := &api.Dependencies{
		Pipeline:   pipe,
		Store:      store,
		Taxonomy:   loader,
		Matcher:    matcher,
		Reader:     reader,
		Logger:     logger,
		APIKeyHash: cfg.Server.APIKeyHash,
	}
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("gatehouse stopped")
}

func mustBuildLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	if cfg.Format == "console" {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         cfg.Format,
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
