package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ruangobat/internal/app"
	"ruangobat/internal/assistant"
	"ruangobat/internal/auth"
	"ruangobat/internal/backend"
	"ruangobat/internal/draft"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	issueFor := flag.String("issue-token", "", "print a signed dev token for this actor id and exit")
	issueRole := flag.String("role", "admin", "role claim for -issue-token")
	flag.Parse()

	if err := app.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env error: %v\n", err)
		os.Exit(1)
	}
	cfg := app.LoadConfig()

	if *issueFor != "" {
		if err := issueToken(cfg, *issueFor, *issueRole); err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg app.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.AppEnv == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func issueToken(cfg app.Config, actor, role string) error {
	v, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}
	tok, err := v.Issue(auth.User{ID: actor, Role: role}, 12*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func run(cfg app.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flows, err := draft.LoadFlows(cfg.FlowsFile)
	if err != nil {
		return err
	}

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	submitter, err := backend.NewClient(backend.Config{BaseURL: cfg.BackendURL, Token: cfg.BackendToken})
	if err != nil {
		return err
	}

	var gen assistant.Generator
	if cfg.GeminiAPIKey != "" {
		g, err := assistant.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		gen = g
	} else {
		logger.Warn("GEMINI_API_KEY not set; AI generation disabled")
	}

	router, err := app.NewRouter(cfg, app.Dependencies{
		DB:        store.DB,
		Flows:     flows,
		Store:     store.Store,
		Submitter: submitter,
		Generator: gen,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ruangobat draft service listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreDriver),
			zap.Strings("flows", flows.Names()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
