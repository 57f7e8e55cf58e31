package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"translation_assurance/internal/attest"
	"translation_assurance/internal/config"
	"translation_assurance/internal/ledger"
	"translation_assurance/internal/logging"
	"translation_assurance/internal/policy"
	"translation_assurance/internal/ratelimit"
	"translation_assurance/internal/server"
	"translation_assurance/internal/translate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "attest-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{ServiceName: "attest-server", Development: cfg.Development})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	engine, err := attest.New(attest.Config{
		Secret:  cfg.SharedSecret,
		Model:   cfg.Model,
		Version: cfg.Version,
		MaxAge:  cfg.MaxAge,
	})
	if err != nil {
		return err
	}

	store, err := ledger.Open(cfg.LedgerDir, cfg.BatchSize)
	if err != nil {
		return err
	}

	var pol *policy.Engine
	if cfg.PolicyPath != "" {
		if pol, err = policy.Load(cfg.PolicyPath); err != nil {
			return err
		}
	}

	deps := server.Deps{
		Engine:            engine,
		Ledger:            store,
		Policy:            pol,
		Logger:            logger,
		ClientSecret:      cfg.ClientSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		TrustedProxies:    cfg.TrustedProxies,
	}

	if cfg.TranslatorURL != "" {
		client, err := translate.NewClient(translate.Config{
			URL:     cfg.TranslatorURL,
			Timeout: cfg.TranslatorTimeout,
			Logger:  logger.Named("translator"),
		})
		if err != nil {
			return err
		}
		deps.Translator = client
	} else {
		logger.Warn("no translator configured; /translate is disabled")
	}

	if cfg.RateLimitRequests > 0 {
		if cfg.RedisAddr != "" {
			limiter, err := ratelimit.NewRedis(ratelimit.RedisConfig{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			if err != nil {
				return err
			}
			defer limiter.Close()
			pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := limiter.Ping(pingCtx); err != nil {
				logger.Warn("redis unreachable; requests pass unlimited until it recovers", zap.Error(err))
			}
			cancel()
			deps.Limiter = limiter
		} else {
			deps.Limiter = ratelimit.NewMemory(ratelimit.MemoryConfig{})
		}
	}

	srv, err := server.New(deps)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("attestation service listening", append(cfg.LogFields(), zap.String("addr", addr))...)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
