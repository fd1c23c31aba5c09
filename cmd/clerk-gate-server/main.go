package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/speakeasy-api/clerk-gate/internal/adapter/auth"
	"github.com/speakeasy-api/clerk-gate/internal/adapter/httpserver"
	"github.com/speakeasy-api/clerk-gate/internal/config"
	"github.com/speakeasy-api/clerk-gate/internal/core/port"
	"github.com/speakeasy-api/clerk-gate/internal/core/service"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mode, err := service.ParseMode(cfg.AuthMode)
	if err != nil {
		return err
	}

	logger.Info("starting clerk-gate-server",
		slog.String("version", version),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("verifier", cfg.Verifier),
		slog.String("auth_mode", string(mode)),
		slog.Int("authorized_parties", len(cfg.AuthorizedParties)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	verifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating verifier: %w", err)
	}

	gate := service.NewGate(verifier, cfg.VerifyTimeout, logger)

	srv := httpserver.New(httpserver.Config{
		ListenAddr:         cfg.ListenAddr,
		Mode:               mode,
		AuthorizedParties:  cfg.AuthorizedParties,
		LegacyRoutes:       cfg.LegacyRoutes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		ReadHeaderTimeout:  cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
	}, gate, logger)

	// Second signal during shutdown = hard exit.
	go func(ctx context.Context) {
		<-ctx.Done()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		logger.Warn("forced shutdown", slog.String("signal", sig.String()))
		os.Exit(1)
	}(ctx)

	g, ctx := errgroup.WithContext(ctx)

	// Component: HTTP server.
	g.Go(func() error {
		return srv.ListenAndServe()
	})

	// Shutdown trigger: when ctx is cancelled (signal or component failure),
	// gracefully stop the HTTP server.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// newVerifier builds the token verifier selected by VERIFIER. The JWKS
// refresher stops when ctx is cancelled.
func newVerifier(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (port.TokenVerifier, error) {
	if cfg.Verifier == config.VerifierJWKS {
		v, err := auth.NewJWKSVerifier(ctx, auth.JWKSConfig{
			JWKSURL:           cfg.JWKSURL,
			Issuer:            cfg.JWTIssuer,
			AuthorizedParties: cfg.AuthorizedParties,
			Leeway:            cfg.ClockLeeway,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	v, err := auth.NewClerkVerifier(auth.ClerkConfig{
		SecretKey:         cfg.ClerkSecretKey,
		AuthorizedParties: cfg.AuthorizedParties,
		Leeway:            cfg.ClockLeeway,
		APIURL:            cfg.ClerkAPIURL,
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
