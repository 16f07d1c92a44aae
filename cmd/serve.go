package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ingeniumai/outreach/internal/api"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/server"
)

type serveOptions struct {
	httpAddr    string
	metricsAddr string
	noMetrics   bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API used by the web app: Google sign-in, the user profile,
mail dispatch and attachment uploads.

Prometheus metrics are served on a separate listener when instrumentation
is enabled (INSTRUMENTATION_ENABLED, on by default).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "Override http_server.address")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Override http_server.metrics_address")
	cmd.Flags().BoolVar(&opts.noMetrics, "no-metrics", false, "Do not start the metrics listener")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.httpAddr != "" {
		cfg.HTTPServer.Address = opts.httpAddr
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}

	log.Info("starting outreach", slog.String("env", cfg.Env), slog.String("version", version))

	instrConfig, err := instrumentation.LoadConfig()
	if err != nil {
		return err
	}
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	sc, err := server.NewServerContext(ctx, cfg, log, server.WithInstrumentation(provider))
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := sc.Shutdown(); err != nil {
			log.Error("server context shutdown failed", logging.Err(err))
		}
	}()

	health := server.NewHealthChecker(sc, version)
	router := api.NewRouter(api.Deps{
		Logger:       log,
		Mailer:       sc.Dispatch(),
		Users:        sc.Store(),
		Google:       sc.Google(),
		Sessions:     sc.Sessions(),
		Attachments:  sc.Attachments(),
		Policy:       sc.Policy(),
		Metrics:      sc.Metrics(),
		Health:       health,
		AllowOrigins: cfg.AllowOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout + cfg.Dispatch.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	errs := make(chan error, 2)

	var metricsServer *server.MetricsServer
	if !opts.noMetrics && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:     cfg.MetricsAddr,
			Provider: provider,
			Logger:   log,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		log.Info("HTTP server is running", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errs:
		log.Error("server failed", logging.Err(runErr))
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logging.Err(err))
	} else {
		log.Info("HTTP server stopped gracefully")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", logging.Err(err))
		}
	}
	return runErr
}
