// Command api runs the idea-graph HTTP server over the configured storage
// backend.
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

	"go.uber.org/zap"

	"prism-backend/application/ports"
	"prism-backend/application/services"
	"prism-backend/infrastructure/config"
	"prism-backend/infrastructure/persistence"
	"prism-backend/infrastructure/persistence/supabase"
	"prism-backend/interfaces/http/rest"
	"prism-backend/pkg/observability"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics := observability.NewCollector("prism")

	backend, err := persistence.NewBackend(cfg, logger, metrics)
	if err != nil {
		return err
	}
	service := services.NewGraphService(backend, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sb, ok := backend.(*supabase.Backend); ok {
		member, err := sb.EnsureMembership(ctx)
		if err != nil {
			return err
		}
		if !member {
			logger.Warn("active user is not a project member, writes will be rejected remotely",
				zap.String("user", cfg.Project.ActiveUser))
		}
	}

	if cfg.IsDevelopment() {
		watcher := config.NewWatcher(configPath, logger, func(next *config.Config) {
			logger.Info("configuration change detected, restart to apply backend changes",
				zap.String("backend", next.Project.Backend))
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		}
	}

	if backend.SupportsRealtime() {
		err := backend.Subscribe(ctx,
			func(ev ports.ChangeEvent) {
				logger.Debug("node change pushed",
					zap.String("node_id", ev.NodeID), zap.String("type", string(ev.Type)))
			},
			func(ev ports.ChangeEvent) {
				logger.Debug("vote change pushed",
					zap.String("node_id", ev.NodeID), zap.String("type", string(ev.Type)))
			},
		)
		if err != nil {
			logger.Warn("realtime subscription unavailable", zap.Error(err))
		} else {
			defer backend.Unsubscribe()
		}
	}

	router := rest.NewRouter(service, logger, metrics, cfg.Project.ActiveUser, cfg.Server.AllowedOrigins)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("backend", string(backend.Type())),
			zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
