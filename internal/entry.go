// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/docbroker/docbroker/internal/api"
	"github.com/docbroker/docbroker/internal/auth"
	"github.com/docbroker/docbroker/internal/registry"
	"github.com/docbroker/docbroker/internal/sse"
	"github.com/docbroker/docbroker/internal/storage"
	"github.com/docbroker/docbroker/internal/uploads"
	"github.com/docbroker/docbroker/internal/watch"
)

// NewLogger returns the structured JSON logger used by every command.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenRegistry builds the document registry selected by cfg. The returned
// close function releases the backing store.
func OpenRegistry(cfg RegistryConfig) (*registry.Registry, func() error, error) {
	var store registry.Store
	switch cfg.Backend {
	case RegistryBackendSQLite:
		s, err := registry.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open registry: %w", err)
		}
		store = s
	default:
		store = registry.NewMemoryStore()
	}
	return registry.New(store, registry.NewDeriver(cfg.KeySecret)), store.Close, nil
}

// OpenStorage builds the upload storage backend selected by cfg.
func OpenStorage(ctx context.Context, cfg StorageConfig, uploadDir string) (storage.Provider, error) {
	switch cfg.Backend {
	case StorageBackendS3:
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	case StorageBackendGCS:
		return storage.NewGCS(ctx, storage.GCSConfig{
			Bucket:   cfg.GCS.Bucket,
			Prefix:   cfg.GCS.Prefix,
			Endpoint: cfg.GCS.Endpoint,
		})
	default:
		return storage.NewFS(uploadDir)
	}
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := NewLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("registry_backend", cfg.Registry.Backend),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("upload_dir", cfg.Uploads.Dir),
		slog.String("public_base_url", cfg.Uploads.PublicBaseURL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if cfg.Uploads.PublicBaseURL == "" {
		logger.Warn("public_base_url is not set; upload URLs are built from the request host, which the document engine may not reach")
	}

	// Credential authority and user directory.
	authority := auth.NewAuthority(
		[]byte(cfg.Auth.AccessSecret), cfg.Auth.AccessTTL,
		[]byte(cfg.Auth.EditorKey()), cfg.Auth.EditorTTL,
	)
	users, err := auth.NewDirectory(cfg.Auth.Users)
	if err != nil {
		return fmt.Errorf("init users: %w", err)
	}

	// Document registry.
	reg, closeRegistry, err := OpenRegistry(cfg.Registry)
	if err != nil {
		return err
	}
	defer closeRegistry()

	// Upload storage.
	store := app.store
	if store == nil {
		store, err = OpenStorage(ctx, cfg.Storage, cfg.Uploads.Dir)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	if err := store.Ready(ctx); err != nil {
		logger.Warn("storage not ready", slog.String("error", err.Error()))
	}

	manager := uploads.NewManager(store, uploads.Config{
		MaxBytes:          cfg.Uploads.MaxBytes,
		AllowedExtensions: cfg.Uploads.AllowedExtensions,
		DefaultExtension:  cfg.Uploads.DefaultExtension,
		PublicBaseURL:     cfg.Uploads.PublicBaseURL,
	}, logger)

	// SSE broker.
	broker := sse.NewBroker(30 * time.Second)
	defer broker.Close()

	h := api.NewHandler(api.Deps{
		Authority: authority,
		Users:     users,
		Registry:  reg,
		Uploads:   manager,
		Events:    broker,
		Logger:    logger,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", api.NewRouter(h, api.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Events:         broker,
	}))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: cfg.App.HTTP.ReadHeaderTimeout,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	// Registry eviction.
	g.Go(func() error {
		registry.RunSweeper(gCtx, reg, cfg.Registry.SweepInterval, cfg.Registry.TTL, cfg.Registry.MaxEntries, logger)
		return nil
	})

	// Out-of-band removals in the local upload area.
	if fsStore, ok := store.(*storage.FS); ok && cfg.Uploads.Watch {
		g.Go(func() error {
			if err := watch.Watch(gCtx, fsStore.Root(), broker, logger); err != nil {
				logger.Warn("upload watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		// Stops the sweeper and watcher.
		stop()

		// Open SSE streams would otherwise hold Shutdown until its timeout.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
