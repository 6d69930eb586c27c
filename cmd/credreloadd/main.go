// Package main is the entry point for the credential hot-reload daemon.
// It loads configuration, wires watched credential stores into the
// reload coordinator, starts the admin and health/metrics HTTP servers,
// and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dskow/tls-hotreload/credstore"
	"github.com/dskow/tls-hotreload/fileobserver"
	"github.com/dskow/tls-hotreload/internal/adminapi"
	"github.com/dskow/tls-hotreload/internal/daemonconfig"
	"github.com/dskow/tls-hotreload/internal/health"
	"github.com/dskow/tls-hotreload/internal/logging"
	"github.com/dskow/tls-hotreload/internal/metrics"
	"github.com/dskow/tls-hotreload/provider"
	"github.com/dskow/tls-hotreload/reload"
	"github.com/dskow/tls-hotreload/tlscred"
)

func main() {
	configPath := flag.String("config", "configs/credreloadd.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := daemonconfig.Load(*configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logWriter, logCloser := buildLogWriter(cfg.Logging)
	if logCloser != nil {
		defer logCloser.Close()
	}
	logger := slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"stores", len(cfg.Stores),
		"debounce_window_ms", cfg.Debounce.WindowMs,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"admin_enabled", cfg.Admin.Enabled,
		"log_output", cfg.Logging.Output,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	observer, err := fileobserver.New(cfg.Debounce.Window(), logger)
	if err != nil {
		logger.Error("failed to create file observer", "error", err)
		os.Exit(1)
	}
	defer observer.Close()

	coordinator := reload.NewCoordinator(observer, logger)
	if err := observer.Start(coordinator); err != nil {
		logger.Error("failed to start file observer", "error", err)
		os.Exit(1)
	}

	registry := provider.NewRegistry()

	var stores []adminapi.StoreInfo
	var healthStores []health.StoreInfo
	for _, sc := range cfg.Stores {
		store, err := loadStore(sc)
		if err != nil {
			logger.Error("failed to load credential store", "store", sc.Name, "error", err)
			os.Exit(1)
		}

		if _, err := coordinator.Register(store); err != nil {
			logger.Error("failed to register store with reload coordinator", "store", sc.Name, "error", err)
			os.Exit(1)
		}

		registerStoreProviders(registry, store)

		stores = append(stores, adminapi.StoreInfo{Name: sc.Name, Store: store})
		healthStores = append(healthStores, health.StoreInfo{Name: sc.Name, Store: store})
		logger.Info("credential store registered", "store", sc.Name, "spec_path", sc.SpecPath)
	}

	mux := http.NewServeMux()

	healthHandler := health.New(healthStores, logger)
	healthHandler.RegisterRoutes(mux)
	registerProviderDebugRoute(mux, registry)

	if cfg.Metrics.IsEnabled() {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", cfg.Metrics.Path)
	}

	if cfg.Admin.Enabled {
		adminHandler := adminapi.New(coordinator, stores, cfg.Admin.JWTSecret, cfg.Admin.JWTIssuer,
			cfg.Admin.RequestsPerSecond, cfg.Admin.BurstSize, logger)
		adminHandler.RegisterRoutes(mux)
		logger.Info("admin API enabled", "listen_addr", cfg.Admin.ListenAddr)
	}

	srv := &http.Server{
		Addr:    cfg.Admin.ListenAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("starting credential reload daemon", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("credential reload daemon stopped gracefully")
}

// loadStore reads sc's spec file and builds a loaded *credstore.Store
// over the default PEM parser registry.
func loadStore(sc daemonconfig.StoreConfig) (*credstore.Store, error) {
	f, err := os.Open(sc.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("opening spec file: %w", err)
	}
	defer f.Close()

	store := credstore.NewStore(credstore.NewParserRegistry())
	if err := store.Load(f); err != nil {
		return nil, fmt.Errorf("loading store: %w", err)
	}
	return store, nil
}

// registerStoreProviders installs store-backed algorithm implementations
// into registry at Head position, the way a host security provider would
// consult this module ahead of its own static defaults.
func registerStoreProviders(registry *provider.Registry, store *credstore.Store) {
	provider.RegisterInto(registry, provider.DynamicKeystore, provider.Head, func() (any, error) {
		return store, nil
	})
	provider.RegisterInto(registry, provider.ReloadableX509, provider.Head, func() (any, error) {
		return tlscred.NewReloadableKeySelector(store, ""), nil
	})
	provider.RegisterInto(registry, provider.ReloadablePKIX, provider.Head, func() (any, error) {
		return tlscred.NewReloadableTrustValidator(store), nil
	})
}

// knownAlgorithmNames are the algorithm/service names registerStoreProviders
// installs implementations under; listed explicitly since provider.Registry
// does not expose enumeration of what it holds.
var knownAlgorithmNames = []provider.AlgorithmName{
	provider.DynamicKeystore,
	provider.ReloadableX509,
	provider.ReloadablePKIX,
}

// registerProviderDebugRoute exposes which provider.AlgorithmName entries
// are currently resolvable, mirroring what a host security provider would
// see when it consults registry ahead of its own static defaults.
func registerProviderDebugRoute(mux *http.ServeMux, registry *provider.Registry) {
	mux.HandleFunc("/debug/providers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{\"registered\":[")
		first := true
		for _, name := range knownAlgorithmNames {
			if _, err := registry.Lookup(name); err != nil {
				continue
			}
			if !first {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, "%q", name)
			first = false
		}
		fmt.Fprint(w, "]}\n")
	})
}

// buildLogWriter returns the io.Writer for the slog handler and an optional
// io.Closer for file-based writers. Returns (os.Stdout, nil) for the default.
func buildLogWriter(cfg daemonconfig.LoggingConfig) (io.Writer, io.Closer) {
	switch cfg.Output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		rw, err := logging.NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to open log file, falling back to stdout",
				"path", cfg.Output, "error", err)
			return os.Stdout, nil
		}
		return rw, rw
	}
}
