package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/admission"
	"gatekeeper/internal/admission/store"
	"gatekeeper/internal/api"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/observability"
	"gatekeeper/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the counter store
	counterStore, err := initializeCounterStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize counter store", "error", err)
		os.Exit(1)
	}
	defer counterStore.Close()

	// Wrap the store with instrumentation if metrics are enabled
	var activeStore store.Store = counterStore
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStore(counterStore)
		if err != nil {
			slog.Error("Failed to create instrumented counter store", "error", err)
			os.Exit(1)
		}
		activeStore = instrumented
	}

	// Initialize the denial audit trail
	var auditStore audit.Store
	var auditWriter *audit.Writer
	if cfg.Audit.Enabled {
		auditStore, err = audit.NewFactory().Create(cfg.Audit)
		if err != nil {
			slog.Error("Failed to initialize audit storage", "error", err)
			os.Exit(1)
		}
		defer auditStore.Close()

		auditWriter = audit.NewWriter(auditStore, cfg.Audit.QueueSize, cfg.Audit.Retention, log)
		defer auditWriter.Close()
	}

	// Initialize HTTP handlers with stores for health checks
	handlers := api.NewHandlers(activeStore, auditStore)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	// Assemble the admission pipeline if enabled
	if cfg.Admission.Enabled {
		gate, err := buildGate(cfg.Admission, activeStore, auditWriter)
		if err != nil {
			slog.Error("Failed to initialize admission pipeline", "error", err)
			os.Exit(1)
		}
		routeOpts = append(routeOpts, api.WithAdmissionGate(gate))
	}

	router := api.SetupRoutes(handlers, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeCounterStore creates the counter backend based on configuration
func initializeCounterStore(cfg *models.Config) (store.Store, error) {
	switch cfg.Admission.Store.Type {
	case models.StoreTypeMemory:
		opts := []store.MemoryOption{}
		if cfg.Admission.Store.SweepInterval > 0 {
			opts = append(opts, store.WithSweepInterval(cfg.Admission.Store.SweepInterval))
		}
		if cfg.Admission.Store.Smoothing {
			opts = append(opts, store.WithSmoothing(true))
		}
		return store.NewMemory(opts...), nil
	case models.StoreTypeRedis:
		return store.NewRedis(cfg.Admission.Store.Redis)
	default:
		return nil, fmt.Errorf("unsupported counter store type: %s", cfg.Admission.Store.Type)
	}
}

// buildGate assembles the admission middleware from configuration.
func buildGate(cfg models.AdmissionConfig, counters store.Store, auditWriter *audit.Writer) (*admission.Gate, error) {
	classifier, err := admission.NewClassifier(cfg)
	if err != nil {
		return nil, err
	}

	resolver, err := admission.NewResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	engineOpts := []admission.EngineOption{
		admission.WithDecisionBudget(cfg.DecisionBudget),
	}
	if cfg.Detector.CountAgainstQuota {
		engineOpts = append(engineOpts, admission.WithCountSuspicious(true))
	}
	engine := admission.NewEngine(classifier, counters, engineOpts...)

	gateOpts := []admission.GateOption{}
	if cfg.Detector.Enabled {
		gateOpts = append(gateOpts, admission.WithDetector(admission.NewDetector(cfg.Detector)))
	}
	if auditWriter != nil {
		gateOpts = append(gateOpts, admission.WithDenialRecorder(auditWriter))
	}

	return admission.NewGate(classifier, resolver, engine, gateOpts...), nil
}
