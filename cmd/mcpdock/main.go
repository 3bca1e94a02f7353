package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcpdock-go/internal/authflow"
	"mcpdock-go/internal/config"
	"mcpdock-go/internal/discovery"
	"mcpdock-go/internal/httpapi"
	"mcpdock-go/internal/index"
	"mcpdock-go/internal/lifecycle"
	"mcpdock-go/internal/logs"
	"mcpdock-go/internal/observability"
	"mcpdock-go/internal/registry"
	"mcpdock-go/internal/secret"
	"mcpdock-go/internal/seed"
	"mcpdock-go/internal/toolstatus"
)

var (
	configFile string
	dataDir    string
	listen     string
	baseURL    string
	apiKey     string
	seedFile   string
	logLevel   string
	logToFile  bool
	logDir     string

	version = "development" // This will be injected by -ldflags during build
)

// maintenanceInterval paces the background sweep of stale auth flows and the
// stats refresh while the daemon runs.
const maintenanceInterval = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcpdock",
		Short:   "mcpdock - lifecycle manager for MCP tool servers",
		Long: `mcpdock keeps a registry of remote MCP tool servers, connects to them to
discover their tools, walks users through OAuth sign-in when a server demands
it, and serves the whole lifecycle over a REST API with an event stream.`,
		Version: version,
		RunE:    runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.mcpdock)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "HTTP API listen address")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Externally reachable base URL used in auth callback links")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key guarding the HTTP API (empty disables the check)")
	rootCmd.PersistentFlags().StringVar(&seedFile, "seed-file", "", "JSON file of servers kept synced into the registry")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", true, "Enable logging to file in standard OS location")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")

	rootCmd.AddCommand(GetImportCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Command line beats file contents for logging settings.
	cfg.Logging.Level = logLevel
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting mcpdock",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("search_enabled", cfg.EnableSearch),
		zap.Bool("api_key_set", cfg.APIKey != ""))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	return runDaemon(ctx, cfg, logger)
}

// runDaemon assembles the component graph and serves until ctx is cancelled.
func runDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := registry.NewBoltDB(cfg.DataDir, logger.Sugar())
	if err != nil {
		return fmt.Errorf("failed to open registry database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	reg, err := registry.NewRegistry(db, logger.Sugar())
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	// Header values may reference secrets; resolved values are registered
	// with the log sanitizer so they never appear in log output.
	resolver := secret.NewResolver()
	resolver.SetMasker(logs.RegisterResolvedSecret)

	remote := discovery.NewMCPRemote(logger.Named("remote"), resolver, cfg.DiscoveryTimeoutDuration())
	engine := discovery.NewEngine(reg, remote, logger.Named("discovery"))

	var (
		idx   *index.Manager
		tools *toolstatus.Manager
	)
	if cfg.EnableSearch {
		idx, err = index.NewManager(cfg.DataDir, logger.Named("index"))
		if err != nil {
			return fmt.Errorf("failed to open search index: %w", err)
		}
		defer func() {
			_ = idx.Close()
		}()
		tools = toolstatus.NewManager(reg, idx, logger.Named("tools"))
	} else {
		tools = toolstatus.NewManager(reg, nil, logger.Named("tools"))
	}

	auth, err := authflow.NewController(reg, engine, cfg.CallbackBaseURL(), logger.Named("auth"))
	if err != nil {
		return fmt.Errorf("failed to initialize auth controller: %w", err)
	}

	obs, err := observability.NewManager(logger.Sugar(), observabilityConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = obs.Close(shutdownCtx)
	}()

	obs.RegisterCheck(observability.NewCheck("registry-db", func(_ context.Context) error {
		return db.Ping()
	}))

	orch := lifecycle.NewOrchestrator(lifecycle.Options{
		Registry:      reg,
		Engine:        engine,
		Auth:          auth,
		Tools:         tools,
		Index:         idx,
		Observability: obs,
		Logger:        logger,
	})

	if idx != nil {
		if err := orch.RebuildIndex(); err != nil {
			logger.Warn("Failed to rebuild search index on startup", zap.Error(err))
		}
	}
	orch.RefreshStats()

	if cfg.SeedFile != "" {
		watcher := seed.NewWatcher(reg, cfg.SeedFile, logger.Named("seed"))
		watcher.SetNotify(func(created, updated int) {
			orch.Events().Publish(lifecycle.EventTypeServersChanged, map[string]any{
				"reason":  "seeded",
				"created": created,
				"updated": updated,
			})
			orch.RefreshStats()
		})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("Seed watcher stopped", zap.Error(err))
			}
		}()
	}

	go maintenanceLoop(ctx, orch, obs, logger)

	api := httpapi.NewServer(orch, obs, cfg, logger.Named("http"))
	return api.Serve(ctx, cfg.Listen)
}

// maintenanceLoop runs the periodic housekeeping nothing else triggers:
// sweeping auth flows whose server stopped waiting, and refreshing gauges
// that would otherwise only move on API traffic.
func maintenanceLoop(ctx context.Context, orch *lifecycle.Orchestrator, obs *observability.Manager, logger *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := orch.SweepAuthFlows(); swept > 0 {
				logger.Debug("Swept stale auth flows", zap.Int("count", swept))
			}
			orch.RefreshStats()
			obs.TouchUptime()
		}
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override with command line flags if provided
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if seedFile != "" {
		cfg.SeedFile = seedFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// observabilityConfig maps the daemon configuration onto the observability
// manager's own config shape.
func observabilityConfig(cfg *config.Config) observability.Config {
	out := observability.DefaultConfig("mcpdock", version)
	if cfg.Observability == nil {
		return out
	}

	out.Metrics.Enabled = cfg.Observability.MetricsEnabled
	out.Tracing.Enabled = cfg.Observability.TracingEnabled
	if cfg.Observability.OTLPEndpoint != "" {
		out.Tracing.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	}
	if cfg.Observability.SampleRate > 0 {
		out.Tracing.SampleRate = cfg.Observability.SampleRate
	}
	return out
}
