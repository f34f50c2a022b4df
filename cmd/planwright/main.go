// Package main provides the planwright binary entry point.
// Planwright turns a free-text product idea into a structured
// development plan with per-feature coding prompts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/spf13/cobra"

	"github.com/c360studio/planwright/config"
	"github.com/c360studio/planwright/fetch"
	_ "github.com/c360studio/planwright/fetch/providers" // Register knowledge providers via init()
	"github.com/c360studio/planwright/input"
	"github.com/c360studio/planwright/llm"
	"github.com/c360studio/planwright/metrics"
	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/prompt"
	"github.com/c360studio/planwright/quality"
	"github.com/c360studio/planwright/server"
	"github.com/c360studio/planwright/service"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "planwright"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "planwright",
		Short: "Turn a product idea into a development plan",
		Long: `Planwright turns a free-text product idea, plus an optional reference
link, into a structured development plan with per-feature coding prompts.

A plan is generated in a single model call, then validated, repaired,
and scored. Knowledge services contribute reference material fetched
from the link before generation, and degrade gracefully when they fail.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the plan generation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, logLevel)
		},
	}
	cmd.AddCommand(serve)

	var (
		idea   string
		link   string
		output string
		asJSON bool
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate one plan and exit",
		Long: `Generate runs a single session: progress goes to stderr, the plan
document to stdout or the output file. With --json the full result is
emitted instead, including the prompt set and the quality report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(configPath, logLevel, idea, link, output, asJSON)
		},
	}
	generate.Flags().StringVar(&idea, "idea", "", "Product idea text (required)")
	generate.Flags().StringVar(&link, "link", "", "Optional reference link")
	generate.Flags().StringVarP(&output, "output", "o", "", "Write the plan to a file instead of stdout")
	generate.Flags().BoolVar(&asJSON, "json", false, "Emit the full result as JSON")
	_ = generate.MarkFlagRequired("idea")
	cmd.AddCommand(generate)

	var serverURL string
	services := &cobra.Command{
		Use:   "services",
		Short: "Show the knowledge services table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServices(configPath, logLevel, serverURL)
		},
	}
	services.Flags().StringVar(&serverURL, "server", "", "Query a running server for live health instead of the config")
	cmd.AddCommand(services)

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the user config file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(newLogger("info"))
			return loader.EnsureUserConfig()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// newLogger builds a text logger on stderr at the given level.
func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig loads the layered configuration and sets up the logger.
// An explicit --log-level flag wins over the config file.
func loadConfig(configPath, logLevel string) (*config.Config, *slog.Logger, error) {
	bootstrap := newLogger("info")

	loader := config.NewLoader(bootstrap)
	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// buildPipeline wires the registry, health monitor, router, fetcher,
// model client, and coordinator from one config.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*service.Registry, *service.Health, *pipeline.Coordinator, error) {
	registry := service.NewRegistry()
	if err := registry.Apply(config.Descriptors(cfg.Services)); err != nil {
		return nil, nil, nil, fmt.Errorf("apply services table: %w", err)
	}

	health := service.NewHealth(cfg.Health.TrackerConfig(),
		service.WithTransitionHook(metrics.DegradationHook()))
	router := service.NewRouter(registry, health, service.WithRouterLogger(logger))
	fetcher := fetch.NewFetcher(health,
		fetch.WithLogger(logger),
		fetch.WithAggregateTimeout(cfg.Fetch.AggregateTimeout.Duration()),
		fetch.WithMaxFragmentBytes(cfg.Fetch.MaxFragmentBytes))

	completer := llm.NewClient(cfg.Model.ClientConfig(), llm.WithLogger(logger))

	assembler := prompt.NewAssembler(prompt.WithMaxPromptBytes(cfg.Prompt.MaxPromptBytes))
	validator := quality.NewValidator()
	validator.Weights = cfg.Quality.Weights.ValidatorWeights()

	coordinator := pipeline.NewCoordinator(router, fetcher, completer, cfg.CoordinatorConfig(),
		pipeline.WithLogger(logger),
		pipeline.WithAssembler(assembler),
		pipeline.WithValidator(validator))

	return registry, health, coordinator, nil
}

func runServe(configPath, logLevel string) error {
	cfg, logger, err := loadConfig(configPath, logLevel)
	if err != nil {
		return err
	}

	registry, health, coordinator, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration(),
	}, coordinator, registry, health, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// A services file replaces the config table and is hot-reloaded.
	if cfg.ServicesFile != "" {
		watcher, err := config.NewServicesWatcher(cfg.ServicesFile, registry.Apply, logger)
		if err != nil {
			return fmt.Errorf("create services watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("watch services file: %w", err)
		}
		defer watcher.Stop()
	}

	if cfg.NATS.Enabled {
		natsClient, err := connectNATS(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer natsClient.Close(ctx)

		transport := server.NewNATSTransport(natsClient, coordinator, server.NATSConfig{
			Stream:         cfg.NATS.Stream,
			RequestSubject: cfg.NATS.RequestSubject,
		}, logger)
		if err := transport.Start(ctx); err != nil {
			return fmt.Errorf("start NATS transport: %w", err)
		}
		defer func() {
			if err := transport.Stop(10 * time.Second); err != nil {
				logger.Error("Error stopping NATS transport", "error", err)
			}
		}()
	}

	logger.Info("Planwright ready",
		"version", Version,
		"addr", cfg.HTTP.Addr,
		"services", registry.Len(),
		"model", cfg.Model.Model)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}

	logger.Info("Planwright shutdown complete")
	return nil
}

func runGenerate(configPath, logLevel, idea, link, output string, asJSON bool) error {
	// Keep the progress lines readable unless more logging was asked for.
	if logLevel == "" {
		logLevel = "warn"
	}

	cfg, logger, err := loadConfig(configPath, logLevel)
	if err != nil {
		return err
	}

	_, _, coordinator, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session := coordinator.Start(ctx, input.Request{Idea: idea, Link: link})
	for ev := range session.Events() {
		fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", ev.Percent, ev.Message)
	}
	result := session.Result()

	if result.Status == pipeline.StatusFailed {
		return fmt.Errorf("generation failed (%s): %s", result.Reason, result.Error)
	}

	var out []byte
	if asJSON {
		out, err = json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		out = append(out, '\n')
	} else {
		out = []byte(result.Markdown)
	}

	if output != "" {
		if err := os.WriteFile(output, out, 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Plan written to %s\n", output)
	} else {
		if _, err := os.Stdout.Write(out); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "Status %s, score %d, %d prompts, took %s\n",
		result.Status, result.Report.Score, len(result.Prompts.Prompts),
		result.Elapsed.Round(time.Millisecond))
	return nil
}

func runServices(configPath, logLevel, serverURL string) error {
	if serverURL != "" {
		return printLiveServices(serverURL)
	}

	if logLevel == "" {
		logLevel = "warn"
	}
	cfg, logger, err := loadConfig(configPath, logLevel)
	if err != nil {
		return err
	}

	descs := config.Descriptors(cfg.Services)
	if cfg.ServicesFile != "" {
		fileDescs, err := config.LoadServicesFile(cfg.ServicesFile)
		if err != nil {
			logger.Warn("Failed to load services file, showing config table",
				"path", cfg.ServicesFile, "error", err)
		} else {
			descs = fileDescs
		}
	}

	fmt.Printf("%-16s %-20s %-8s %-10s %s\n", "ID", "CAPABILITY", "ENABLED", "TIMEOUT", "URL PATTERNS")
	for _, d := range descs {
		patterns := strings.Join(d.URLPatterns, ", ")
		if patterns == "" {
			patterns = "-"
		}
		fmt.Printf("%-16s %-20s %-8t %-10s %s\n", d.ID, d.Capability, d.Enabled, d.Timeout, patterns)
	}
	return nil
}

// printLiveServices shows the registry of a running server along with
// per-service health and rolling stats.
func printLiveServices(serverURL string) error {
	url := strings.TrimSuffix(serverURL, "/") + "/api/services"
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: status %d", url, resp.StatusCode)
	}

	var services server.ServicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		return fmt.Errorf("decode services response: %w", err)
	}

	fmt.Printf("%-16s %-20s %-8s %-9s %-9s %-10s %s\n",
		"ID", "CAPABILITY", "ENABLED", "DEGRADED", "ATTEMPTS", "SUCCESSES", "AVG MS")
	for _, s := range services.Services {
		fmt.Printf("%-16s %-20s %-8t %-9t %-9d %-10d %d\n",
			s.ID, s.Capability, s.Enabled, s.Health.Degraded,
			s.Health.Attempts, s.Health.Successes, s.Health.AvgLatencyMs)
	}
	return nil
}

func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", cfg.NATS.URL)

	client, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("NATS connection failed: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection failed: %w", err)
	}

	logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	return client, nil
}
