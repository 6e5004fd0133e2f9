// FlowForge server — loads workflow definitions, executes instances and
// exposes the HTTP API and the WebSocket observer stream.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/flowforge-io/flowforge/pkg/api"
	"github.com/flowforge-io/flowforge/pkg/config"
	"github.com/flowforge-io/flowforge/pkg/correlation"
	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/executor"
	"github.com/flowforge-io/flowforge/pkg/llm"
	"github.com/flowforge-io/flowforge/pkg/mcp"
	"github.com/flowforge-io/flowforge/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// newLLMClient selects the model provider. The scripted provider keeps local
// runs working without an API key.
func newLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case config.LLMProviderAnthropic:
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}, logger)
	default:
		return llm.NewScriptedClient(llm.Turn{
			&llm.TextChunk{Content: "Scripted provider response: no model is configured. Confidence: 1.0"},
		}), nil
	}
}

func main() {
	configPath := flag.String("config",
		getEnv("FLOWFORGE_CONFIG", "flowforge.yaml"),
		"Path to the flowforge.yaml configuration file")
	flag.Parse()

	logger := newLogger()
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}

	path := *configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("configuration file not found, using defaults", "path", path)
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting flowforge",
		"version", version.Full(),
		"httpPort", cfg.HTTP.Port,
		"llmProvider", cfg.LLM.Provider,
		"definitionsDir", cfg.DefinitionsDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// event fan-out and correlation
	broadcaster := events.NewBroadcaster(cfg.Observer.QueueSize, logger)
	cancels := events.NewCancelRegistry(logger)
	bus := correlation.NewBus(cfg.Correlation.BufferTTL(), logger)
	go bus.Run(ctx, cfg.Correlation.SweepInterval())

	// model provider
	llmClient, err := newLLMClient(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := llmClient.Close(); err != nil {
			logger.Error("error closing LLM client", "error", err)
		}
	}()

	// MCP servers for agentic tasks; failed servers are reported and skipped
	mcpClient := mcp.NewClient(cfg.MCPServers, logger)
	if err := mcpClient.Initialize(ctx); err != nil {
		logger.Error("failed to initialize MCP servers", "error", err)
		os.Exit(1)
	}
	if failed := mcpClient.FailedServers(); len(failed) > 0 {
		logger.Warn("some MCP servers failed to initialize", "failedServers", failed)
	}
	defer func() {
		if err := mcpClient.Close(); err != nil {
			logger.Error("error closing MCP client", "error", err)
		}
	}()

	eng := engine.New(engine.Options{
		Config:    cfg,
		Publisher: broadcaster,
		Bus:       bus,
		Cancels:   cancels,
		LLM:       llmClient,
		Tools:     mcp.NewToolExecutor(mcpClient),
		Transport: &executor.LogTransport{Logger: logger},
		Logger:    logger,
	})

	server := api.NewServer(cfg, eng, broadcaster, logger)
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("HTTP server error triggered shutdown", "error", err)
	}
	stop()

	// let in-flight instances drain before closing the listener
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.DrainTimeout())
	defer cancel()
	drained := make(chan struct{})
	go func() {
		for {
			running := 0
			for _, st := range eng.List() {
				if st.Status == engine.StatusRunning {
					running++
				}
			}
			if running == 0 {
				close(drained)
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
	}()
	select {
	case <-drained:
		logger.Info("all instances drained")
	case <-drainCtx.Done():
		logger.Warn("drain timeout exceeded, shutting down with running instances")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
