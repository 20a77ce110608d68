package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/config"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/events"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/hooks"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/logger"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/server"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

var (
	cfg *config.Config
	log *zap.Logger

	// Global flags
	storeFlag     string
	dataDirFlag   string
	logLevelFlag  string
	logFormatFlag string

	// serve flags
	transportFlag string
	portFlag      string
	kafkaFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "relgraph",
	Short: "Multi-tenant relationship graph for CRM entities",
	Long: `relgraph records weighted, decaying relationships between leads, deals, tasks,
conversations, appointments and payments, and answers graph queries over them.

Run "relgraph serve" to expose the graph as MCP tools over stdio or HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err = logger.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync(log)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the graph as MCP tools",
	Long: `Starts the MCP server on stdio (default) or HTTP. With --transport http the
Prometheus metrics are served on /metrics next to the MCP endpoint. With --kafka the
lifecycle topic is consumed in the background.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&storeFlag, "store", "", "Storage backend: sqlite, memory or neo4j (env RELGRAPH_STORE)")
	pf.StringVar(&dataDirFlag, "data-dir", "", "Directory for the SQLite database (env RELGRAPH_DATA_DIR)")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error (env LOG_LEVEL)")
	pf.StringVar(&logFormatFlag, "log-format", "", "Log format: json or console (env LOG_FORMAT)")

	serveCmd.Flags().StringVar(&transportFlag, "transport", "", "Transport mode: stdio or http (env RELGRAPH_TRANSPORT)")
	serveCmd.Flags().StringVar(&portFlag, "port", "", "HTTP port, only used with --transport http (env RELGRAPH_PORT)")
	serveCmd.Flags().BoolVar(&kafkaFlag, "kafka", false, "Consume lifecycle events from Kafka (env KAFKA_CONSUMER_ENABLED)")

	rootCmd.AddCommand(serveCmd)
	addQueryCommands(rootCmd)
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cmd *cobra.Command) {
	override := func(name string, dst *string, v string) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			*dst = v
		}
	}
	override("store", &cfg.Store, storeFlag)
	override("data-dir", &cfg.DataDir, dataDirFlag)
	override("log-level", &cfg.LogLevel, logLevelFlag)
	override("log-format", &cfg.LogFormat, logFormatFlag)
	override("transport", &cfg.Transport, transportFlag)
	override("port", &cfg.Port, portFlag)
	if f := cmd.Flags().Lookup("kafka"); f != nil && f.Changed {
		cfg.KafkaEnabled = kafkaFlag
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	b, err := openBackend(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}
	defer b.Close()

	h := hooks.New(b.engine, log, metrics)
	srv := server.New(b.engine, h)

	if cfg.KafkaEnabled {
		consumer := events.NewConsumer(events.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaTopic,
			ConsumerGroup: cfg.KafkaGroupID,
		}, events.NewHandler(h, b.engine), log, metrics)
		consumer.Start(ctx)
		defer func() {
			if err := consumer.Stop(); err != nil {
				log.Warn("Failed to stop consumer", zap.Error(err))
			}
		}()
	}

	switch cfg.Transport {
	case "stdio":
		log.Info("relgraph MCP server starting", zap.String("transport", "stdio"), zap.String("store", cfg.Store))
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case "http":
		return serveHTTP(ctx, srv)
	}
	return fmt.Errorf("unknown transport: %s (use stdio or http)", cfg.Transport)
}

func serveHTTP(ctx context.Context, srv *mcp.Server) error {
	handler := server.NewHTTPHandler(srv, server.HTTPOptions{
		BearerToken:   cfg.MCPBearerToken,
		ResourceURL:   cfg.MCPResourceURL,
		AuthServerURL: cfg.OAuthServerURL,
		Metrics:       server.MetricsHandler(),
	}, log)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relgraph MCP server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("store", cfg.Store),
			zap.Bool("auth", cfg.MCPBearerToken != ""))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
