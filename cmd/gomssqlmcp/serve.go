package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	mssqlmcp "github.com/rickchristie/mssql-mcp"
	"github.com/rickchristie/mssql-mcp/internal/meta"
	"github.com/rickchristie/mssql-mcp/internal/metrics"
)

type serveFlags struct {
	configPath string
	transport  string
	port       int
	logLevel   string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to configuration file (default $"+configPathEnv+" or "+defaultConfigPath+")")
	cmd.Flags().StringVar(&flags.transport, "transport", "", "Transport: stdio or http (overrides server.transport)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "HTTP listen port (overrides server.port)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides logging.level)")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, flags serveFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. Load ServerConfig and apply flag overrides
	serverConfig, err := loadServerConfig(resolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("transport") {
		serverConfig.Server.Transport = flags.transport
	}
	if cmd.Flags().Changed("port") {
		serverConfig.Server.Port = flags.port
	}
	if cmd.Flags().Changed("log-level") {
		serverConfig.Logging.Level = flags.logLevel
	}
	if err := validateServerSettings(serverConfig.Server); err != nil {
		return err
	}

	// 2. Setup logger. Stdout carries the protocol in stdio mode.
	if serverConfig.Server.Transport == "stdio" && serverConfig.Logging.Output == "stdout" {
		serverConfig.Logging.Output = "stderr"
	}
	logger := setupLogger(serverConfig.Logging)
	metrics.BuildInfo.WithLabelValues(meta.Version).Set(1)

	// 3. Create the session manager. No database connection is made until an
	// agent calls the connect tool.
	var opts []mssqlmcp.Option
	if len(serverConfig.ServerHooks.BeforeQuery) > 0 || len(serverConfig.ServerHooks.AfterQuery) > 0 {
		opts = append(opts, mssqlmcp.WithServerHooks(serverConfig.ServerHooks))
	}
	sm, err := mssqlmcp.New(serverConfig.Config, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	defer sm.Disconnect()

	// 4. Create MCP server with initialize lifecycle logging
	mcpServer := newMCPServer(sm, logger)

	if serverConfig.Server.Transport == "stdio" {
		logger.Info().Str("transport", "stdio").Msg("starting gomssqlmcp server")
		// ServeStdio returns on SIGINT/SIGTERM; the deferred Disconnect
		// releases the session.
		return server.ServeStdio(mcpServer)
	}
	return serveHTTP(ctx, mcpServer, serverConfig.Server, logger)
}

func newMCPServer(sm *mssqlmcp.SessionManager, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("gomssqlmcp", meta.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions(mssqlmcp.ServerInstructions),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	mssqlmcp.RegisterMCPTools(mcpServer, sm)
	return mcpServer
}

func serveHTTP(ctx context.Context, mcpServer *server.MCPServer, settings mssqlmcp.ServerSettings, logger zerolog.Logger) error {
	addr := fmt.Sprintf(":%d", settings.Port)
	mux := http.NewServeMux()

	// Health check endpoint (process liveness only, not DB connectivity)
	if settings.HealthCheckEnabled {
		mux.HandleFunc(settings.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
	}
	if settings.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Start() does not register the handler when a custom *http.Server is
	// provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("transport", "http").Int("port", settings.Port).Msg("starting gomssqlmcp server")
		errCh <- streamableServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down gomssqlmcp server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := streamableServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
		return nil
	}
}

func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv(configPathEnv); envPath != "" {
		return envPath
	}
	return defaultConfigPath
}

// loadServerConfig decodes the config file over DefaultServerConfig, so
// omitted fields keep their defaults. A missing file yields the defaults.
func loadServerConfig(configPath string) (*mssqlmcp.ServerConfig, error) {
	config := mssqlmcp.DefaultServerConfig()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return &config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}
	return &config, nil
}

func validateServerSettings(settings mssqlmcp.ServerSettings) error {
	switch settings.Transport {
	case "stdio":
		return nil
	case "http":
	default:
		return fmt.Errorf("invalid server.transport %q: must be stdio or http", settings.Transport)
	}
	if settings.Port <= 0 || settings.Port > 65535 {
		return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", settings.Port)
	}
	if settings.HealthCheckEnabled && settings.HealthCheckPath == "" {
		return errors.New("server.health_check_path must be set when server.health_check_enabled is true")
	}
	return nil
}

func setupLogger(config mssqlmcp.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
