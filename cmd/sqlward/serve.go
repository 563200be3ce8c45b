package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/mhollas/sqlward"
	"github.com/mhollas/sqlward/ollama"
)

func runServe() error {
	ctx := context.Background()

	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if serverConfig.Server.Port <= 0 {
		panic("sqlward: server.port must be > 0")
	}

	// --mcp forces the MCP endpoint on regardless of config.
	for _, arg := range os.Args[2:] {
		if arg == "--mcp" {
			serverConfig.Server.MCPEnabled = true
		}
	}

	connString := os.Getenv("SQLWARD_PG_CONNSTRING")
	if connString == "" {
		username := promptInput("Username: ")
		password := promptPassword("Password: ")
		connString = buildConnString(serverConfig.Connection, username, password)
	}

	logger := setupLogger(serverConfig.Logging)

	var opts []sqlward.Option
	if serverConfig.AI.Model != "" {
		gen, err := ollama.New(ollama.Config{
			URL:   serverConfig.AI.URL,
			Model: serverConfig.AI.Model,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create generator: %w", err)
		}
		opts = append(opts, sqlward.WithGenerator(gen))
	}

	engine, err := sqlward.New(ctx, connString, serverConfig.Config, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close(ctx)

	logger.Info().Msg("testing database connection")
	if err := engine.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Msg("database connection test successful")

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	registerRoutes(r, engine)

	// Health check endpoint (process liveness only, not DB connectivity)
	if serverConfig.Server.HealthCheckEnabled {
		if serverConfig.Server.HealthCheckPath == "" {
			panic("sqlward: health_check_path must be set when health_check_enabled is true")
		}
		r.Get(serverConfig.Server.HealthCheckPath, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	addr := fmt.Sprintf(":%d", serverConfig.Server.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	if serverConfig.Server.MCPEnabled {
		hooks := &server.Hooks{}
		hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
			logger.Info().
				Str("client_name", req.Params.ClientInfo.Name).
				Str("client_version", req.Params.ClientInfo.Version).
				Msg("AI agent connected (MCP initialize)")
		})

		mcpServer := server.NewMCPServer("sqlward", "1.0.0",
			server.WithToolCapabilities(true),
			server.WithHooks(hooks),
		)
		sqlward.RegisterMCPTools(mcpServer, engine)

		streamableServer := server.NewStreamableHTTPServer(mcpServer,
			server.WithEndpointPath("/mcp"),
			server.WithStateLess(true),
			server.WithStreamableHTTPServer(httpSrv),
		)

		// Start() does NOT register the handler when a custom *http.Server
		// is provided via WithStreamableHTTPServer, so register it here.
		r.Handle("/mcp", streamableServer)

		logger.Info().Int("port", serverConfig.Server.Port).Bool("mcp", true).Msg("starting sqlward server")
		return streamableServer.Start(addr)
	}

	logger.Info().Int("port", serverConfig.Server.Port).Bool("mcp", false).Msg("starting sqlward server")
	return httpSrv.ListenAndServe()
}

func loadServerConfig() (*sqlward.ServerConfig, error) {
	configPath := os.Getenv("SQLWARD_CONFIG_PATH")
	if configPath == "" {
		configPath = ".sqlward/config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config sqlward.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

func buildConnString(conn sqlward.ConnectionConfig, username, password string) string {
	parts := []string{}
	if conn.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", conn.Host))
	}
	if conn.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", conn.Port))
	}
	if conn.DBName != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", conn.DBName))
	}
	if username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", username))
	}
	if password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", password))
	}
	if conn.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", conn.SSLMode))
	}
	return strings.Join(parts, " ")
}

func setupLogger(config sqlward.LoggingConfig) zerolog.Logger {
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

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}
