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
	"gopkg.in/yaml.v3"

	"github.com/vertexmcp/vertexmcp/internal/application"
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/config"
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/llm"
	_ "github.com/vertexmcp/vertexmcp/internal/infrastructure/llm/vertex" // register provider factory
	"github.com/vertexmcp/vertexmcp/internal/infrastructure/logger"
	httpiface "github.com/vertexmcp/vertexmcp/internal/interfaces/http"
	"github.com/vertexmcp/vertexmcp/internal/interfaces/stdio"
)

const (
	appName    = "vertexmcp"
	appVersion = "1.0.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "VertexMCP agentic tool-orchestration server",
		Long:  "VertexMCP serves an agentic LLM loop over a newline-JSON protocol on stdio, with an optional HTTP interface.",
		RunE:  runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the server (default)",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Show the effective configuration",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return err
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Format:   cfg.LogFormat,
		LogDir:   cfg.LogDir,
		ToStderr: cfg.LogToStderr,
		Disabled: cfg.DisableLogging,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return err
	}
	defer log.Sync()

	log.Info("Starting VertexMCP",
		zap.String("version", appVersion),
		zap.String("model", cfg.Model),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", zap.Error(err))
		return err
	}

	var httpSrv *httpiface.Server
	if cfg.HTTPPort > 0 {
		httpSrv = httpiface.NewServer(httpiface.Config{
			Host: cfg.HTTPHost,
			Port: cfg.HTTPPort,
			Mode: "release",
		}, app, app.Monitor(), log)
		httpSrv.Start()
	}

	srv := stdio.NewServer(app, os.Stdin, os.Stdout, log)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-serveErr:
		if err != nil {
			log.Error("Protocol stream error", zap.Error(err))
		} else {
			log.Info("Input stream closed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if httpSrv != nil {
		if err := httpSrv.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping HTTP server", zap.Error(err))
		}
	}
	app.Shutdown()

	log.Info("Application stopped successfully")
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("✗ configuration: %v\n", err)
		return err
	}

	redacted := *cfg
	if redacted.AccessToken != "" {
		redacted.AccessToken = "***"
	}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return err
	}

	fmt.Printf("◇ %s doctor v%s\n\n", appName, appVersion)
	fmt.Printf("Effective configuration:\n\n%s\n", data)
	fmt.Printf("External tool servers: %d\n", len(cfg.MCPServers))

	provider, err := llm.CreateProvider(llm.ProviderConfig{
		Name:        "vertex",
		ProjectID:   cfg.ProjectID,
		Location:    cfg.Location,
		Model:       cfg.Model,
		AccessToken: cfg.AccessToken,
	}, zap.NewNop())
	if err != nil {
		fmt.Printf("✗ model backend: %v\n", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if provider.IsAvailable(ctx) {
		fmt.Printf("✓ model backend usable (%s)\n", provider.Name())
	} else {
		fmt.Printf("✗ model backend not usable (%s)\n", provider.Name())
	}
	return nil
}
