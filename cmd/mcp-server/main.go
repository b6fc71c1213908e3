package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/config"
	"github.com/medreport-mcp-server/internal/mcp"
)

func main() {
	// stdout carries the protocol
	logrus.SetOutput(os.Stderr)

	configManager, err := config.NewManager()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	if err := configManager.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mcpServer, err := mcp.NewServer(ctx, configManager)
	if err != nil {
		logrus.Fatalf("Failed to create MCP server: %v", err)
	}
	defer mcpServer.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logrus.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	if err := mcpServer.Start(ctx); err != nil {
		logrus.Fatalf("MCP server failed: %v", err)
	}

	logrus.Info("Medical report MCP server stopped")
}
