// Package mcp exposes the report analysis service as an MCP server.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/app"
	"github.com/medreport-mcp-server/internal/config"
	"github.com/medreport-mcp-server/internal/domain"
)

// TransportStdio is the only supported MCP transport.
const TransportStdio = "stdio"

// Server is the full MCP server backed by the configured archive and cache.
type Server struct {
	config    *domain.Config
	app       *app.App
	mcpServer *mcp.Server
	handlers  *ToolHandlers
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance
func NewServer(ctx context.Context, configManager *config.Manager) (*Server, error) {
	cfg := configManager.GetConfig()

	// stdout carries the protocol
	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	logger := config.NewLogger(logCfg)

	transport := strings.ToLower(cfg.MCP.TransportType)
	if transport != "" && transport != TransportStdio {
		return nil, fmt.Errorf("unsupported MCP transport %q", cfg.MCP.TransportType)
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	handlers := NewToolHandlers(application.Service, logger, "")
	server := &Server{
		config:    cfg,
		app:       application,
		mcpServer: newMCPServer(cfg.MCP.ServerName, cfg.MCP.ServerVersion, handlers),
		handlers:  handlers,
		logger:    logger,
	}
	return server, nil
}

func newMCPServer(name, version string, handlers *ToolHandlers) *mcp.Server {
	if name == "" {
		name = "medreport-mcp-server"
	}
	if version == "" {
		version = "v1.0.0"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	handlers.Register(server)
	return server
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"transport":        TransportStdio,
		"pipeline_version": s.app.Service.Version(),
	}).Info("Starting medical report MCP server")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close releases the archive and cache.
func (s *Server) Close() error {
	return s.app.Close()
}
