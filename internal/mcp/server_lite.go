package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/app"
	"github.com/medreport-mcp-server/internal/archive"
	"github.com/medreport-mcp-server/internal/cache"
	litecfg "github.com/medreport-mcp-server/internal/config"
	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/knowledge"
	"github.com/medreport-mcp-server/internal/report"
	"github.com/medreport-mcp-server/internal/service"
	"github.com/medreport-mcp-server/pkg/external"
)

// LiteServer is a lightweight MCP server that requires no external databases.
// It uses an in-memory result cache and a SQLite archive under the data directory.
type LiteServer struct {
	config    *litecfg.LiteConfig
	mcpServer *mcp.Server
	service   *service.AnalysisService
	archive   domain.AnalysisArchive
	cache     *cache.MemoryCache
	logger    *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithArchive sets a custom analysis archive.
func WithArchive(store domain.AnalysisArchive) LiteServerOption {
	return func(s *LiteServer) error {
		s.archive = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: litecfg.NewLogger(cfg.LoggingConfig()),
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	kb, err := knowledge.Load(cfg.KnowledgeBasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}

	scorer, err := external.NewContextScorer(cfg.ModelConfig(), server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create context scorer: %w", err)
	}

	memCache, err := cache.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	server.cache = memCache

	if server.archive == nil && cfg.ArchiveEnabled {
		store, err := archive.NewSQLiteStore(cfg.ArchiveDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create analysis archive: %w", err)
		}
		server.archive = store
	}

	analyzer := app.NewAnalyzer(server.logger, kb, scorer, cfg.AnalysisConfig())
	server.service = service.NewAnalysisService(server.logger, analyzer, memCache, server.archive, report.NewRenderer())
	if index := app.NewCaseIndex(context.Background(), analyzer, cfg.CaseCorpusPath, server.logger); index != nil {
		server.service.SetCaseFinder(index)
	}

	exportDir := ""
	if server.archive != nil {
		exportDir = cfg.ExportDir()
	}
	handlers := NewToolHandlers(server.service, server.logger, exportDir)
	server.mcpServer = newMCPServer("medreport-mcp-server-lite", "v1.0.0", handlers)

	server.logger.WithFields(logrus.Fields{
		"data_dir":         cfg.DataDir,
		"archive":          server.archive != nil,
		"pipeline_version": analyzer.Version(),
	}).Info("Lite server initialized successfully")
	return server, nil
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.Info("Starting medical report MCP server (lite)")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close analysis archive")
			return err
		}
	}
	return nil
}

// GetArchive returns the analysis archive, or nil when archiving is disabled.
func (s *LiteServer) GetArchive() domain.AnalysisArchive {
	return s.archive
}

// GetCache returns the memory cache for external access.
func (s *LiteServer) GetCache() *cache.MemoryCache {
	return s.cache
}

// Service returns the analysis service behind the tools.
func (s *LiteServer) Service() *service.AnalysisService {
	return s.service
}
