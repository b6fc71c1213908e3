// Package app wires the analysis service and its collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/archive"
	"github.com/medreport-mcp-server/internal/cache"
	"github.com/medreport-mcp-server/internal/casebase"
	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/evaluation"
	"github.com/medreport-mcp-server/internal/knowledge"
	"github.com/medreport-mcp-server/internal/report"
	"github.com/medreport-mcp-server/internal/service"
	"github.com/medreport-mcp-server/pkg/external"
)

const defaultCacheTTL = 24 * time.Hour

// App holds the wired analysis service and the resources it owns.
type App struct {
	Service   *service.AnalysisService
	Analyzer  *service.Analyzer
	Knowledge *knowledge.Base
	Archive   domain.AnalysisArchive
	Cache     domain.ResultCache
	Cases     *casebase.Index

	redis  *cache.RedisCache
	logger *logrus.Logger
}

// New builds the application from the full configuration. The result cache
// is Redis when a URL is configured and in-memory otherwise.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	kb, err := knowledge.Load(cfg.Analysis.KnowledgeBasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}

	scorer, err := external.NewContextScorer(cfg.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create context scorer: %w", err)
	}

	a := &App{Knowledge: kb, logger: logger}

	ttl := cfg.Cache.DefaultTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("failed to connect result cache: %w", err)
		}
		a.redis, a.Cache = rc, rc
		logger.Info("Redis result cache connected")
	} else if cfg.Cache.MemoryMaxItems > 0 {
		mc, err := cache.NewMemoryCache(cfg.Cache.MemoryMaxItems, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}
		a.Cache = mc
	}

	a.Archive, err = archive.Open(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Analyzer = NewAnalyzer(logger, kb, scorer, cfg.Analysis)
	a.Service = service.NewAnalysisService(logger, a.Analyzer, a.Cache, a.Archive, report.NewRenderer())
	a.Cases = NewCaseIndex(ctx, a.Analyzer, cfg.Analysis.CaseCorpusPath, logger)
	if a.Cases != nil {
		a.Service.SetCaseFinder(a.Cases)
	}

	logger.WithFields(logrus.Fields{
		"pipeline_version": a.Analyzer.Version(),
		"profiles":         len(kb.Profiles()),
		"model_provider":   cfg.Model.Provider,
	}).Info("Analysis service initialized")
	return a, nil
}

// NewAnalyzer applies the pipeline settings to a new analyzer.
func NewAnalyzer(logger *logrus.Logger, kb *knowledge.Base, scorer domain.ContextScorer, cfg domain.AnalysisConfig) *service.Analyzer {
	var opts []service.AnalyzerOption
	if cfg.MaxReportBytes > 0 {
		opts = append(opts, service.WithMaxReportBytes(cfg.MaxReportBytes))
	}
	if cfg.DefaultReportType != "" {
		opts = append(opts, service.WithDefaultReportType(cfg.DefaultReportType))
	}
	if cfg.ModelTimeout > 0 {
		opts = append(opts, service.WithModelTimeout(cfg.ModelTimeout))
	}
	return service.NewAnalyzer(logger, kb, scorer, opts...)
}

// NewCaseIndex indexes the reference cases for similar-case lookup. The
// lookup is optional: a corpus that cannot be loaded or analyzed disables it
// and returns nil.
func NewCaseIndex(ctx context.Context, analyzer domain.ReportAnalyzer, corpusPath string, logger *logrus.Logger) *casebase.Index {
	cases, err := evaluation.LoadCorpus(corpusPath)
	if err != nil {
		logger.WithError(err).Warn("Similar case lookup disabled")
		return nil
	}
	index, err := casebase.Build(ctx, analyzer, cases, logger)
	if err != nil {
		logger.WithError(err).Warn("Similar case lookup disabled")
		return nil
	}
	return index
}

// RedisHealth pings the Redis cache, or returns nil when none is configured.
func (a *App) RedisHealth(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Health(ctx)
}

// HasRedis reports whether the result cache is Redis.
func (a *App) HasRedis() bool {
	return a.redis != nil
}

// Close releases the archive and cache connections.
func (a *App) Close() error {
	var firstErr error
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close analysis archive")
			firstErr = err
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close Redis cache")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
