// Package archive persists finished analyses for later retrieval and export.
// It sits outside the analysis pipeline and only ever stores complete results.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/database"
	"github.com/medreport-mcp-server/internal/domain"
)

// Archive drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// maxExportLimit is the maximum number of records to export at once.
const maxExportLimit = 1000000

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans id, report_type, category, confidence, created_at, result.
func scanRecord(s scanner) (*domain.AnalysisRecord, error) {
	rec := &domain.AnalysisRecord{}
	var category string
	var result []byte

	if err := s.Scan(&rec.ID, &rec.ReportType, &category, &rec.Confidence, &rec.CreatedAt, &result); err != nil {
		return nil, err
	}
	rec.Category = domain.Category(category)
	rec.CreatedAt = rec.CreatedAt.UTC()

	rec.Result = &domain.AnalysisResult{}
	if err := json.Unmarshal(result, rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode stored result %s: %w", rec.ID, err)
	}
	return rec, nil
}

// prepareRecord fills the id and timestamp and encodes the result.
func prepareRecord(record *domain.AnalysisRecord) ([]byte, error) {
	if record.Result == nil {
		return nil, fmt.Errorf("analysis record has no result")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	} else if _, err := uuid.Parse(record.ID); err != nil {
		return nil, fmt.Errorf("invalid analysis id %q: %w", record.ID, err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	if record.ReportType == "" {
		record.ReportType = record.Result.ReportType
	}
	if record.Category == "" {
		record.Category = record.Result.Classification.Category
		record.Confidence = record.Result.Classification.Confidence
	}

	data, err := json.Marshal(record.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return data, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", domain.ErrAnalysisNotFound, id)
}

// writeExport writes records as an indented AnalysisExport document.
func writeExport(w io.Writer, records []*domain.AnalysisRecord) error {
	if records == nil {
		records = []*domain.AnalysisRecord{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(&domain.AnalysisExport{
		Version:    domain.ExportFormatVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(records),
		Analyses:   records,
	})
}

// Open creates the archive selected by the configuration. The "none" driver
// returns a nil archive.
func Open(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (domain.AnalysisArchive, error) {
	switch strings.ToLower(cfg.Archive.Driver) {
	case DriverNone:
		logger.Info("Analysis archive disabled")
		return nil, nil
	case "", DriverSQLite:
		store, err := NewSQLiteStore(cfg.Archive.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite archive: %w", err)
		}
		logger.WithField("path", cfg.Archive.SQLitePath).Info("SQLite analysis archive opened")
		return store, nil
	case DriverPostgres:
		dbConfig := database.ConfigFrom(cfg.Database)
		if err := database.Migrate(ctx, dbConfig, cfg.Database.MigrationsPath, logger); err != nil {
			return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
		}
		db, err := database.NewConnection(ctx, dbConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect archive database: %w", err)
		}
		store, err := NewPostgresStore(db.SQL())
		if err != nil {
			db.Close()
			return nil, err
		}
		store.onClose = db.Close
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Archive.Driver)
	}
}
