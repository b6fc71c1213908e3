package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medreport-mcp-server/internal/domain"
)

// EntityExtractor runs every recognizer over every section. Recognizers run
// concurrently; each gets its own deadline. A recognizer that fails or times
// out contributes no entities and is reported as a RECOGNITION_DEGRADED warning.
type EntityExtractor struct {
	logger      *logrus.Logger
	recognizers []domain.Recognizer
	timeout     time.Duration
}

// NewEntityExtractor creates an extractor. A zero timeout disables the
// per-recognizer deadline.
func NewEntityExtractor(logger *logrus.Logger, recognizers []domain.Recognizer, timeout time.Duration) *EntityExtractor {
	return &EntityExtractor{
		logger:      logger,
		recognizers: recognizers,
		timeout:     timeout,
	}
}

type recognizerOutcome struct {
	entities []domain.Entity
	err      error
}

// Extract returns the entities found in sections, sorted by position, and
// one warning per degraded recognizer.
func (x *EntityExtractor) Extract(ctx context.Context, sections []domain.Section) ([]domain.Entity, []domain.Warning) {
	outcomes := make([]recognizerOutcome, len(x.recognizers))

	var wg sync.WaitGroup
	for i, r := range x.recognizers {
		wg.Add(1)
		go func(i int, r domain.Recognizer) {
			defer wg.Done()
			outcomes[i] = x.run(ctx, r, sections)
		}(i, r)
	}
	wg.Wait()

	var entities []domain.Entity
	var warnings []domain.Warning
	for i, out := range outcomes {
		name := x.recognizers[i].Name()
		if out.err != nil {
			x.logger.WithError(out.err).WithField("recognizer", name).Warn("Recognizer degraded, discarding its entities")
			warnings = append(warnings, domain.Warning{
				Code:    domain.WarningRecognitionDegraded,
				Message: fmt.Sprintf("recognizer %s contributed no entities: %v", name, out.err),
				Source:  name,
			})
			continue
		}
		for _, e := range out.entities {
			if err := validEntity(e, sections); err != nil {
				x.logger.WithError(err).WithField("recognizer", name).Debug("Dropping malformed entity")
				continue
			}
			entities = append(entities, e)
		}
	}

	entities = dedupeEntities(entities)
	x.logger.WithFields(logrus.Fields{
		"sections": len(sections),
		"entities": len(entities),
		"degraded": len(warnings),
	}).Debug("Entity extraction completed")

	return entities, warnings
}

// run applies one recognizer to all sections under its own deadline.
func (x *EntityExtractor) run(ctx context.Context, r domain.Recognizer, sections []domain.Section) (out recognizerOutcome) {
	defer func() {
		if p := recover(); p != nil {
			out = recognizerOutcome{err: fmt.Errorf("recognizer panicked: %v", p)}
		}
	}()

	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	var entities []domain.Entity
	for i, section := range sections {
		found, err := r.Recognize(ctx, section, i)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %v", domain.ErrRecognizerTimedOut, err)
			}
			return recognizerOutcome{err: err}
		}
		entities = append(entities, found...)
	}
	return recognizerOutcome{entities: entities}
}

func validEntity(e domain.Entity, sections []domain.Section) error {
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidEntityType, e.Type)
	}
	if e.Section < 0 || e.Section >= len(sections) {
		return fmt.Errorf("section index %d out of range", e.Section)
	}
	if e.Start >= e.End || !sections[e.Section].Contains(e.Start, e.End) {
		return fmt.Errorf("span [%d,%d) outside section %d", e.Start, e.End, e.Section)
	}
	if e.Confidence <= 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", e.Confidence)
	}
	return nil
}

// dedupeEntities merges identical mentions (same type, span and value) keeping
// the highest confidence. Conflicting values are all retained.
func dedupeEntities(entities []domain.Entity) []domain.Entity {
	type key struct {
		t          domain.EntityType
		start, end int
		value      string
	}
	index := make(map[key]int, len(entities))
	out := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		k := key{e.Type, e.Start, e.End, e.Value}
		if i, ok := index[k]; ok {
			if e.Confidence > out[i].Confidence {
				out[i] = e
			}
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Value < b.Value
	})
	return out
}
