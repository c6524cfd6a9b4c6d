// Package templates serves notification templates from Postgres through an
// optional Redis read-through cache.
package templates

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/metrics"
)

// Source is the authoritative template store.
type Source interface {
	GetTemplateByCode(ctx context.Context, code string) (*db.Template, error)
	ListTemplates(ctx context.Context) ([]*db.Template, error)
}

// Cache holds templates by code. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, code string) (*db.Template, error)
	Set(ctx context.Context, t *db.Template) error
	Invalidate(ctx context.Context, codes ...string) error
}

// Store looks templates up by code. Cache failures are logged and the
// lookup falls through to the source.
type Store struct {
	source Source
	cache  Cache
	logger *zap.Logger
}

// NewStore creates a store. cache may be nil.
func NewStore(source Source, cache Cache, logger *zap.Logger) *Store {
	return &Store{
		source: source,
		cache:  cache,
		logger: logger.Named("templates"),
	}
}

// Get returns the active template for code, or an error wrapping
// db.ErrTemplateNotFound.
func (s *Store) Get(ctx context.Context, code string) (*db.Template, error) {
	if s.cache != nil {
		t, err := s.cache.Get(ctx, code)
		switch {
		case err != nil:
			metrics.RecordTemplateLookup("error")
			s.logger.Warn("template cache read failed, using store",
				zap.String("code", code),
				zap.Error(err),
			)
		case t != nil:
			metrics.RecordTemplateLookup("hit")
			return t, nil
		default:
			metrics.RecordTemplateLookup("miss")
		}
	}

	t, err := s.source.GetTemplateByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, t); err != nil {
			s.logger.Warn("failed to cache template", zap.String("code", code), zap.Error(err))
		}
	}

	return t, nil
}

// List returns every active template straight from the source.
func (s *Store) List(ctx context.Context) ([]*db.Template, error) {
	return s.source.ListTemplates(ctx)
}

// Invalidate drops cached copies so the next Get reads the source.
func (s *Store) Invalidate(ctx context.Context, codes ...string) error {
	if s.cache == nil || len(codes) == 0 {
		return nil
	}
	return s.cache.Invalidate(ctx, codes...)
}

// IsNotFound reports whether err means the template does not exist or is inactive.
func IsNotFound(err error) bool {
	return errors.Is(err, db.ErrTemplateNotFound)
}
