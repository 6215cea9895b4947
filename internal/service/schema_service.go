package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

type schemaRepository interface {
	Introspect(ctx context.Context) (models.Schema, error)
}

// SchemaService caches the live schema introspected at startup.
type SchemaService struct {
	repo   schemaRepository
	logger *zap.Logger

	mu     sync.RWMutex
	schema models.Schema
	loaded bool
}

// NewSchemaService constructs the schema service.
func NewSchemaService(repo schemaRepository, logger *zap.Logger) *SchemaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaService{repo: repo, logger: logger}
}

// Load introspects the database and caches the result.
func (s *SchemaService) Load(ctx context.Context) (models.Schema, error) {
	schema, err := s.repo.Introspect(ctx)
	if err != nil {
		return models.Schema{}, appErrors.Wrap(err, appErrors.ErrDBUnavailable.Code, appErrors.ErrDBUnavailable.Status, "no se pudo leer el esquema")
	}
	s.mu.Lock()
	s.schema = schema
	s.loaded = true
	s.mu.Unlock()
	s.logger.Info("schema loaded", zap.Int("tables", len(schema.Tables)))
	return schema, nil
}

// Schema returns the cached schema, or the fixed school schema before Load.
func (s *SchemaService) Schema() models.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return models.SchoolSchema()
	}
	return s.schema
}
