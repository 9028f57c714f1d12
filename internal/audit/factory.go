package audit

import (
	"fmt"

	"gatekeeper/internal/models"
)

// Factory creates audit stores from configuration. Centralizing construction
// keeps backend selection a pure config concern.
type Factory struct{}

// NewFactory creates an audit store factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates the configured backend.
// Supported types:
//   - memory: bounded in-memory ring (development, testing)
//   - sqlite: local database file (single-instance deployments)
//   - postgres: shared database (multi-instance deployments)
func (f *Factory) Create(cfg models.AuditConfig) (Store, error) {
	switch cfg.Type {
	case models.AuditTypeMemory:
		return NewMemoryStore(), nil
	case models.AuditTypeSQLite:
		return NewSQLiteStore(cfg.Path)
	case models.AuditTypePostgres:
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported audit store type: %s", cfg.Type)
	}
}

// SupportedTypes lists every backend the factory can build.
func (f *Factory) SupportedTypes() []string {
	return []string{models.AuditTypeMemory, models.AuditTypeSQLite, models.AuditTypePostgres}
}
