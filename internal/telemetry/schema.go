package telemetry

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaDDL string

// InitializeSchema creates the telemetry tables if they don't exist.
func (s *Store) InitializeSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("initialize telemetry schema: %w", err)
	}
	s.log.Info("Telemetry schema initialized")
	return nil
}
