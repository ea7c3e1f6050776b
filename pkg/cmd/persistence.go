// Package cmd wires shared service dependencies (persistence, event bus) for
// the binaries under cmd/.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tidehq/tideflow/pkg/persistence"
	"github.com/tidehq/tideflow/pkg/persistence/file"
	"github.com/tidehq/tideflow/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence backend from the database URL
// scheme. PostgreSQL URLs get the SQL backend with migrations applied on
// startup; anything else falls back to the file backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
