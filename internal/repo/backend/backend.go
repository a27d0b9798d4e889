// Package backend picks a record store from a DSN.
package backend

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/repo"
	"github.com/hamed0406/watchdog/internal/repo/memory"
	pg "github.com/hamed0406/watchdog/internal/repo/postgres"
	"github.com/hamed0406/watchdog/internal/repo/sqlite"
)

// Open returns the store named by dsn:
//
//	""                      in-memory (state is lost on exit)
//	postgres://, postgresql://  Postgres via pgx, schema applied on open
//	sqlite://path, *.db     SQLite file
func Open(ctx context.Context, dsn string, log *zap.Logger) (repo.Store, error) {
	switch {
	case dsn == "":
		log.Warn("DATABASE_URL not set; using in-memory store")
		return memory.New(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := pg.New(ctx, dsn, log)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("using Postgres store")
		return s, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return openSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"), log)
	case strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return openSQLite(ctx, dsn, log)
	}
	return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %q", dsn)
}

func openSQLite(ctx context.Context, path string, log *zap.Logger) (repo.Store, error) {
	s, err := sqlite.New(ctx, path, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}
