/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

type gooseLogger struct {
	log *zap.SugaredLogger
}

func (g gooseLogger) Printf(format string, v ...any) { g.log.Infof(format, v...) }
func (g gooseLogger) Fatalf(format string, v ...any) { g.log.Fatalf(format, v...) }

// Migrate applies the embedded migrations for dialect ("postgres" or "sqlite").
func Migrate(ctx context.Context, db *sql.DB, dialect string, log *zap.SugaredLogger) error {
	var (
		dir          string
		gooseDialect string
	)
	switch dialect {
	case DriverPostgres:
		dir, gooseDialect = "migrations/postgres", "pgx"
	case DriverSQLite:
		dir, gooseDialect = "migrations/sqlite", "sqlite3"
	default:
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}
	sub, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()
	goose.SetBaseFS(sub)
	goose.SetLogger(gooseLogger{log: log.With("component", "migrate", "dialect", dialect)})
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply %s migrations: %w", dialect, err)
	}
	return nil
}
