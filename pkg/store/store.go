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
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/config"
)

// Store persists sobriety dates and support submissions.
type Store interface {
	// UpsertSobrietyDate creates the record for deviceID or overwrites its date. Atomic on device id.
	UpsertSobrietyDate(ctx context.Context, deviceID string, date Date) (SobrietyRecord, error)
	GetSobrietyDate(ctx context.Context, deviceID string) (SobrietyRecord, error)
	// UpdateSobrietyDate changes the date of an existing record and never creates one.
	UpdateSobrietyDate(ctx context.Context, deviceID string, date Date) (SobrietyRecord, error)

	// CreateSubmission inserts sub with email_sent=false and fills in its ID and timestamps.
	CreateSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, id int64) (Submission, error)
	// MarkEmailSent flips email_sent from false to true. It reports false when the flag was already set.
	MarkEmailSent(ctx context.Context, id int64, at time.Time) (bool, error)
	ListPendingSubmissions(ctx context.Context, limit int) ([]Submission, error)
	SubmissionStats(ctx context.Context, dayStart, dayEnd time.Time) (Stats, error)

	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Option customises a store implementation.
type Option func(*options)

type options struct {
	now func() time.Time
	log *zap.SugaredLogger
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open selects the backend named by cfg.Driver and runs schema migrations for SQL backends.
func Open(ctx context.Context, cfg config.Database, opts ...Option) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case DriverMemory:
		return NewMemory(opts...), nil
	case "", DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = config.DefaultSQLitePath
		}
		return OpenSQLite(ctx, path, opts...)
	case DriverPostgres, "pgx":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres driver selected but no DSN configured")
		}
		return OpenPostgres(ctx, cfg.PostgresDSN, opts...)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
