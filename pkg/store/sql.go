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
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so that text comparisons in SQLite order like the instants they encode.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000-07:00"

const (
	sobrietyColumns   = `id, device_id, date, created_at, updated_at`
	submissionColumns = `id, type, name, email, message, email_sent, email_sent_at, created_at, updated_at`

	upsertSobrietySQL = `INSERT INTO sobriety_dates (device_id, date, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (device_id) DO UPDATE SET date = excluded.date, updated_at = excluded.updated_at
RETURNING ` + sobrietyColumns

	getSobrietySQL = `SELECT ` + sobrietyColumns + ` FROM sobriety_dates WHERE device_id = $1`

	updateSobrietySQL = `UPDATE sobriety_dates SET date = $2, updated_at = $3 WHERE device_id = $1
RETURNING ` + sobrietyColumns

	insertSubmissionSQL = `INSERT INTO support_forms (type, name, email, message, email_sent, created_at, updated_at)
VALUES ($1, $2, $3, $4, FALSE, $5, $5)
RETURNING id`

	getSubmissionSQL = `SELECT ` + submissionColumns + ` FROM support_forms WHERE id = $1`

	markEmailSentSQL = `UPDATE support_forms SET email_sent = TRUE, email_sent_at = $2, updated_at = $2
WHERE id = $1 AND email_sent = FALSE`

	submissionExistsSQL = `SELECT 1 FROM support_forms WHERE id = $1`

	listPendingSQL = `SELECT ` + submissionColumns + ` FROM support_forms WHERE email_sent = FALSE ORDER BY id ASC`

	statsSQL = `SELECT
    COUNT(*),
    COALESCE(SUM(CASE WHEN type = 'member' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN type = 'app' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN email_sent THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN email_sent THEN 0 ELSE 1 END), 0),
    COALESCE(SUM(CASE WHEN created_at >= $1 AND created_at < $2 THEN 1 ELSE 0 END), 0)
FROM support_forms`
)

// SQL is the database/sql backed Store shared by the SQLite and Postgres dialects.
type SQL struct {
	db      *sql.DB
	dialect string
	opts    options
}

var _ Store = (*SQL)(nil)

// NewSQL wraps an open handle without running migrations.
func NewSQL(db *sql.DB, dialect string, opts ...Option) *SQL {
	return &SQL{db: db, dialect: dialect, opts: buildOptions(opts)}
}

// OpenSQLite opens (or creates) the database file at path and migrates it. ":memory:" is accepted.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQL, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// single writer avoids SQLITE_BUSY and keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := NewSQL(db, DriverSQLite, opts...)
	if err := Migrate(ctx, db, DriverSQLite, s.opts.log); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.opts.log.Infow("SQLite store ready", "path", path)
	return s, nil
}

// OpenPostgres connects through the pgx stdlib driver and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*SQL, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewSQL(db, DriverPostgres, opts...)
	if err := Migrate(ctx, db, DriverPostgres, s.opts.log); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.opts.log.Infow("Postgres store ready")
	return s, nil
}

func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Dialect() string { return s.dialect }

func (s *SQL) now() time.Time {
	return s.opts.now().UTC()
}

// bindTime renders t for the active dialect. Postgres takes time.Time natively.
func (s *SQL) bindTime(t time.Time) any {
	if s.dialect == DriverSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

func (s *SQL) UpsertSobrietyDate(ctx context.Context, deviceID string, date Date) (SobrietyRecord, error) {
	row := s.db.QueryRowContext(ctx, upsertSobrietySQL, deviceID, date, s.bindTime(s.now()))
	rec, err := scanSobriety(row)
	if err != nil {
		return SobrietyRecord{}, fmt.Errorf("upsert sobriety date: %w", err)
	}
	return rec, nil
}

func (s *SQL) GetSobrietyDate(ctx context.Context, deviceID string) (SobrietyRecord, error) {
	rec, err := scanSobriety(s.db.QueryRowContext(ctx, getSobrietySQL, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return SobrietyRecord{}, ErrNotFound
	}
	if err != nil {
		return SobrietyRecord{}, fmt.Errorf("get sobriety date: %w", err)
	}
	return rec, nil
}

func (s *SQL) UpdateSobrietyDate(ctx context.Context, deviceID string, date Date) (SobrietyRecord, error) {
	row := s.db.QueryRowContext(ctx, updateSobrietySQL, deviceID, date, s.bindTime(s.now()))
	rec, err := scanSobriety(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SobrietyRecord{}, ErrNotFound
	}
	if err != nil {
		return SobrietyRecord{}, fmt.Errorf("update sobriety date: %w", err)
	}
	return rec, nil
}

func (s *SQL) CreateSubmission(ctx context.Context, sub *Submission) error {
	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx, insertSubmissionSQL,
		string(sub.Type), sub.Name, sub.Email, sub.Message, s.bindTime(now)).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert support submission: %w", err)
	}
	sub.ID = id
	sub.EmailSent = false
	sub.EmailSentAt = nil
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

func (s *SQL) GetSubmission(ctx context.Context, id int64) (Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, getSubmissionSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("get support submission %d: %w", id, err)
	}
	return sub, nil
}

func (s *SQL) MarkEmailSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, markEmailSentSQL, id, s.bindTime(at))
	if err != nil {
		return false, fmt.Errorf("mark submission %d sent: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark submission %d sent: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, submissionExistsSQL, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check submission %d: %w", id, err)
	}
	return false, nil
}

func (s *SQL) ListPendingSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	query := listPendingSQL
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	return out, nil
}

func (s *SQL) SubmissionStats(ctx context.Context, dayStart, dayEnd time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, statsSQL, s.bindTime(dayStart), s.bindTime(dayEnd)).Scan(
		&st.Total, &st.MemberCount, &st.AppCount, &st.EmailSentCount, &st.PendingCount, &st.TodayCount)
	if err != nil {
		return Stats{}, fmt.Errorf("submission stats: %w", err)
	}
	return st, nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSobriety(row rowScanner) (SobrietyRecord, error) {
	var (
		rec                  SobrietyRecord
		createdAt, updatedAt timestamp
	)
	if err := row.Scan(&rec.ID, &rec.DeviceID, &rec.Date, &createdAt, &updatedAt); err != nil {
		return SobrietyRecord{}, err
	}
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time
	return rec, nil
}

func scanSubmission(row rowScanner) (Submission, error) {
	var (
		sub                          Submission
		typ                          string
		sentAt, createdAt, updatedAt timestamp
	)
	if err := row.Scan(&sub.ID, &typ, &sub.Name, &sub.Email, &sub.Message,
		&sub.EmailSent, &sentAt, &createdAt, &updatedAt); err != nil {
		return Submission{}, err
	}
	sub.Type = FormType(typ)
	if sentAt.Valid {
		t := sentAt.Time
		sub.EmailSentAt = &t
	}
	sub.CreatedAt = createdAt.Time
	sub.UpdatedAt = updatedAt.Time
	return sub, nil
}

// timestamp scans the time representations returned by both drivers: time.Time from pgx and
// from modernc for DATETIME columns, text when SQLite hands back the raw value.
type timestamp struct {
	Time  time.Time
	Valid bool
}

var timestampLayouts = []string{
	sqliteTimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = timestamp{}
		return nil
	case time.Time:
		*t = timestamp{Time: v.UTC(), Valid: true}
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = timestamp{Time: parsed.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
