package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"convertio/pkg/logx"
)

//go:embed schema.sql
var schema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite out of SQLITE_BUSY territory.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Record(ctx context.Context, r Record) error {
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(id, source, output, format, status, err, size, started_at, ended_at, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, err=excluded.err,
		   ended_at=excluded.ended_at, took_ms=excluded.took_ms`,
		r.ID, r.Source, r.Output, r.Format, r.Status, nullStr(r.Error), r.Size,
		unixMilli(r.StartedAt), r.EndedAt.UnixMilli(), r.TookMS,
	)
	return err
}

func (s *sqliteStore) List(ctx context.Context, limit int) ([]Record, error) {
	q := `SELECT id, source, output, format, status, err, size, started_at, ended_at, took_ms
	      FROM history ORDER BY ended_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r              Record
			errText        sql.NullString
			started, ended int64
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Output, &r.Format, &r.Status, &errText, &r.Size, &started, &ended, &r.TookMS); err != nil {
			return nil, err
		}
		r.Error = errText.String
		if started > 0 {
			r.StartedAt = time.UnixMilli(started)
		}
		r.EndedAt = time.UnixMilli(ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE ended_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
