package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"dkwatch/internal/standings"
	logx "dkwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap standings.Snapshot) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots(taken_at) VALUES(?)`,
		snap.TakenAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, e := range snap.Entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entries(snapshot_id, rank, team_name, pmr, fpts, winnings)
			 VALUES(?,?,?,?,?,?)`,
			id, e.Rank, e.TeamName, e.PMR, e.FPTS, e.Winnings.String())
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *sqliteStore) LatestSnapshot(ctx context.Context) (standings.Snapshot, error) {
	if s == nil || s.db == nil {
		return standings.Snapshot{}, ErrDisabled
	}
	var (
		id  int64
		raw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, taken_at FROM snapshots ORDER BY id DESC LIMIT 1`).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return standings.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return standings.Snapshot{}, err
	}

	takenAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return standings.Snapshot{}, fmt.Errorf("bad taken_at %q: %w", raw, err)
	}
	return s.loadEntries(ctx, id, takenAt)
}

func (s *sqliteStore) SnapshotAt(ctx context.Context, id int64) (standings.Snapshot, error) {
	if s == nil || s.db == nil {
		return standings.Snapshot{}, ErrDisabled
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT taken_at FROM snapshots WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return standings.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return standings.Snapshot{}, err
	}
	takenAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return standings.Snapshot{}, fmt.Errorf("bad taken_at %q: %w", raw, err)
	}
	return s.loadEntries(ctx, id, takenAt)
}

func (s *sqliteStore) loadEntries(ctx context.Context, id int64, takenAt time.Time) (standings.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rank, team_name, pmr, fpts, winnings
		 FROM entries WHERE snapshot_id = ? ORDER BY rank, team_name`, id)
	if err != nil {
		return standings.Snapshot{}, err
	}
	defer rows.Close()

	snap := standings.Snapshot{TakenAt: takenAt}
	for rows.Next() {
		var (
			e        standings.Entry
			winnings string
		)
		if err := rows.Scan(&e.Rank, &e.TeamName, &e.PMR, &e.FPTS, &winnings); err != nil {
			return standings.Snapshot{}, err
		}
		if winnings != "" {
			if d, err := decimal.NewFromString(winnings); err == nil {
				e.Winnings = d
			}
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

func (s *sqliteStore) ListSnapshots(ctx context.Context, limit int) ([]SnapshotMeta, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.taken_at, COUNT(e.rowid)
		 FROM snapshots s LEFT JOIN entries e ON e.snapshot_id = s.id
		 GROUP BY s.id ORDER BY s.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotMeta
	for rows.Next() {
		var (
			m   SnapshotMeta
			raw string
		)
		if err := rows.Scan(&m.ID, &raw, &m.EntryCount); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			m.TakenAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(started_at, took_ms, entry_count, ok, err)
		 VALUES(?,?,?,?,?)`,
		r.StartedAt.Format(time.RFC3339Nano), r.Duration.Milliseconds(),
		r.EntryCount, boolInt(r.OK), nullStr(r.Error))
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT started_at, took_ms, entry_count, ok, COALESCE(err, '')
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r      Run
			raw    string
			tookMS int64
			ok     int
		)
		if err := rows.Scan(&raw, &tookMS, &r.EntryCount, &ok, &r.Error); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			r.StartedAt = t
		}
		r.Duration = time.Duration(tookMS) * time.Millisecond
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	raw := cutoff.Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE taken_at < ?`, raw)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, raw); err != nil {
		return int(n), err
	}
	return int(n), nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
