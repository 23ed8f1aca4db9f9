package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "zwboot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS retention (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	woken_by_rtcc     INTEGER NOT NULL,
	tick_before_sleep INTEGER NOT NULL,
	tick_at_wakeup    INTEGER NOT NULL,
	cycles            INTEGER NOT NULL,
	sleeping          INTEGER NOT NULL DEFAULT 0,
	pending_tick      INTEGER NOT NULL DEFAULT 0
);`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("retention.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer: the sleep-transition path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite retention store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Load(ctx context.Context) (Record, error) {
	var (
		r               Record
		woken, sleeping int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT woken_by_rtcc, tick_before_sleep, tick_at_wakeup, cycles, sleeping, pending_tick
		 FROM retention WHERE id = 1`,
	).Scan(&woken, &r.TickBeforeSleep, &r.TickAtWakeup, &r.Cycles, &sleeping, &r.PendingTickBeforeSleep)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, err
	}
	r.WakeupCausedByRtcc = woken != 0
	r.Sleeping = sleeping != 0
	return r, nil
}

func (s *sqliteStore) Save(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retention(id, woken_by_rtcc, tick_before_sleep, tick_at_wakeup, cycles, sleeping, pending_tick)
		 VALUES(1,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   woken_by_rtcc=excluded.woken_by_rtcc,
		   tick_before_sleep=excluded.tick_before_sleep,
		   tick_at_wakeup=excluded.tick_at_wakeup,
		   cycles=excluded.cycles,
		   sleeping=excluded.sleeping,
		   pending_tick=excluded.pending_tick`,
		boolInt(r.WakeupCausedByRtcc), int64(r.TickBeforeSleep), int64(r.TickAtWakeup), int64(r.Cycles),
		boolInt(r.Sleeping), int64(r.PendingTickBeforeSleep),
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
