// Package kvsqlite is a reference kv.Driver implementation over
// modernc.org/sqlite, the pure-Go sqlite, so the demo host stays
// cgo-free. The actor runtime core never imports this package; it only
// ever sees it as a kv.Driver.
package kvsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/teranos/actorcore/errors"
	"github.com/teranos/actorcore/kv"
	"github.com/teranos/actorcore/logger"
)

// Driver implements kv.Driver, kv.Sleeper, and kv.DatabaseProvider over
// a single SQLite database file holding every actor's KV rows, plus a
// per-actor attached database file for kv.DatabaseProvider.
type Driver struct {
	db      *sql.DB
	dataDir string

	mu      sync.Mutex
	actorDB map[string]*sql.DB

	log *zap.SugaredLogger
}

// Open opens (or creates) the shared KV database at path and applies
// migrations, mirroring store/sqlite.Open's shape: single connection,
// WAL journal, busy timeout, migrate-on-open.
func Open(path string, dataDir string) (*Driver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "pragma %q", pragma)
		}
	}

	d := &Driver{
		db:      db,
		dataDir: dataDir,
		actorDB: make(map[string]*sql.DB),
		log:     logger.ComponentLogger("kvsqlite"),
	}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return d, nil
}

func (d *Driver) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			actor_id TEXT NOT NULL,
			key      BLOB NOT NULL,
			value    BLOB NOT NULL,
			PRIMARY KEY (actor_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS alarms (
			actor_id TEXT PRIMARY KEY,
			at_ms    INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "migrate: %s", stmt)
		}
	}
	return nil
}

// Close closes the shared database and every opened per-actor database.
func (d *Driver) Close() error {
	d.mu.Lock()
	for _, adb := range d.actorDB {
		adb.Close()
	}
	d.mu.Unlock()
	return d.db.Close()
}

// KVBatchGet implements kv.Driver.
func (d *Driver) KVBatchGet(ctx context.Context, actorID string, keys [][]byte) ([]kv.Entry, error) {
	out := make([]kv.Entry, len(keys))
	stmt, err := d.db.PrepareContext(ctx, `SELECT value FROM kv WHERE actor_id = ? AND key = ?`)
	if err != nil {
		return nil, errors.Wrap(err, "prepare batch get")
	}
	defer stmt.Close()

	for i, key := range keys {
		out[i] = kv.Entry{Key: key}
		var value []byte
		err := stmt.QueryRowContext(ctx, actorID, key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "batch get actor=%s", actorID)
		}
		out[i].Value = value
	}
	return out, nil
}

// KVBatchPut implements kv.Driver as a single transaction so concurrent
// batches from other actors never interleave with a partial write.
func (d *Driver) KVBatchPut(ctx context.Context, actorID string, entries []kv.Entry) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin batch put")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kv (actor_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(actor_id, key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return errors.Wrap(err, "prepare batch put")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, actorID, e.Key, e.Value); err != nil {
			return errors.Wrapf(err, "batch put actor=%s", actorID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit batch put")
}

// KVBatchDelete implements kv.Driver.
func (d *Driver) KVBatchDelete(ctx context.Context, actorID string, keys [][]byte) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin batch delete")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM kv WHERE actor_id = ? AND key = ?`)
	if err != nil {
		return errors.Wrap(err, "prepare batch delete")
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, actorID, key); err != nil {
			return errors.Wrapf(err, "batch delete actor=%s", actorID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit batch delete")
}

// KVListPrefix implements kv.Driver. SQLite's BLOB ordering is
// byte-lexicographic, matching the big-endian queue key encoding the
// runtime relies on for in-order iteration.
func (d *Driver) KVListPrefix(ctx context.Context, actorID string, prefix []byte) ([]kv.Entry, error) {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			upper = upper[:i+1]
			break
		}
		if i == 0 {
			upper = nil
		}
	}

	var rows *sql.Rows
	var err error
	if upper == nil {
		rows, err = d.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE actor_id = ? AND key >= ? ORDER BY key`, actorID, prefix)
	} else {
		rows, err = d.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE actor_id = ? AND key >= ? AND key < ? ORDER BY key`, actorID, prefix, upper)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list prefix actor=%s", actorID)
	}
	defer rows.Close()

	var out []kv.Entry
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, errors.Wrap(err, "scan list prefix row")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "list prefix iteration")
}

// SetAlarm implements kv.Driver: replaces any previously set alarm.
func (d *Driver) SetAlarm(ctx context.Context, actorID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO alarms (actor_id, at_ms) VALUES (?, ?)
		ON CONFLICT(actor_id) DO UPDATE SET at_ms = excluded.at_ms`,
		actorID, at.UnixMilli())
	return errors.Wrapf(err, "set alarm actor=%s", actorID)
}

// DueAlarms returns every actorID whose alarm is at or before now, for
// the demo host's polling loop.
func (d *Driver) DueAlarms(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT actor_id FROM alarms WHERE at_ms <= ?`, now.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "query due alarms")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan due alarm row")
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM alarms WHERE at_ms <= ?`, now.UnixMilli()); err != nil {
		return nil, errors.Wrap(err, "clear fired alarms")
	}
	return out, nil
}

// StartDestroy implements kv.Driver: drops every kv row and any pending
// alarm for actorID, and closes/removes its attached database if one
// was opened.
func (d *Driver) StartDestroy(ctx context.Context, actorID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin destroy")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE actor_id = ?`, actorID); err != nil {
		return errors.Wrapf(err, "destroy kv rows actor=%s", actorID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM alarms WHERE actor_id = ?`, actorID); err != nil {
		return errors.Wrapf(err, "destroy alarm actor=%s", actorID)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit destroy")
	}

	d.mu.Lock()
	adb, ok := d.actorDB[actorID]
	delete(d.actorDB, actorID)
	d.mu.Unlock()
	if ok {
		adb.Close()
	}
	return nil
}

// StartSleep implements the optional kv.Sleeper capability. This
// reference driver has no resident-process state to release beyond the
// orchestrator itself, so it just logs; a production driver would use
// this hook to evict the actor from whatever process-level cache holds
// it.
func (d *Driver) StartSleep(ctx context.Context, actorID string) error {
	d.log.Debugw("actor sleeping", logger.FieldActorID, actorID)
	return nil
}

// GetDatabase implements kv.DatabaseProvider: each
// actor gets its own SQLite file under dataDir, opened lazily and
// cached for the process lifetime.
func (d *Driver) GetDatabase(actorID string) (*sql.DB, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if adb, ok := d.actorDB[actorID]; ok {
		return adb, true
	}
	if d.dataDir == "" {
		return nil, false
	}

	path := filepath.Join(d.dataDir, fmt.Sprintf("actor-%s.db", sanitizeFilename(actorID)))
	adb, err := sql.Open("sqlite", path)
	if err != nil {
		d.log.Errorw("failed to open per-actor database", logger.FieldActorID, actorID, logger.FieldError, err.Error())
		return nil, false
	}
	adb.SetMaxOpenConns(1)
	d.actorDB[actorID] = adb
	return adb, true
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
