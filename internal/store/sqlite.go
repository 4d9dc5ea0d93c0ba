package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fixsession/internal/fix"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (messages table)
// 1 - Added index on messages.stamp
const currentSchemaVersion = 1

// SQLiteLog stores one row per sequence number in a SQLite database.
// Uses WAL mode so retrieval can run while appends are in flight.
type SQLiteLog struct {
	path string
	opts Options
	log  *slog.Logger

	mu sync.Mutex

	rw sync.RWMutex
	db *sql.DB
}

// NewSQLiteLog creates a log backed by the database file at path.
func NewSQLiteLog(path string, opts Options) *SQLiteLog {
	opts = opts.withDefaults()
	return &SQLiteLog{path: path, opts: opts, log: opts.Logger}
}

func (l *SQLiteLog) Kind() Kind { return KindSQLite }

func (l *SQLiteLog) Path() string { return l.path }

func (l *SQLiteLog) Initialize() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initializeLocked()
}

func (l *SQLiteLog) initializeLocked() (uint64, error) {
	l.rw.Lock()
	defer l.rw.Unlock()

	if err := l.closeLocked(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return 0, fmt.Errorf("create log dir: %w", err)
	}

	db, err := openDB(l.path)
	if err != nil {
		return 0, err
	}

	var last uint64
	if err := db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM messages").Scan(&last); err != nil {
		db.Close()
		return 0, fmt.Errorf("read last sequence: %w", err)
	}
	l.db = db

	l.log.Debug("message log opened", "path", l.path, "kind", KindSQLite, "next_seq", last+1)
	return last + 1, nil
}

// openDB opens the database and applies pragmas and migrations.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_stamp ON messages(stamp)"); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Append stores msg under its sequence number and returns the bytes stored
// (timestamp plus message).
func (l *SQLiteLog) Append(msg []byte, ts time.Time) (int, error) {
	seq, err := fix.RawSeqNum(msg)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoSeqNum, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rw.RLock()
	defer l.rw.RUnlock()
	if l.db == nil {
		return 0, ErrStorageClosed
	}

	tx, err := l.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if fix.IsLogonSeqOne(msg) {
		if _, err := tx.Exec("DELETE FROM messages"); err != nil {
			return 0, fmt.Errorf("reset messages: %w", err)
		}
		l.log.Info("new session detected, message log reset", "path", l.path)
	}

	stamp := ""
	if l.opts.Timestamps {
		if ts.IsZero() {
			ts = l.opts.Now()
		}
		stamp = fix.FormatUTC(ts, l.opts.Precision)
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO messages (seq, stamp, body) VALUES (?, ?, ?)",
		int64(seq), stamp, msg,
	); err != nil {
		return 0, fmt.Errorf("append seq %d: %w", seq, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seq %d: %w", seq, err)
	}
	return len(stamp) + len(msg), nil
}

func (l *SQLiteLog) RetrieveRange(from, to uint64, fn Listener, blocking bool) error {
	if from < 1 || to < 1 {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, from, to)
	}

	records, err := l.query(from, to)
	if err != nil {
		return err
	}

	d := newDispatcher(fn, blocking)
	defer d.finish()

	next := from
	for _, r := range records {
		if r.seq != next {
			break
		}
		d.deliver(r.seq, r.msg)
		next++
	}
	return nil
}

func (l *SQLiteLog) query(from, to uint64) ([]record, error) {
	l.rw.RLock()
	defer l.rw.RUnlock()
	if l.db == nil {
		return nil, ErrStorageClosed
	}

	// seq is stored as a signed integer
	hi := int64(to)
	if to > 1<<63-1 {
		hi = 1<<63 - 1
	}
	rows, err := l.db.Query(
		"SELECT seq, body FROM messages WHERE seq BETWEEN ? AND ? ORDER BY seq ASC",
		int64(from), hi,
	)
	if err != nil {
		return nil, fmt.Errorf("query range [%d, %d]: %w", from, to, err)
	}
	defer rows.Close()

	var records []record
	for rows.Next() {
		var (
			seq  int64
			body []byte
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		records = append(records, record{seq: uint64(seq), msg: body})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return records, nil
}

func (l *SQLiteLog) BackupOrDelete(mode CleanupMode) error {
	if mode != CleanupBackup && mode != CleanupDelete {
		return fmt.Errorf("unknown cleanup mode %q", mode)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rw.Lock()
	wasOpen := l.db != nil
	err := l.closeLocked()
	l.rw.Unlock()
	if err != nil {
		return fmt.Errorf("close before %s: %w", mode, err)
	}

	files := []string{l.path, l.path + "-wal", l.path + "-shm"}
	for _, f := range files {
		if err := moveOrRemove(f, mode, l.opts.BackupLocator); err != nil {
			return err
		}
	}
	l.log.Info("message log cleaned up", "path", l.path, "mode", mode)

	if wasOpen {
		if _, err := l.initializeLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (l *SQLiteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rw.Lock()
	defer l.rw.Unlock()
	return l.closeLocked()
}

func (l *SQLiteLog) closeLocked() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
