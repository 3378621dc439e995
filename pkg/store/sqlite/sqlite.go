// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/netlens/netlens/pkg/model"
	"github.com/netlens/netlens/pkg/store"
)

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	Path string

	// ReadOnly opens the database in read-only mode and skips migration.
	ReadOnly bool

	// WAL enables WAL mode for better read/write concurrency.
	WAL bool
}

// Store is the SQLite implementation of store.Store.
type Store struct {
	db   *sql.DB
	path string
	cfg  Config

	// Batch transaction state
	mu    sync.Mutex
	tx    *sql.Tx
	stmts map[string]*sql.Stmt
}

var _ store.Store = (*Store)(nil)

// New opens (and if needed creates) the database at cfg.Path.
// A migration failure is fatal: the caller must not serve with a store
// whose schema could not be brought up to date.
func New(cfg Config) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := cfg.Path + "?_foreign_keys=on"
	if cfg.ReadOnly {
		dsn += "&mode=ro"
	}
	if cfg.WAL {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer is best for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:    db,
		path:  cfg.Path,
		cfg:   cfg,
		stmts: make(map[string]*sql.Stmt),
	}

	if !cfg.ReadOnly {
		if err := s.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying connection for read-side queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ────────────────────────────────────────────────────────────────────────────
// Schema
// ────────────────────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	start_time   REAL NOT NULL,
	end_time     REAL,
	packet_count INTEGER NOT NULL DEFAULT 0,
	total_bytes  INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT
);

CREATE TABLE IF NOT EXISTS packets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	timestamp  REAL NOT NULL,
	length     INTEGER NOT NULL,
	protocol   TEXT NOT NULL,
	src_ip     TEXT,
	dst_ip     TEXT,
	src_port   INTEGER,
	dst_port   INTEGER,
	summary    TEXT,
	raw_bytes  BLOB
);

CREATE TABLE IF NOT EXISTS statistics (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	timestamp  REAL NOT NULL,
	type       TEXT NOT NULL,
	data       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_packets_session ON packets(session_id);
CREATE INDEX IF NOT EXISTS idx_packets_timestamp ON packets(timestamp);
CREATE INDEX IF NOT EXISTS idx_statistics_session ON statistics(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	// Additive column migrations for databases created by older versions.
	// Never destructive: detect before altering.
	additions := []struct{ table, column, decl string }{
		{"packets", "summary", "TEXT"},
		{"packets", "raw_bytes", "BLOB"},
		{"sessions", "metadata", "TEXT"},
	}
	for _, a := range additions {
		ok, err := s.hasColumn(a.table, a.column)
		if err != nil {
			return err
		}
		if !ok {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", a.table, a.column, a.decl)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("add column %s.%s: %w", a.table, a.column, err)
			}
		}
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", strconv.Itoa(store.SchemaVersion))
	return err
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid      int
			name     string
			ctype    string
			notnull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SchemaVersion reads the stored schema version.
func (s *Store) SchemaVersion() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// ────────────────────────────────────────────────────────────────────────────
// Batch writes
// ────────────────────────────────────────────────────────────────────────────

// BeginBatch starts a batch write transaction.
func (s *Store) BeginBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return store.ErrBatchOpen
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	s.tx = tx
	s.stmts = make(map[string]*sql.Stmt)
	return nil
}

// CommitBatch commits the current batch.
func (s *Store) CommitBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return store.ErrNoBatch
	}
	s.closeStmts()
	err := s.tx.Commit()
	s.tx = nil
	return err
}

// RollbackBatch rolls back the current batch. Rolling back with no batch in
// progress is a no-op.
func (s *Store) RollbackBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}
	s.closeStmts()
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *Store) closeStmts() {
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil
}

func (s *Store) getStmt(name, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts[name]; ok {
		return stmt, nil
	}
	stmt, err := s.tx.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[name] = stmt
	return stmt, nil
}

// InsertRecord inserts one packet record inside the current batch.
func (s *Store) InsertRecord(rec *model.PacketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return store.ErrNoBatch
	}

	const query = `INSERT INTO packets (
		session_id, timestamp, length, protocol,
		src_ip, dst_ip, src_port, dst_port, summary, raw_bytes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_packet", query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(
		rec.SessionID, rec.Timestamp, rec.Length, rec.Protocol,
		rec.SrcIP, rec.DstIP, rec.SrcPort, rec.DstPort, rec.Summary, rec.Raw,
	)
	return err
}

// InsertStatistic inserts one precomputed aggregate inside the current batch.
func (s *Store) InsertStatistic(stat *model.StatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return store.ErrNoBatch
	}

	const query = `INSERT INTO statistics (session_id, timestamp, type, data)
		VALUES (?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_statistic", query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(stat.SessionID, stat.Timestamp, stat.Type, string(stat.Data))
	return err
}

// ────────────────────────────────────────────────────────────────────────────
// Sessions
// ────────────────────────────────────────────────────────────────────────────

// CreateSession inserts a new session row and returns its id.
func (s *Store) CreateSession(name string, metadata map[string]string) (int64, error) {
	var metaJSON any
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal session metadata: %w", err)
		}
		metaJSON = string(data)
	}

	res, err := s.db.Exec(`INSERT INTO sessions (name, start_time, metadata) VALUES (?, ?, ?)`,
		name, float64(time.Now().UnixNano())/1e9, metaJSON)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return res.LastInsertId()
}

// EndSession finalizes a session: the one-time write of the final aggregates.
func (s *Store) EndSession(id int64, packetCount, totalBytes int64, endTime float64) error {
	res, err := s.db.Exec(`UPDATE sessions
		SET packet_count = ?, total_bytes = ?, end_time = ?
		WHERE id = ?`,
		packetCount, totalBytes, endTime, id)
	if err != nil {
		return fmt.Errorf("end session %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// GetSession retrieves a single session by id.
func (s *Store) GetSession(id int64) (*model.Session, error) {
	row := s.db.QueryRow(`SELECT id, name, start_time, end_time, packet_count, total_bytes, metadata
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrSessionNotFound
	}
	return sess, err
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions() ([]*model.Session, error) {
	rows, err := s.db.Query(`SELECT id, name, start_time, end_time, packet_count, total_bytes, metadata
		FROM sessions ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		sess     model.Session
		endTime  sql.NullFloat64
		metaJSON sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.Name, &sess.StartTime, &endTime,
		&sess.PacketCount, &sess.TotalBytes, &metaJSON)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		sess.EndTime = endTime.Float64
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}
	return &sess, nil
}

// ────────────────────────────────────────────────────────────────────────────
// Cleanup
// ────────────────────────────────────────────────────────────────────────────

// CleanupOlderThan removes packets and statistics older than the given number
// of days, plus sessions that ended before the cutoff.
func (s *Store) CleanupOlderThan(days int) (int64, error) {
	cutoff := float64(time.Now().Add(-time.Duration(days)*24*time.Hour).UnixNano()) / 1e9

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Sessions go last, and only once nothing references them anymore.
	var total int64
	for _, q := range []string{
		`DELETE FROM packets WHERE timestamp < ?`,
		`DELETE FROM statistics WHERE timestamp < ?`,
		`DELETE FROM sessions WHERE end_time IS NOT NULL AND end_time < ?
			AND id NOT IN (SELECT DISTINCT session_id FROM packets)
			AND id NOT IN (SELECT DISTINCT session_id FROM statistics)`,
	} {
		res, err := tx.Exec(q, cutoff)
		if err != nil {
			return 0, fmt.Errorf("cleanup: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// Info reports row counts and the database file size.
func (s *Store) Info() (map[string]int64, error) {
	info := make(map[string]int64)
	for _, t := range []string{"packets", "statistics", "sessions"} {
		var n int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + t).Scan(&n); err != nil {
			return nil, err
		}
		info[t] = n
	}
	if fi, err := os.Stat(s.path); err == nil {
		info["size_bytes"] = fi.Size()
	}
	return info, nil
}
