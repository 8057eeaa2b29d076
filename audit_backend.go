// audit_backend.go: SQLite and JSONL storage for the DTO audit trail
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend stores audit events.
type auditBackend interface {
	Write(events []AuditEvent) error
	Query(filter AuditFilter) ([]AuditEvent, error)
	Stats() (*AuditStats, error)
	Flush() error
	Close() error
}

// AuditStats summarizes the stored events.
type AuditStats struct {
	TotalEvents   int64            `json:"total_events"`
	EventsByLevel map[string]int64 `json:"events_by_level"`
	EventsByClass map[string]int64 `json:"events_by_class"`
	SchemaVersion int              `json:"schema_version"`
	Backend       string           `json:"backend"`
}

// createAuditBackend picks JSONL for .jsonl files and SQLite otherwise,
// falling back to JSONL when SQLite cannot be opened.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config.OutputFile)
	}

	backend, err := newSQLiteBackend(config)
	if err == nil {
		return backend, nil
	}
	if config.OutputFile == "" {
		return nil, err
	}

	fallback := strings.TrimSuffix(config.OutputFile, filepath.Ext(config.OutputFile)) + ".jsonl"
	jsonlBackend, jsonlErr := newJSONLBackend(fallback)
	if jsonlErr != nil {
		return nil, fmt.Errorf("all audit backends failed - SQLite: %w, JSONL: %v", err, jsonlErr)
	}
	return jsonlBackend, nil
}

type sqliteAuditBackend struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	mu         sync.RWMutex
	closed     bool
}

func newSQLiteBackend(config AuditConfig) (*sqliteAuditBackend, error) {
	dbPath := unifiedAuditPath()
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".db" {
		dbPath = config.OutputFile
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	backend := &sqliteAuditBackend{db: db}
	if err := backend.ensureSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit schema migration failed: %w", err)
	}

	stmt, err := db.Prepare(`
	INSERT INTO dto_audit_events (timestamp, level, event, class, process_id, context, checksum)
	VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	backend.insertStmt = stmt
	return backend, nil
}

const auditSchemaVersion = 2

// ensureSchemaVersion applies pending migrations inside one transaction.
func (s *sqliteAuditBackend) ensureSchemaVersion() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS dto_schema_info (
		version INTEGER PRIMARY KEY,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("failed to create schema info table: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version >= auditSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for v := version; v < auditSchemaVersion; v++ {
		var stmts []string
		switch v {
		case 0:
			stmts = []string{
				`CREATE TABLE IF NOT EXISTS dto_audit_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp TEXT NOT NULL,
					level TEXT NOT NULL,
					event TEXT NOT NULL,
					class TEXT NOT NULL,
					process_id INTEGER NOT NULL,
					context TEXT,
					checksum TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				"CREATE INDEX IF NOT EXISTS idx_dto_audit_timestamp ON dto_audit_events(timestamp)",
				"CREATE INDEX IF NOT EXISTS idx_dto_audit_class ON dto_audit_events(class)",
			}
		case 1:
			stmts = []string{
				"CREATE INDEX IF NOT EXISTS idx_dto_audit_class_event ON dto_audit_events(class, event, timestamp)",
				"CREATE INDEX IF NOT EXISTS idx_dto_audit_level_time ON dto_audit_events(level, timestamp)",
			}
		default:
			return fmt.Errorf("unknown migration path from version %d", v)
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migration to v%d failed: %w", v+1, err)
			}
		}
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO dto_schema_info (version, updated_at) VALUES (?, CURRENT_TIMESTAMP)`, auditSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

func (s *sqliteAuditBackend) schemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT version FROM dto_schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check schema version: %w", err)
	}
	return version, nil
}

func (s *sqliteAuditBackend) Write(events []AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("cannot write to closed SQLite audit backend")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.insertStmt)
	defer func() { _ = stmt.Close() }()

	for _, event := range events {
		context := ""
		if event.Context != nil {
			data, err := json.Marshal(event.Context)
			if err != nil {
				return fmt.Errorf("failed to serialize audit context: %w", err)
			}
			context = string(data)
		}
		if _, err := stmt.Exec(event.Timestamp.Format(time.RFC3339Nano), event.Level.String(),
			event.Event, event.Class, event.ProcessID, context, event.Checksum); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteAuditBackend) Query(filter AuditFilter) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("cannot query closed SQLite audit backend")
	}

	query := "SELECT timestamp, level, event, class, process_id, context, checksum FROM dto_audit_events WHERE 1=1"
	var args []any
	if filter.Class != "" {
		query += " AND class = ?"
		args = append(args, filter.Class)
	}
	if filter.Event != "" {
		query += " AND event = ?"
		args = append(args, filter.Event)
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEvent
	for rows.Next() {
		var (
			stamp, level string
			context      sql.NullString
			event        AuditEvent
		)
		if err := rows.Scan(&stamp, &level, &event.Event, &event.Class, &event.ProcessID, &context, &event.Checksum); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if event.Timestamp, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, fmt.Errorf("invalid audit timestamp %q: %w", stamp, err)
		}
		event.Level, _ = ParseAuditLevel(level)
		if context.Valid && context.String != "" {
			if err := json.Unmarshal([]byte(context.String), &event.Context); err != nil {
				return nil, fmt.Errorf("invalid audit context: %w", err)
			}
		}
		if !filter.match(event) {
			continue
		}
		out = append(out, event)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *sqliteAuditBackend) Stats() (*AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &AuditStats{
		EventsByLevel: map[string]int64{},
		EventsByClass: map[string]int64{},
		Backend:       "sqlite",
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM dto_audit_events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	for column, target := range map[string]map[string]int64{"level": stats.EventsByLevel, "class": stats.EventsByClass} {
		rows, err := s.db.Query(fmt.Sprintf("SELECT %s, COUNT(*) FROM dto_audit_events GROUP BY %s", column, column))
		if err != nil {
			return nil, fmt.Errorf("failed to group audit events by %s: %w", column, err)
		}
		for rows.Next() {
			var (
				key   string
				count int64
			)
			if err := rows.Scan(&key, &count); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan %s stats: %w", column, err)
			}
			target[key] = count
		}
		_ = rows.Close()
	}
	version, err := s.schemaVersion()
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version
	return stats, nil
}

func (s *sqliteAuditBackend) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to flush SQLite audit backend: %w", err)
	}
	return nil
}

func (s *sqliteAuditBackend) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []string
	if s.insertStmt != nil {
		if err := s.insertStmt.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing SQLite audit backend: %s", strings.Join(errs, "; "))
	}
	return nil
}

type jsonlAuditBackend struct {
	file   *os.File
	path   string
	mu     sync.Mutex
	closed bool
}

func newJSONLBackend(path string) (*jsonlAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create JSONL audit log directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL audit log file: %w", err)
	}
	return &jsonlAuditBackend{file: file, path: path}, nil
}

func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("cannot write to closed JSONL audit backend")
	}
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to serialize audit event: %w", err)
		}
		if _, err := j.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write audit event to JSONL: %w", err)
		}
	}
	return nil
}

func (j *jsonlAuditBackend) Query(filter AuditFilter) ([]AuditEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(filepath.Clean(j.path))
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL audit log: %w", err)
	}
	defer func() { _ = file.Close() }()

	var out []AuditEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("invalid JSONL audit line: %w", err)
		}
		if !filter.match(event) {
			continue
		}
		out = append(out, event)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, scanner.Err()
}

func (j *jsonlAuditBackend) Stats() (*AuditStats, error) {
	events, err := j.Query(AuditFilter{})
	if err != nil {
		return nil, err
	}
	stats := &AuditStats{
		TotalEvents:   int64(len(events)),
		EventsByLevel: map[string]int64{},
		EventsByClass: map[string]int64{},
		SchemaVersion: 1,
		Backend:       "jsonl",
	}
	for _, e := range events {
		stats.EventsByLevel[e.Level.String()]++
		stats.EventsByClass[e.Class]++
	}
	return stats, nil
}

func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync JSONL audit file: %w", err)
	}
	return nil
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}
