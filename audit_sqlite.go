package qcontrol

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	time      TEXT NOT NULL,
	action    TEXT NOT NULL,
	module_id INTEGER NOT NULL,
	gate      TEXT,
	shots     INTEGER,
	payload   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records(action);
`

/*
SQLiteAuditLog stores records in a SQLite table. The full record is kept as
JSON in payload; action, module, gate and shots are broken out for queries.
*/
type SQLiteAuditLog struct {
	db *sql.DB
}

func OpenSQLiteAuditLog(path string) (*SQLiteAuditLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	// One connection means one writer; appends are serialized by database/sql.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply audit schema: %w", err)
	}

	return &SQLiteAuditLog{db: db}, nil
}

func (l *SQLiteAuditLog) Append(ctx context.Context, record AuditRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, time, action, module_id, gate, shots, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Time.Format("2006-01-02T15:04:05.000000000Z07:00"),
		record.Action,
		record.ModuleID,
		record.Gate,
		record.Shots,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for inspection tooling.
func (l *SQLiteAuditLog) DB() *sql.DB {
	return l.db
}

func (l *SQLiteAuditLog) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
