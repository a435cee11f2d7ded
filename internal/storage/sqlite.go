package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		session_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		score REAL NOT NULL,
		occurrences INTEGER NOT NULL,
		message TEXT NOT NULL,
		channels_json TEXT NOT NULL,
		context_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_session ON alerts(session_id)`,
	`CREATE TABLE IF NOT EXISTS verdicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		status TEXT NOT NULL,
		liveness_score REAL NOT NULL,
		deepfake_score REAL NOT NULL,
		presence_ratio REAL NOT NULL,
		recommendations_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_verdicts_session ON verdicts(session_id)`,
	`CREATE TABLE IF NOT EXISTS verdict_challenges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		challenge_type TEXT NOT NULL,
		outcome TEXT NOT NULL
	)`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:faceguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; this also keeps :memory: DSNs on one database
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, schema: sqliteSchema, bind: func(int) string { return "?" }}, nil
}
