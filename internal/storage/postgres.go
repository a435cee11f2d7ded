package storage

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		alert_id UUID NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		session_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		occurrences INTEGER NOT NULL,
		message TEXT NOT NULL,
		channels_json JSONB NOT NULL,
		context_json JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_session ON alerts(session_id)`,
	`CREATE TABLE IF NOT EXISTS verdicts (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		liveness_score DOUBLE PRECISION NOT NULL,
		deepfake_score DOUBLE PRECISION NOT NULL,
		presence_ratio DOUBLE PRECISION NOT NULL,
		recommendations_json JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_verdicts_session ON verdicts(session_id)`,
	`CREATE TABLE IF NOT EXISTS verdict_challenges (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		challenge_type TEXT NOT NULL,
		outcome TEXT NOT NULL
	)`,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/faceguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, schema: postgresSchema, bind: func(n int) string { return "$" + strconv.Itoa(n) }}, nil
}
