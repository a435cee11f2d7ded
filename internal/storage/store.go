package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"faceguard/internal/config"
	"faceguard/internal/model"
)

// Store is the append-only sink for alerts and session verdicts. Writes
// arrive from the alert dispatcher and from session completion, never from
// frame processing.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.Alert) error
	SaveVerdict(ctx context.Context, verdict model.Completion) error
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// sqlStore carries the statements shared by both drivers; only the schema
// and the placeholder style differ.
type sqlStore struct {
	db     *sql.DB
	schema []string
	bind   func(n int) string
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (s *sqlStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, ts, session_id, alert_type, severity, status, score, occurrences, message, channels_json, context_json)
		VALUES (`+s.placeholders(11)+`)`,
		alert.ID,
		alert.Timestamp.UTC(),
		alert.SessionID,
		string(alert.Type),
		string(alert.Severity),
		string(alert.Status),
		alert.Score,
		alert.Occurrences,
		alert.Message,
		encodeJSON(alert.Channels),
		encodeJSON(alert.Context),
	)
	return err
}

// SaveVerdict writes the verdict row and one row per challenge in a single
// transaction.
func (s *sqlStore) SaveVerdict(ctx context.Context, v model.Completion) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO verdicts (session_id, user_id, ts, status, liveness_score, deepfake_score, presence_ratio, recommendations_json)
		VALUES (`+s.placeholders(8)+`)`,
		v.SessionID,
		v.UserID,
		v.CompletedAt.UTC(),
		string(v.Status),
		v.LivenessScore,
		v.DeepfakeScore,
		v.PresenceRatio,
		encodeJSON(v.Recommendations),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO verdict_challenges (session_id, position, challenge_type, outcome)
		VALUES (`+s.placeholders(4)+`)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i, c := range v.Challenges {
		if _, err := stmt.ExecContext(ctx, v.SessionID, i, string(c.Type), string(c.Outcome)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
