// Package eventlog persists one row per resolution for offline analysis and
// the monitoring summary.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/locallens/resolve-cli/internal/model"
)

// Event is one stored resolution record.
type Event struct {
	RequestID  string
	Timestamp  time.Time
	RawAddress string
	Fused      float64
	Integrity  int
	Anomalous  bool
	Severity   string
	Healed     bool
	Degraded   bool
	FromCache  bool
	LatencyMs  int64
	Detail     string // full PipelineResult JSON
}

// Sink receives finished resolutions. Implementations must be safe for
// concurrent appends.
type Sink interface {
	Append(ctx context.Context, result *model.PipelineResult) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// SQLiteSink implements Sink using modernc.org/sqlite.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "eventlog: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "eventlog: exec %s", pragma)
		}
	}

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS resolve_events (
	request_id  TEXT PRIMARY KEY,
	ts          DATETIME NOT NULL,
	raw_address TEXT NOT NULL,
	fused       REAL NOT NULL,
	integrity   INTEGER NOT NULL,
	anomalous   INTEGER NOT NULL DEFAULT 0,
	severity    TEXT,
	healed      INTEGER NOT NULL DEFAULT 0,
	degraded    INTEGER NOT NULL DEFAULT 0,
	from_cache  INTEGER NOT NULL DEFAULT 0,
	latency_ms  INTEGER NOT NULL,
	detail      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolve_events_ts ON resolve_events(ts);
CREATE INDEX IF NOT EXISTS idx_resolve_events_anomalous ON resolve_events(anomalous);
`

func (s *SQLiteSink) migrate() error {
	_, err := s.db.Exec(migration)
	return eris.Wrap(err, "eventlog: migrate")
}

// Append stores one resolution row.
func (s *SQLiteSink) Append(ctx context.Context, result *model.PipelineResult) error {
	detail, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "eventlog: marshal result")
	}

	healed := result.SelfHeal != nil && result.SelfHeal.Healed

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO resolve_events
		(request_id, ts, raw_address, fused, integrity, anomalous, severity, healed, degraded, from_cache, latency_ms, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RequestID,
		result.Timestamp.UTC(),
		result.RawAddress,
		result.Fused,
		result.Integrity.Score,
		boolInt(result.Anomaly.Detected),
		string(result.Anomaly.Severity),
		boolInt(healed),
		boolInt(result.Degraded),
		boolInt(result.FromCache),
		result.Timing.TotalMs,
		string(detail),
	)
	return eris.Wrap(err, "eventlog: insert event")
}

// Recent returns the newest events, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, ts, raw_address, fused, integrity, anomalous, severity, healed, degraded, from_cache, latency_ms, detail
		FROM resolve_events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "eventlog: query recent")
	}
	defer rows.Close() //nolint:errcheck

	var events []Event
	for rows.Next() {
		var e Event
		var anomalous, healed, degraded, fromCache int
		if err := rows.Scan(&e.RequestID, &e.Timestamp, &e.RawAddress, &e.Fused, &e.Integrity,
			&anomalous, &e.Severity, &healed, &degraded, &fromCache, &e.LatencyMs, &e.Detail); err != nil {
			return nil, eris.Wrap(err, "eventlog: scan event")
		}
		e.Anomalous = anomalous != 0
		e.Healed = healed != 0
		e.Degraded = degraded != 0
		e.FromCache = fromCache != 0
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "eventlog: iterate events")
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NopSink discards events. Used when persistence is disabled.
type NopSink struct{}

func (NopSink) Append(context.Context, *model.PipelineResult) error { return nil }
func (NopSink) Recent(context.Context, int) ([]Event, error)        { return nil, nil }
func (NopSink) Close() error                                        { return nil }
