package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/austindbirch/logreplay/internal/replay"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS replay_results (
	run_id              TEXT    NOT NULL,
	seq                 INTEGER NOT NULL,
	url                 TEXT    NOT NULL,
	send_time           INTEGER NOT NULL,
	started_at          INTEGER NOT NULL,
	elapsed_seconds     REAL    NOT NULL,
	status              INTEGER,
	reason              TEXT,
	content_length      INTEGER,
	error_kind          TEXT,
	recorded_latency_us INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS replay_results_failed ON replay_results (run_id, error_kind);
`

// SQLite writes outcomes to a local SQLite file. Times are stored as unix
// microseconds.
type SQLite struct {
	sqlDB *sql.DB
	runID string
}

// OpenSQLite opens (or creates) the results file at path. ":memory:" keeps
// the results in process.
func OpenSQLite(path, runID string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; also keeps an in-memory database on a single connection
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create results table: %w", err)
	}
	return &SQLite{sqlDB: sqlDB, runID: runID}, nil
}

// Write implements replay.Sink.
func (s *SQLite) Write(ctx context.Context, o replay.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := FromOutcome(s.runID, o)
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO replay_results (
	run_id,
	seq,
	url,
	send_time,
	started_at,
	elapsed_seconds,
	status,
	reason,
	content_length,
	error_kind,
	recorded_latency_us
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		r.RunID,
		r.Seq,
		r.URL,
		r.SendTime.UnixMicro(),
		r.StartedAt.UnixMicro(),
		r.ElapsedSeconds,
		nullable(r.Status),
		nullable(r.Reason),
		nullable(r.ContentLength),
		nullable(r.ErrorKind),
		r.RecordedLatency.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert result %d: %w", r.Seq, err)
	}
	return nil
}

// Results lists the rows of one run in dispatch order.
func (s *SQLite) Results(ctx context.Context, runID string) ([]Result, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT run_id, seq, url, send_time, started_at, elapsed_seconds,
	status, reason, content_length, error_kind, recorded_latency_us
FROM replay_results
WHERE run_id = ?
ORDER BY seq
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r                 Result
			sendUS, startedUS int64
			latencyUS         int64
			status, length    sql.NullInt64
			reason, kind      sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Seq, &r.URL, &sendUS, &startedUS, &r.ElapsedSeconds,
			&status, &reason, &length, &kind, &latencyUS); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.SendTime = time.UnixMicro(sendUS).UTC()
		r.StartedAt = time.UnixMicro(startedUS).UTC()
		r.Status = int(status.Int64)
		r.Reason = reason.String
		r.ContentLength = length.Int64
		r.ErrorKind = kind.String
		r.RecordedLatency = fromMicros(latencyUS)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Ping implements health.Pinger.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Close releases the SQLite connection.
func (s *SQLite) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
