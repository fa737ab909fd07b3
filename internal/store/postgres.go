package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/logreplay/internal/replay"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS replay_results (
	run_id              TEXT             NOT NULL,
	seq                 BIGINT           NOT NULL,
	url                 TEXT             NOT NULL,
	send_time           TIMESTAMPTZ      NOT NULL,
	started_at          TIMESTAMPTZ      NOT NULL,
	elapsed_seconds     DOUBLE PRECISION NOT NULL,
	status              INTEGER,
	reason              TEXT,
	content_length      BIGINT,
	error_kind          TEXT,
	recorded_latency_us BIGINT           NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, seq)
)`

// PgxConn is the part of *pgxpool.Pool the Postgres store uses.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Postgres writes outcomes to the replay_results table of a PostgreSQL
// database. The caller owns the pool.
type Postgres struct {
	conn  PgxConn
	runID string
}

// NewPostgres creates the results table if it does not exist yet.
func NewPostgres(ctx context.Context, conn PgxConn, runID string) (*Postgres, error) {
	if _, err := conn.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create results table: %w", err)
	}
	return &Postgres{conn: conn, runID: runID}, nil
}

// Write implements replay.Sink.
func (p *Postgres) Write(ctx context.Context, o replay.Outcome) error {
	r := FromOutcome(p.runID, o)
	_, err := p.conn.Exec(ctx, `
		INSERT INTO replay_results (run_id, seq, url, send_time, started_at, elapsed_seconds,
			status, reason, content_length, error_kind, recorded_latency_us)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.RunID, r.Seq, r.URL, r.SendTime, r.StartedAt, r.ElapsedSeconds,
		nullable(r.Status), nullable(r.Reason), nullable(r.ContentLength), nullable(r.ErrorKind),
		r.RecordedLatency.Microseconds())
	if err != nil {
		return fmt.Errorf("insert result %d: %w", r.Seq, err)
	}
	return nil
}

// Results lists the rows of one run in dispatch order.
func (p *Postgres) Results(ctx context.Context, runID string) ([]Result, error) {
	rows, err := p.conn.Query(ctx, `
		SELECT run_id, seq, url, send_time, started_at, elapsed_seconds,
			COALESCE(status, 0), COALESCE(reason, ''), COALESCE(content_length, 0),
			COALESCE(error_kind, ''), recorded_latency_us
		FROM replay_results WHERE run_id=$1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r         Result
			latencyUS int64
		)
		if err := rows.Scan(&r.RunID, &r.Seq, &r.URL, &r.SendTime, &r.StartedAt, &r.ElapsedSeconds,
			&r.Status, &r.Reason, &r.ContentLength, &r.ErrorKind, &latencyUS); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.RecordedLatency = fromMicros(latencyUS)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Ping implements health.Pinger.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.conn.Ping(ctx)
}
