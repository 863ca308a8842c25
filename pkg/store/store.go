// Package store persists scoring decisions for later review. Postgres is
// the primary sink; deployments without a database fall back to an
// append-only JSONL audit log.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DecisionRecord is the persisted form of one scored request.
type DecisionRecord struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Path           string    `json:"path"`
	IsAnomaly      bool      `json:"is_anomaly"`
	AnomalyScore   float64   `json:"anomaly_score"`
	AttackType     string    `json:"attack_type"`
	TriggerContent string    `json:"trigger_content"`
	Action         string    `json:"action"`
	LatencyMs      float64   `json:"latency_ms"`
}

// DecisionSink consumes decision records. Implementations must be safe
// for concurrent use; scoring latency must never depend on sink latency,
// so callers insert from a background goroutine.
type DecisionSink interface {
	Insert(ctx context.Context, rec DecisionRecord) error
	Close()
}

// RecentLister is implemented by sinks that can return recent decisions.
type RecentLister interface {
	Recent(ctx context.Context, limit int) ([]DecisionRecord, error)
}

// Open selects the best available sink: Postgres when a DSN is set and
// reachable, the JSONL audit log otherwise, a no-op when neither is
// configured. Never fails; an unusable sink only costs persistence.
func Open(ctx context.Context, databaseURL, auditLogPath string) DecisionSink {
	if databaseURL != "" {
		ps, err := NewPostgresStore(ctx, databaseURL)
		if err == nil {
			log.Printf("[STORE] Recording decisions to Postgres")
			return ps
		}
		log.Printf("[STORE] Postgres unavailable (%v), falling back to audit log", err)
	}
	if auditLogPath != "" {
		js, err := NewJSONLStore(auditLogPath)
		if err == nil {
			log.Printf("[STORE] Recording decisions to %s", auditLogPath)
			return js
		}
		log.Printf("[STORE] Audit log unavailable (%v), decisions will not be persisted", err)
	}
	return NopSink{}
}

// PostgresStore writes decisions to a decisions table, creating it on
// first connect.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS decisions (
			id              UUID PRIMARY KEY,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			path            TEXT NOT NULL,
			is_anomaly      BOOLEAN NOT NULL,
			anomaly_score   DOUBLE PRECISION NOT NULL,
			attack_type     TEXT NOT NULL,
			trigger_content TEXT NOT NULL,
			action          TEXT NOT NULL,
			latency_ms      DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions (created_at DESC);
	`)
	return err
}

// Insert writes one decision record.
func (s *PostgresStore) Insert(ctx context.Context, rec DecisionRecord) error {
	fillDefaults(&rec)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decisions (id, created_at, path, is_anomaly, anomaly_score, attack_type, trigger_content, action, latency_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.CreatedAt, rec.Path, rec.IsAnomaly, rec.AnomalyScore, rec.AttackType, rec.TriggerContent, rec.Action, rec.LatencyMs)
	return err
}

// Recent returns the newest decisions, most recent first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, created_at, path, is_anomaly, anomaly_score, attack_type, trigger_content, action, latency_ms
		 FROM decisions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.Path, &rec.IsAnomaly, &rec.AnomalyScore,
			&rec.AttackType, &rec.TriggerContent, &rec.Action, &rec.LatencyMs); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// JSONLStore appends decisions to a newline-delimited JSON file.
type JSONLStore struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewJSONLStore opens (or creates) the audit log for appending.
func NewJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &JSONLStore{f: f, enc: json.NewEncoder(f)}, nil
}

// Insert appends one record. The encoder writes a trailing newline, which
// is what makes the file greppable line by line.
func (j *JSONLStore) Insert(_ context.Context, rec DecisionRecord) error {
	fillDefaults(&rec)
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(rec)
}

// Close closes the underlying file.
func (j *JSONLStore) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.f.Close()
}

// NopSink discards records. Used when no persistence is configured.
type NopSink struct{}

func (NopSink) Insert(context.Context, DecisionRecord) error { return nil }
func (NopSink) Close()                                       {}

func fillDefaults(rec *DecisionRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}
