package backend

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/job"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS dagobahs (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	dagobah_id TEXT NOT NULL,
	doc        JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS run_logs (
	log_id     TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	doc        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_logs_job ON run_logs(job_id, start_time DESC);
`

// PostgresConfig mirrors the teacher's connection-pool knobs.
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func buildPostgresDSN(c PostgresConfig) string {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}

// PostgresBackend is the multi-writer durable store, suitable for running
// more than one scheduler process against a shared database.
type PostgresBackend struct {
	db *sql.DB
}

// OpenPostgres opens a PostgreSQL-backed store and applies the schema.
func OpenPostgres(config PostgresConfig) (*PostgresBackend, error) {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 30 * time.Minute
	}

	db, err := sql.Open("pgx", buildPostgresDSN(config))
	if err != nil {
		return nil, fmt.Errorf("backend: open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: ping database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: apply schema: %w", err)
	}

	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) Close() error { return b.db.Close() }

func (b *PostgresBackend) NewDagobahID() (string, error) { return uuid.NewString(), nil }
func (b *PostgresBackend) NewJobID() (string, error)      { return uuid.NewString(), nil }
func (b *PostgresBackend) NewLogID() (string, error)      { return uuid.NewString(), nil }

// AcquireLock/ReleaseLock use a named Postgres advisory lock so multiple
// scheduler processes sharing this database serialize run-log commits
// against each other, not just against goroutines in one process.
const advisoryLockKey = 822020 // arbitrary fixed key for the run-log commit lock

func (b *PostgresBackend) AcquireLock() error {
	_, err := b.db.Exec(`SELECT pg_advisory_lock($1)`, advisoryLockKey)
	return err
}

func (b *PostgresBackend) ReleaseLock() error {
	_, err := b.db.Exec(`SELECT pg_advisory_unlock($1)`, advisoryLockKey)
	return err
}

func (b *PostgresBackend) CommitDagobah(doc map[string]any) error {
	id, _ := doc["dagobah_id"].(string)
	if id == "" {
		return fmt.Errorf("backend: commit dagobah document missing dagobah_id")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(`INSERT INTO dagobahs (id, doc) VALUES ($1, $2)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, id, raw)
	return err
}

func (b *PostgresBackend) CommitJob(doc map[string]any) error {
	id, _ := doc["id"].(string)
	if id == "" {
		return fmt.Errorf("backend: commit job document missing id")
	}
	dagobahID, _ := doc["dagobah_id"].(string)
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(`INSERT INTO jobs (id, dagobah_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, dagobah_id = excluded.dagobah_id`,
		id, dagobahID, raw)
	return err
}

func (b *PostgresBackend) DeleteJob(jobID string) error {
	if _, err := b.db.Exec(`DELETE FROM run_logs WHERE job_id = $1`, jobID); err != nil {
		return err
	}
	_, err := b.db.Exec(`DELETE FROM jobs WHERE id = $1`, jobID)
	return err
}

func (b *PostgresBackend) DeleteDagobah(dagobahID string) error {
	if _, err := b.db.Exec(`DELETE FROM run_logs WHERE job_id IN
		(SELECT id FROM jobs WHERE dagobah_id = $1)`, dagobahID); err != nil {
		return err
	}
	if _, err := b.db.Exec(`DELETE FROM jobs WHERE dagobah_id = $1`, dagobahID); err != nil {
		return err
	}
	_, err := b.db.Exec(`DELETE FROM dagobahs WHERE id = $1`, dagobahID)
	return err
}

func (b *PostgresBackend) DagobahJSON(dagobahID string) (map[string]any, error) {
	var raw []byte
	err := b.db.QueryRow(`SELECT doc FROM dagobahs WHERE id = $1`, dagobahID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *PostgresBackend) CommitLog(log *job.RunLog) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(`INSERT INTO run_logs (log_id, job_id, start_time, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT(log_id) DO UPDATE SET doc = excluded.doc`,
		log.LogID, log.JobID, log.StartTime, raw)
	return err
}

func (b *PostgresBackend) LatestRunLog(jobID, taskName string) (*job.RunLog, error) {
	rows, err := b.db.Query(`SELECT doc FROM run_logs WHERE job_id = $1 ORDER BY start_time DESC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var log job.RunLog
		if err := json.Unmarshal(raw, &log); err != nil {
			return nil, err
		}
		if _, ok := log.Tasks[taskName]; ok {
			return &log, nil
		}
	}
	return nil, rows.Err()
}
