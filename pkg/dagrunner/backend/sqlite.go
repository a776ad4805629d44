package backend

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/job"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dagobahs (
	id   TEXT PRIMARY KEY,
	doc  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	dagobah_id  TEXT NOT NULL,
	doc         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_logs (
	log_id      TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	start_time  DATETIME NOT NULL,
	doc         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_logs_job ON run_logs(job_id, start_time DESC);
`

// SQLiteConfig mirrors the teacher's DSN-construction knobs.
type SQLiteConfig struct {
	Path        string
	JournalMode string
	BusyTimeout int
}

// SQLiteBackend is the single-file durable store, suitable for one
// scheduler process per database.
type SQLiteBackend struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens or creates the SQLite-backed store at config.Path.
func OpenSQLite(config SQLiteConfig) (*SQLiteBackend, error) {
	if config.Path == "" {
		config.Path = "./data/dagrunner.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5000
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backend: create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", config.Path, config.JournalMode, config.BusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("backend: open database %q: %w", config.Path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: apply schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

func (b *SQLiteBackend) NewDagobahID() (string, error) { return uuid.NewString(), nil }
func (b *SQLiteBackend) NewJobID() (string, error)      { return uuid.NewString(), nil }
func (b *SQLiteBackend) NewLogID() (string, error)      { return uuid.NewString(), nil }

// AcquireLock/ReleaseLock use SQLite's own single-writer guarantee as the
// advisory lock: a plain in-process mutex is sufficient since SQLite
// already serializes writers at the file level.
func (b *SQLiteBackend) AcquireLock() error { b.mu.Lock(); return nil }
func (b *SQLiteBackend) ReleaseLock() error { b.mu.Unlock(); return nil }

func (b *SQLiteBackend) CommitDagobah(doc map[string]any) error {
	id, _ := doc["dagobah_id"].(string)
	if id == "" {
		return fmt.Errorf("backend: commit dagobah document missing dagobah_id")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(`INSERT INTO dagobahs (id, doc) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, id, raw)
	return err
}

func (b *SQLiteBackend) CommitJob(doc map[string]any) error {
	id, _ := doc["id"].(string)
	if id == "" {
		return fmt.Errorf("backend: commit job document missing id")
	}
	dagobahID, _ := doc["dagobah_id"].(string)
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(`INSERT INTO jobs (id, dagobah_id, doc) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, dagobah_id = excluded.dagobah_id`,
		id, dagobahID, raw)
	return err
}

func (b *SQLiteBackend) DeleteJob(jobID string) error {
	if _, err := b.db.Exec(`DELETE FROM run_logs WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	_, err := b.db.Exec(`DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (b *SQLiteBackend) DeleteDagobah(dagobahID string) error {
	if _, err := b.db.Exec(`DELETE FROM run_logs WHERE job_id IN
		(SELECT id FROM jobs WHERE dagobah_id = ?)`, dagobahID); err != nil {
		return err
	}
	if _, err := b.db.Exec(`DELETE FROM jobs WHERE dagobah_id = ?`, dagobahID); err != nil {
		return err
	}
	_, err := b.db.Exec(`DELETE FROM dagobahs WHERE id = ?`, dagobahID)
	return err
}

func (b *SQLiteBackend) DagobahJSON(dagobahID string) (map[string]any, error) {
	var raw []byte
	err := b.db.QueryRow(`SELECT doc FROM dagobahs WHERE id = ?`, dagobahID).Scan(&raw)
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

func (b *SQLiteBackend) CommitLog(log *job.RunLog) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(`INSERT INTO run_logs (log_id, job_id, start_time, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT(log_id) DO UPDATE SET doc = excluded.doc`,
		log.LogID, log.JobID, log.StartTime, raw)
	return err
}

func (b *SQLiteBackend) LatestRunLog(jobID, taskName string) (*job.RunLog, error) {
	rows, err := b.db.Query(`SELECT doc FROM run_logs WHERE job_id = ? ORDER BY start_time DESC`, jobID)
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
