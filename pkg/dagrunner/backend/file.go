package backend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/job"
)

// FileBackend persists the engine document, job documents, and run logs as
// flat JSON files under a directory, guarded by a whole-file
// read-modify-write mutex (grounded on the teacher's FileJobStorage).
// Intended for single-node and development use; AcquireLock/ReleaseLock are
// a no-op advisory lock since there is only ever one writer in-process.
type FileBackend struct {
	mu  sync.Mutex
	dir string
}

// NewFileBackend opens (creating if necessary) a file-backed store rooted
// at dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backend: create store directory %q: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("backend: create log directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) NewDagobahID() (string, error) { return uuid.NewString(), nil }
func (b *FileBackend) NewJobID() (string, error)      { return uuid.NewString(), nil }
func (b *FileBackend) NewLogID() (string, error)      { return uuid.NewString(), nil }

func (b *FileBackend) AcquireLock() error { return nil }
func (b *FileBackend) ReleaseLock() error { return nil }

func (b *FileBackend) dagobahPath(id string) string {
	return filepath.Join(b.dir, "dagobah-"+id+".json")
}

func (b *FileBackend) jobPath(jobID string) string {
	return filepath.Join(b.dir, "job-"+jobID+".json")
}

func (b *FileBackend) logPath(jobID, logID string) string {
	return filepath.Join(b.dir, "logs", jobID+"-"+logID+".json")
}

func (b *FileBackend) CommitDagobah(doc map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, _ := doc["dagobah_id"].(string)
	if id == "" {
		return fmt.Errorf("backend: commit dagobah document missing dagobah_id")
	}
	return writeJSON(b.dagobahPath(id), doc)
}

func (b *FileBackend) CommitJob(doc map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, _ := doc["id"].(string)
	if id == "" {
		return fmt.Errorf("backend: commit job document missing id")
	}
	return writeJSON(b.jobPath(id), doc)
}

func (b *FileBackend) DeleteJob(jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.Remove(b.jobPath(jobID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	matches, _ := filepath.Glob(filepath.Join(b.dir, "logs", jobID+"-*.json"))
	for _, m := range matches {
		_ = os.Remove(m)
	}
	return nil
}

func (b *FileBackend) DeleteDagobah(dagobahID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	jobFiles, _ := filepath.Glob(filepath.Join(b.dir, "job-*.json"))
	for _, path := range jobFiles {
		var doc map[string]any
		if err := readJSON(path, &doc); err != nil || doc["dagobah_id"] != dagobahID {
			continue
		}
		if id, _ := doc["id"].(string); id != "" {
			logs, _ := filepath.Glob(filepath.Join(b.dir, "logs", id+"-*.json"))
			for _, m := range logs {
				_ = os.Remove(m)
			}
		}
		_ = os.Remove(path)
	}
	if err := os.Remove(b.dagobahPath(dagobahID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *FileBackend) DagobahJSON(dagobahID string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var doc map[string]any
	if err := readJSON(b.dagobahPath(dagobahID), &doc); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (b *FileBackend) CommitLog(log *job.RunLog) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeJSON(b.logPath(log.JobID, log.LogID), log)
}

// LatestRunLog scans the job's log directory for the run log with the most
// recent StartTime. The file backend keeps every run log rather than just
// the latest, trading lookup speed for simplicity appropriate to its
// single-node scope.
func (b *FileBackend) LatestRunLog(jobID, taskName string) (*job.RunLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(b.dir, "logs", jobID+"-*.json"))
	if err != nil {
		return nil, err
	}

	var latest *job.RunLog
	for _, m := range matches {
		var log job.RunLog
		if err := readJSON(m, &log); err != nil {
			continue
		}
		if _, ok := log.Tasks[taskName]; !ok {
			continue
		}
		if latest == nil || log.StartTime.After(latest.StartTime) {
			cp := log
			latest = &cp
		}
	}
	return latest, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("backend: marshal %q: %w", path, err)
	}
	return os.WriteFile(path, data, 0o600)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
