package backend

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/job"
)

// contractTest exercises the Backend interface's document lifecycle against
// any implementation, so file/sqlite share one behavioral check.
func contractTest(t *testing.T, b Backend) {
	t.Helper()

	dagobahID, err := b.NewDagobahID()
	if err != nil {
		t.Fatalf("NewDagobahID: %v", err)
	}
	jobID, err := b.NewJobID()
	if err != nil {
		t.Fatalf("NewJobID: %v", err)
	}

	if err := b.CommitDagobah(map[string]any{"dagobah_id": dagobahID, "created_jobs": 1}); err != nil {
		t.Fatalf("CommitDagobah: %v", err)
	}
	if err := b.CommitJob(map[string]any{"id": jobID, "dagobah_id": dagobahID, "name": "example"}); err != nil {
		t.Fatalf("CommitJob: %v", err)
	}

	doc, err := b.DagobahJSON(dagobahID)
	if err != nil {
		t.Fatalf("DagobahJSON: %v", err)
	}
	if doc["dagobah_id"] != dagobahID {
		t.Fatalf("DagobahJSON[dagobah_id] = %v, want %v", doc["dagobah_id"], dagobahID)
	}

	logID, err := b.NewLogID()
	if err != nil {
		t.Fatalf("NewLogID: %v", err)
	}
	success := true
	log := &job.RunLog{
		LogID:     logID,
		JobID:     jobID,
		JobName:   "example",
		StartTime: time.Now().UTC(),
		Tasks: map[string]*job.TaskRecord{
			"only": {StartTime: time.Now().UTC(), Command: "true", Success: &success},
		},
	}
	if err := b.AcquireLock(); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := b.CommitLog(log); err != nil {
		b.ReleaseLock()
		t.Fatalf("CommitLog: %v", err)
	}
	if err := b.ReleaseLock(); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	latest, err := b.LatestRunLog(jobID, "only")
	if err != nil {
		t.Fatalf("LatestRunLog: %v", err)
	}
	if latest == nil {
		t.Fatal("LatestRunLog returned nil, want the committed log")
	}
	if latest.LogID != logID {
		t.Fatalf("LatestRunLog.LogID = %q, want %q", latest.LogID, logID)
	}

	if _, err := b.LatestRunLog(jobID, "nonexistent-task"); err != nil {
		t.Fatalf("LatestRunLog for unknown task: %v", err)
	}

	if err := b.DeleteJob(jobID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := b.DeleteDagobah(dagobahID); err != nil {
		t.Fatalf("DeleteDagobah: %v", err)
	}
	if _, err := b.DagobahJSON(dagobahID); err == nil {
		t.Fatal("DagobahJSON after DeleteDagobah = nil error, want ErrNotFound")
	}
}

func TestFileBackendContract(t *testing.T) {
	t.Parallel()
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	contractTest(t, b)
}

func TestFileBackendMissingDagobahIsNotFound(t *testing.T) {
	t.Parallel()
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	if _, err := b.DagobahJSON("nope"); err != ErrNotFound {
		t.Fatalf("DagobahJSON(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteBackendContract(t *testing.T) {
	t.Parallel()
	b, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "dagrunner.db")})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	contractTest(t, b)
}

func TestBuildPostgresDSNAppliesDefaults(t *testing.T) {
	t.Parallel()
	dsn := buildPostgresDSN(PostgresConfig{Database: "dagrunner", User: "dagrunner"})
	want := "host=localhost port=5432 dbname=dagrunner user=dagrunner password= sslmode=disable"
	if dsn != want {
		t.Fatalf("buildPostgresDSN = %q, want %q", dsn, want)
	}
}
