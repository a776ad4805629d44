package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/backend"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/events"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/sshconfig"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	b, err := backend.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	e, err := New(context.Background(), Config{
		Backend: b,
		Events:  events.NewHandler(nil),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestAddJobPersistsAndIsRetrievable(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	j, err := e.AddJob("nightly-build")
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if j.Name() != "nightly-build" {
		t.Fatalf("Name = %q, want nightly-build", j.Name())
	}

	found, ok := e.Job("nightly-build")
	if !ok || found != j {
		t.Fatal("Job(name) did not return the job just added")
	}

	jobs := e.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("Jobs() len = %d, want 1", len(jobs))
	}
}

func TestAddJobDuplicateNameFails(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if _, err := e.AddJob("dup"); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if _, err := e.AddJob("dup"); err == nil {
		t.Fatal("AddJob(dup again) succeeded, want ErrJobNameTaken")
	}
}

func TestDeleteJobRemovesFromBackendAndResolver(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if _, err := e.AddJob("transient"); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := e.DeleteJob("transient"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, ok := e.Job("transient"); ok {
		t.Fatal("Job(transient) still resolves after DeleteJob")
	}
	if err := e.DeleteJob("transient"); err == nil {
		t.Fatal("DeleteJob(already deleted) succeeded, want ErrJobNotFound")
	}
}

func TestAddTaskAndDependencyToJob(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if _, err := e.AddJob("pipeline"); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := e.AddTaskToJob("pipeline", "extract", "true", "", 0, 0); err != nil {
		t.Fatalf("AddTaskToJob(extract): %v", err)
	}
	if err := e.AddTaskToJob("pipeline", "load", "true", "", 0, 0); err != nil {
		t.Fatalf("AddTaskToJob(load): %v", err)
	}
	if err := e.AddDependencyToJob("pipeline", "extract", "load"); err != nil {
		t.Fatalf("AddDependencyToJob: %v", err)
	}

	j, _ := e.Job("pipeline")
	doc := j.Serialize()
	deps, ok := doc["dependencies"].([][2]string)
	if !ok || len(deps) != 1 || deps[0] != ([2]string{"extract", "load"}) {
		t.Fatalf("dependencies = %#v, want [[extract load]]", doc["dependencies"])
	}
}

func TestAddJobTaskToJobUnknownTargetFails(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if _, err := e.AddJob("caller"); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := e.AddJobTaskToJob("caller", "invoke", "does-not-exist"); err == nil {
		t.Fatal("AddJobTaskToJob(unknown target) succeeded, want error")
	}
}

func TestSerializeStrictNormalizesTimestamps(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	j, err := e.AddJob("scheduled")
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := j.Schedule("0 0 * * *", time.Now().UTC()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	doc := e.Serialize(false, true)
	jobs, ok := doc["jobs"].([]any)
	if !ok || len(jobs) != 1 {
		t.Fatalf("jobs = %#v, want one job doc", doc["jobs"])
	}
	jobDoc, ok := jobs[0].(map[string]any)
	if !ok {
		t.Fatalf("jobs[0] = %#v, want a map", jobs[0])
	}
	nextRun, ok := jobDoc["next_run"].(string)
	if !ok {
		t.Fatalf("next_run = %#v (%T), want a normalized string", jobDoc["next_run"], jobDoc["next_run"])
	}
	if _, err := time.Parse("2006-01-02T15:04:05", nextRun); err != nil {
		t.Fatalf("next_run %q did not parse as canonical timestamp: %v", nextRun, err)
	}
}

func TestFromBackendReconstructsJobsAfterRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	b, err := backend.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	e1, err := New(context.Background(), Config{Backend: b, Events: events.NewHandler(nil)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e1.AddJob("restartable"); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := e1.AddTaskToJob("restartable", "step", "true", "", 0, 0); err != nil {
		t.Fatalf("AddTaskToJob: %v", err)
	}
	dagobahID := e1.id
	e1.Close()

	e2, err := New(context.Background(), Config{Backend: b, Events: events.NewHandler(nil)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e2.Close)

	if err := e2.FromBackend(dagobahID); err != nil {
		t.Fatalf("FromBackend: %v", err)
	}
	restored, ok := e2.Job("restartable")
	if !ok {
		t.Fatal("FromBackend did not restore job \"restartable\"")
	}
	doc := restored.Serialize()
	tasks, ok := doc["tasks"].([]map[string]any)
	if !ok || len(tasks) != 1 || tasks[0]["name"] != "step" {
		t.Fatalf("tasks = %#v, want one task named step", doc["tasks"])
	}
}

func TestAddJobFromJSONDestructiveReplacesExisting(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	orig, err := e.AddJob("replaceable")
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := e.AddTaskToJob("replaceable", "old-task", "true", "", 0, 0); err != nil {
		t.Fatalf("AddTaskToJob: %v", err)
	}
	_ = orig

	newDoc := map[string]any{
		"name": "replaceable",
		"tasks": []map[string]any{
			{"name": "new-task", "command": "true", "hostname": "", "soft_timeout": 0.0, "hard_timeout": 0.0},
		},
	}
	if err := e.AddJobFromJSON(newDoc, true); err != nil {
		t.Fatalf("AddJobFromJSON: %v", err)
	}

	j, ok := e.Job("replaceable")
	if !ok {
		t.Fatal("Job(replaceable) missing after destructive import")
	}
	doc := j.Serialize()
	tasks := doc["tasks"].([]map[string]any)
	if len(tasks) != 1 || tasks[0]["name"] != "new-task" {
		t.Fatalf("tasks after destructive import = %#v, want only new-task", tasks)
	}
}

func TestGetHostsExcludesWildcards(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	contents := "Host build-1\n  HostName 10.0.0.1\n  User deploy\n\nHost *\n  User ignored\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := sshconfig.Load(path)
	if err != nil {
		t.Fatalf("sshconfig.Load: %v", err)
	}

	b, err := backend.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	e, err := New(context.Background(), Config{Backend: b, Events: events.NewHandler(nil), SSHConfig: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)

	hosts := e.GetHosts()
	if len(hosts) != 1 || hosts[0] != "build-1" {
		t.Fatalf("GetHosts = %v, want [build-1]", hosts)
	}

	spec, ok := e.GetHost("build-1")
	if !ok || spec.Hostname != "10.0.0.1" || spec.User != "deploy" {
		t.Fatalf("GetHost(build-1) = %+v, ok=%v", spec, ok)
	}
}

func TestCommitCascadePersistsEveryJob(t *testing.T) {
	t.Parallel()
	b, err := backend.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	e, err := New(context.Background(), Config{Backend: b, Events: events.NewHandler(nil)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)

	if _, err := e.AddJob("a"); err != nil {
		t.Fatalf("AddJob(a): %v", err)
	}
	if _, err := e.AddJob("b"); err != nil {
		t.Fatalf("AddJob(b): %v", err)
	}

	if err := e.Commit(true); err != nil {
		t.Fatalf("Commit(cascade): %v", err)
	}

	doc, err := b.DagobahJSON(e.id)
	if err != nil {
		t.Fatalf("DagobahJSON: %v", err)
	}
	jobs, ok := doc["jobs"].([]any)
	if !ok || len(jobs) != 2 {
		t.Fatalf("persisted dagobah jobs = %#v, want 2 entries", doc["jobs"])
	}
}
