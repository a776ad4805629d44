package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/job"
)

type fakeBackend struct{ n int }

func (b *fakeBackend) NewLogID() (string, error) { b.n++; return "log", nil }
func (b *fakeBackend) CommitLog(*job.RunLog) error { return nil }
func (b *fakeBackend) AcquireLock() error          { return nil }
func (b *fakeBackend) ReleaseLock() error          { return nil }
func (b *fakeBackend) LatestRunLog(string, string) (*job.RunLog, error) {
	return nil, nil
}

type staticSource struct{ jobs []*job.Job }

func (s staticSource) Jobs() []*job.Job { return s.jobs }

func newTestJob(t *testing.T, name string) *job.Job {
	t.Helper()
	j := job.New(context.Background(), job.Config{ID: name, Name: name, Backend: &fakeBackend{}})
	t.Cleanup(j.Close)
	return j
}

func TestTickStartsDueJob(t *testing.T) {
	t.Parallel()
	j := newTestJob(t, "due")
	if err := j.AddTask("only", "true", "", 0, 0); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	now := time.Now().UTC()
	if err := j.Schedule("* * * * *", now.Add(-2*time.Minute)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s := New(staticSource{jobs: []*job.Job{j}}, nil)
	s.lastCheck = now.Add(-3 * time.Minute)

	if stop := s.tick(); stop {
		t.Fatal("tick() = true, want false")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if j.State().Status == job.StatusRunning || j.State().Status == job.StatusWaiting {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if nr, _ := j.NextRun(); !nr.After(now) {
		t.Fatalf("NextRun = %v, want advanced past %v after the due job started", nr, now)
	}
}

func TestTickSkipsJobWithNoSchedule(t *testing.T) {
	t.Parallel()
	j := newTestJob(t, "unscheduled")
	s := New(staticSource{jobs: []*job.Job{j}}, nil)
	s.lastCheck = time.Now().UTC()

	if stop := s.tick(); stop {
		t.Fatal("tick() = true, want false")
	}
	if j.State().Status != job.StatusWaiting {
		t.Fatalf("status = %v, want waiting (no schedule => never started)", j.State().Status)
	}
}

func TestStopPreventsFurtherTicks(t *testing.T) {
	t.Parallel()
	s := New(staticSource{}, nil)
	s.Start(context.Background())
	s.Stop()

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped {
		t.Fatal("stopped flag not set after Stop()")
	}
	if stop := s.tick(); !stop {
		t.Fatal("tick() after Stop() = false, want true")
	}
}

func TestLastCheckAdvancesEvenWhenJobNotStartable(t *testing.T) {
	t.Parallel()
	j := newTestJob(t, "busy")
	if err := j.AddTask("slow", "sleep 5", "", 0, 0); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer j.TerminateAll()

	now := time.Now().UTC()
	if err := j.Schedule("* * * * *", now.Add(-2*time.Minute)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s := New(staticSource{jobs: []*job.Job{j}}, nil)
	s.lastCheck = now.Add(-3 * time.Minute)
	past := s.lastCheck

	s.tick()

	s.mu.Lock()
	lc := s.lastCheck
	s.mu.Unlock()
	if !lc.After(past) {
		t.Fatalf("lastCheck = %v, want advanced past %v", lc, past)
	}
}
