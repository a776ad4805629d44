// Package engine implements the root of the scheduler: the collection of
// named jobs sharing one backend, one event handler, one scheduler loop,
// and one SSH host directory (spec.md §4.5, the "Dagobah" of the original
// implementation).
//
// Engine is the only type in this module that owns a backend.Backend
// directly; every Job reaches persistence through the narrower job.LogStore
// view the backend already satisfies structurally.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/backend"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/events"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/job"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/scheduler"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/sshconfig"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/strictjson"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/task"
)

// Sentinel errors for engine-level operations, distinct from job's own
// (a name collision at the engine level is a job name, not a task name).
var (
	ErrJobNameTaken = errors.New("engine: job name already taken")
	ErrJobNotFound  = errors.New("engine: job not found")
)

// Config bundles the Engine's fixed collaborators.
type Config struct {
	ID        string // dagobah id; allocated from Backend if empty
	Backend   backend.Backend
	Events    *events.Handler
	SSHConfig *sshconfig.Config // may be nil (no remote hosts resolvable by name)
	Dialer    task.Dialer       // base transport; nil disables remote tasks entirely
	Logger    *slog.Logger
}

// Engine is the root object: it owns every Job, the shared backend, event
// handler, and the single scheduler loop that polls them.
type Engine struct {
	mu sync.RWMutex

	id          string
	createdJobs int

	backend   backend.Backend
	events    *events.Handler
	sshConfig *sshconfig.Config
	dialer    task.Dialer
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	jobs      map[string]*job.Job
	scheduler *scheduler.Scheduler
}

// New constructs an Engine. If cfg.ID is empty, a fresh dagobah id is
// allocated from cfg.Backend.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := cfg.ID
	if id == "" {
		allocated, err := cfg.Backend.NewDagobahID()
		if err != nil {
			return nil, fmt.Errorf("engine: allocate dagobah id: %w", err)
		}
		id = allocated
	}

	runCtx, cancel := context.WithCancel(ctx)

	dialer := cfg.Dialer
	if dialer != nil && cfg.SSHConfig != nil {
		dialer = &resolvingDialer{inner: dialer, hosts: cfg.SSHConfig}
	}

	e := &Engine{
		id:        id,
		backend:   cfg.Backend,
		events:    cfg.Events,
		sshConfig: cfg.SSHConfig,
		dialer:    dialer,
		logger:    logger,
		ctx:       runCtx,
		cancel:    cancel,
		jobs:      make(map[string]*job.Job),
	}
	e.scheduler = scheduler.New(e, logger)
	return e, nil
}

// Close stops the scheduler and every job's background context.
func (e *Engine) Close() {
	e.scheduler.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		j.Close()
	}
	e.cancel()
}

// StartScheduler begins the engine's single polling loop (spec.md §4.4).
func (e *Engine) StartScheduler(ctx context.Context) { e.scheduler.Start(ctx) }

// StopScheduler stops the polling loop without joining it.
func (e *Engine) StopScheduler() { e.scheduler.Stop() }

// Job implements job.JobResolver, letting JobTask nodes resolve a target
// job by name without a stored back-pointer.
func (e *Engine) Job(name string) (*job.Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[name]
	return j, ok
}

// Jobs implements scheduler.JobSource.
func (e *Engine) Jobs() []*job.Job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*job.Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j)
	}
	return out
}

// AddJob creates and persists a new, empty job named name.
func (e *Engine) AddJob(name string) (*job.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, taken := e.jobs[name]; taken {
		return nil, fmt.Errorf("%w: %q", ErrJobNameTaken, name)
	}

	jobID, err := e.backend.NewJobID()
	if err != nil {
		return nil, fmt.Errorf("engine: allocate job id: %w", err)
	}

	j := job.New(e.ctx, job.Config{
		ID:        jobID,
		Name:      name,
		DagobahID: e.id,
		Dialer:    e.dialer,
		Resolver:  e,
		Backend:   e.backend,
		Events:    e.events,
		Logger:    e.logger,
	})
	e.jobs[name] = j
	e.createdJobs++

	if err := e.commitJobLocked(j); err != nil {
		delete(e.jobs, name)
		e.createdJobs--
		return nil, err
	}
	return j, nil
}

// DeleteJob removes name's job from the engine and its backend record.
func (e *Engine) DeleteJob(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	delete(e.jobs, name)
	j.Close()

	if err := e.backend.DeleteJob(j.ID()); err != nil {
		return fmt.Errorf("engine: delete job %q: %w", name, err)
	}
	return e.backend.CommitDagobah(e.dagobahDocLocked())
}

// AddTaskToJob resolves jobName and adds a shell task to it.
func (e *Engine) AddTaskToJob(jobName, taskName, command, hostname string, soft, hard time.Duration) error {
	j, err := e.resolveJob(jobName)
	if err != nil {
		return err
	}
	if err := j.AddTask(taskName, command, hostname, soft, hard); err != nil {
		return err
	}
	return e.commitJob(j)
}

// AddJobTaskToJob resolves jobName and adds a JobTask invoking targetJob.
func (e *Engine) AddJobTaskToJob(jobName, taskName, targetJob string) error {
	j, err := e.resolveJob(jobName)
	if err != nil {
		return err
	}
	if _, ok := e.Job(targetJob); !ok {
		return fmt.Errorf("%w: %q", job.ErrUnknownJob, targetJob)
	}
	if err := j.AddJobTask(taskName, targetJob); err != nil {
		return err
	}
	return e.commitJob(j)
}

// AddDependencyToJob resolves jobName and wires upstream -> downstream.
func (e *Engine) AddDependencyToJob(jobName, upstream, downstream string) error {
	j, err := e.resolveJob(jobName)
	if err != nil {
		return err
	}
	if err := j.AddDependency(upstream, downstream); err != nil {
		return err
	}
	return e.commitJob(j)
}

// ScheduleJob resolves jobName and sets its cron schedule.
func (e *Engine) ScheduleJob(jobName, cronExpr string, baseTime time.Time) error {
	j, err := e.resolveJob(jobName)
	if err != nil {
		return err
	}
	if err := j.Schedule(cronExpr, baseTime); err != nil {
		return err
	}
	return e.commitJob(j)
}

// SetJobNotes resolves jobName and replaces its free-form notes field.
func (e *Engine) SetJobNotes(jobName, notes string) error {
	j, err := e.resolveJob(jobName)
	if err != nil {
		return err
	}
	if err := j.SetNotes(notes); err != nil {
		return err
	}
	return e.commitJob(j)
}

func (e *Engine) resolveJob(name string) (*job.Job, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	return j, nil
}

// commitJob is the Commit Delegator's job path (spec.md §4.6): committing a
// job always cascades to committing its dagobah document.
func (e *Engine) commitJob(j *job.Job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.commitJobLocked(j)
}

func (e *Engine) commitJobLocked(j *job.Job) error {
	if err := e.backend.CommitJob(j.Serialize()); err != nil {
		return fmt.Errorf("engine: commit job %q: %w", j.Name(), err)
	}
	return e.backend.CommitDagobah(e.dagobahDocLocked())
}

// Commit is the Commit Delegator's dagobah path (spec.md §4.6): committing
// a dagobah with cascade also commits every child job. Run log commits
// never go through here — they use the separate log collection via
// job.LogStore and are independent of job/dagobah commits.
func (e *Engine) Commit(cascade bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.backend.CommitDagobah(e.dagobahDocLocked()); err != nil {
		return err
	}
	if !cascade {
		return nil
	}
	for _, j := range e.jobs {
		if err := e.backend.CommitJob(j.Serialize()); err != nil {
			return fmt.Errorf("engine: cascade commit job %q: %w", j.Name(), err)
		}
	}
	return nil
}

// dagobahDocLocked builds the full engine document, embedding every job's
// own Serialize() output (spec.md treats the dagobah document as a single
// nested document covering every child job, not a list of job ids).
func (e *Engine) dagobahDocLocked() map[string]any {
	jobDocs := make([]map[string]any, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobDocs = append(jobDocs, j.Serialize())
	}
	return map[string]any{
		"dagobah_id":   e.id,
		"created_jobs": e.createdJobs,
		"jobs":         jobDocs,
	}
}

// Serialize returns the full engine document: the dagobah fields plus every
// job's own Serialize(). When includeRunLogs is true, each job entry
// carries its current run log (spec.md §4.5 _serialize). When strict is
// true, the whole document is passed through strictjson.Normalize so
// timestamps and ids round-trip as stable scalar strings.
func (e *Engine) Serialize(includeRunLogs, strict bool) map[string]any {
	e.mu.RLock()
	var doc map[string]any
	if includeRunLogs {
		jobDocs := make([]map[string]any, 0, len(e.jobs))
		for _, j := range e.jobs {
			jobDocs = append(jobDocs, j.SerializeWithRunLog())
		}
		doc = map[string]any{
			"dagobah_id":   e.id,
			"created_jobs": e.createdJobs,
			"jobs":         jobDocs,
		}
	} else {
		doc = e.dagobahDocLocked()
	}
	e.mu.RUnlock()

	if !strict {
		return doc
	}
	return strictjson.Normalize(doc).(map[string]any)
}

// GetHosts returns the enumerable SSH host aliases (wildcard patterns
// excluded), or nil if no SSH config was loaded.
func (e *Engine) GetHosts() []string {
	if e.sshConfig == nil {
		return nil
	}
	return e.sshConfig.Hosts()
}

// GetHost resolves a single SSH host alias, whether or not it is wildcard
// matched.
func (e *Engine) GetHost(name string) (task.HostSpec, bool) {
	if e.sshConfig == nil {
		return task.HostSpec{}, false
	}
	return e.sshConfig.Get(name)
}

// resolvingDialer upgrades a Task's bare hostname into the full HostSpec
// (user, identity file) its alias resolves to in the loaded SSH config,
// before delegating the actual connection to inner.
type resolvingDialer struct {
	inner task.Dialer
	hosts *sshconfig.Config
}

func (d *resolvingDialer) Dial(ctx context.Context, spec task.HostSpec, command string, stdout, stderr *bytes.Buffer) (task.Session, error) {
	if resolved, ok := d.hosts.Get(spec.Hostname); ok {
		spec = resolved
	}
	return d.inner.Dial(ctx, spec, command, stdout, stderr)
}
