// Package job implements the job controller: a DAG of tasks, its derived
// permission state, cron schedule, in-progress run log, and the completion
// coordinator that advances the DAG as tasks finish and routes lifecycle
// events.
//
// Cyclic object graphs (job<->task, task<->job) are avoided deliberately:
// a Task never holds a pointer back to its Job. Instead the Job binds each
// Task's OnComplete callback to its own completeTask method at construction
// (and rebinds it after JobTask expansion), and a Task's HistorySource is
// the Job itself. Parent lookups for JobTask targets go through an explicit
// JobResolver rather than a stored back-pointer.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/cronutil"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/dag"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/events"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/task"
)

// Status is a Job's lifecycle state.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// JobState carries the status plus its five derived permission flags
// (spec.md §3). The flags are never stored independently; they are always
// computed from Status.
type JobState struct {
	Status Status
}

func (s JobState) AllowStart() bool {
	return s.Status == StatusWaiting || s.Status == StatusFailed
}

func (s JobState) AllowChangeGraph() bool {
	return s.Status == StatusWaiting || s.Status == StatusFailed
}

func (s JobState) AllowChangeSchedule() bool {
	return s.Status == StatusWaiting || s.Status == StatusRunning || s.Status == StatusFailed
}

func (s JobState) AllowEditJob() bool {
	return s.Status == StatusWaiting || s.Status == StatusFailed
}

func (s JobState) AllowEditTask() bool {
	return s.Status == StatusWaiting || s.Status == StatusFailed
}

// Error kinds from spec.md §7. Matched with errors.Is; dag's own sentinel
// errors (ErrCycleDetected, ErrCyclic, ...) are reused directly rather than
// wrapped in a second set.
var (
	ErrNotFound         = errors.New("job: not found")
	ErrNameTaken        = errors.New("job: name already taken")
	ErrImmutableInState = errors.New("job: mutation not allowed in current state")
	ErrInvalidDAG       = errors.New("job: invalid dag")
	ErrUnknownJob       = errors.New("job: jobtask references unknown job")
	ErrNamingConflict   = errors.New("job: naming conflict during expansion")
	ErrNothingToRetry   = errors.New("job: nothing to retry")
	ErrInvalidArgument  = errors.New("job: invalid argument")
)

// Node is implemented by every element a Job's task map can hold. Task and
// JobTask are a tagged variant over this small capability set (spec.md §9):
// every Node has a name; a Starter can run; an Expander expands into a
// subgraph at snapshot time. Callers type-switch rather than relying on a
// fat interface, matching the "only start-capable nodes remain after
// expansion" invariant.
type Node interface {
	NodeName() string
}

// Starter is implemented by *task.Task.
type Starter interface {
	Node
	Start(ctx context.Context) error
}

// Expander is implemented by *JobTask.
type Expander interface {
	Node
	Expand(resolver JobResolver) (*dag.Graph, map[string]Node, error)
}

// JobResolver looks up a Job by name, the arena-style replacement for a
// JobTask holding a direct pointer to its target.
type JobResolver interface {
	Job(name string) (*Job, bool)
}

// LogStore is the persistence surface a Job needs directly: allocating a
// fresh log id, durably recording a run log under the backend's advisory
// lock, and answering a task's last-output fallback query.
type LogStore interface {
	NewLogID() (string, error)
	CommitLog(log *RunLog) error
	AcquireLock() error
	ReleaseLock() error
	LatestRunLog(jobID, taskName string) (*RunLog, error)
}

// TaskRecord is one task's entry in a RunLog (spec.md §3).
type TaskRecord struct {
	StartTime    time.Time
	Command      string
	CompleteTime time.Time
	ReturnCode   int
	Success      *bool // nil until the task reports completion
	Stdout       string
	Stderr       string
}

// RunLog is a job's per-execution record.
type RunLog struct {
	LogID         string
	JobID         string
	JobName       string
	DagobahID     string
	StartTime     time.Time
	LastRetryTime time.Time // zero if never retried
	Tasks         map[string]*TaskRecord
}

// clone returns a deep copy of l, safe to hand to a backend off the job's
// own lock.
func (l *RunLog) clone() *RunLog {
	out := &RunLog{
		LogID:         l.LogID,
		JobID:         l.JobID,
		JobName:       l.JobName,
		DagobahID:     l.DagobahID,
		StartTime:     l.StartTime,
		LastRetryTime: l.LastRetryTime,
		Tasks:         make(map[string]*TaskRecord, len(l.Tasks)),
	}
	for name, rec := range l.Tasks {
		r := *rec
		out.Tasks[name] = &r
	}
	return out
}

// Job owns a DAG of tasks, its derived state, a cron schedule, and (while
// running) a snapshot of the graph used for the current execution.
type Job struct {
	mu           sync.RWMutex
	completionMu sync.Mutex

	id        string
	name      string
	dagobahID string

	graph *dag.Graph
	tasks map[string]Node

	state    JobState
	notes    string
	dialer   task.Dialer
	resolver JobResolver
	backend  LogStore
	events   *events.Handler
	logger   *slog.Logger

	cronSchedule string
	cronIter     *cronutil.Iterator
	nextRun      time.Time

	runLog *RunLog

	snapshot      *dag.Graph
	tasksSnapshot map[string]Node

	ctx    context.Context
	cancel context.CancelFunc
}

// Config bundles a Job's fixed collaborators, set once at construction.
type Config struct {
	ID        string
	Name      string
	DagobahID string
	Dialer    task.Dialer
	Resolver  JobResolver
	Backend   LogStore
	Events    *events.Handler
	Logger    *slog.Logger
}

// New returns a quiescent Job in status waiting.
func New(ctx context.Context, cfg Config) *Job {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &Job{
		id:        cfg.ID,
		name:      cfg.Name,
		dagobahID: cfg.DagobahID,
		graph:     dag.New(),
		tasks:     make(map[string]Node),
		state:     JobState{Status: StatusWaiting},
		dialer:    cfg.Dialer,
		resolver:  cfg.Resolver,
		backend:   cfg.Backend,
		events:    cfg.Events,
		logger:    logger,
		ctx:       runCtx,
		cancel:    cancel,
	}
}

func (j *Job) ID() string   { return j.id }
func (j *Job) Name() string { return j.name }

func (j *Job) State() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

func (j *Job) NextRun() (time.Time, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.nextRun, !j.nextRun.IsZero()
}

func (j *Job) CronSchedule() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cronSchedule
}

func (j *Job) Notes() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.notes
}

// Close cancels the job's background context. Tasks are started under that
// context, so Close aborts a remote dial still in progress, kills a running
// local task's process group, and stops the poll loops of running tasks.
func (j *Job) Close() { j.cancel() }

// AddTask adds a new Task node with no edges. Requires allow_change_graph.
func (j *Job) AddTask(name, command, hostname string, soft, hard time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.AllowChangeGraph() {
		return ErrImmutableInState
	}
	if _, exists := j.tasks[name]; exists {
		return ErrNameTaken
	}
	if err := j.graph.AddNode(name); err != nil {
		return err
	}

	t := task.New(name, command, hostname, soft, hard)
	t.Dialer = j.dialer
	t.History = j
	t.OnComplete = j.completeTask
	j.tasks[name] = t
	return nil
}

// AddJobTask adds a new JobTask node referencing targetJob. Requires
// allow_change_graph.
func (j *Job) AddJobTask(name, targetJob string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.AllowChangeGraph() {
		return ErrImmutableInState
	}
	if _, exists := j.tasks[name]; exists {
		return ErrNameTaken
	}
	if err := j.graph.AddNode(name); err != nil {
		return err
	}
	j.tasks[name] = &JobTask{name: name, targetJob: targetJob}
	return nil
}

// DeleteTask removes a task or jobtask node. Requires allow_change_graph.
func (j *Job) DeleteTask(name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.AllowChangeGraph() {
		return ErrImmutableInState
	}
	if _, ok := j.tasks[name]; !ok {
		return ErrNotFound
	}
	if err := j.graph.DeleteNode(name); err != nil {
		return err
	}
	delete(j.tasks, name)
	return nil
}

// AddDependency adds an edge from upstream to downstream. Requires
// allow_change_graph; rejects cycles via dag.ErrCycleDetected.
func (j *Job) AddDependency(upstream, downstream string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.AllowChangeGraph() {
		return ErrImmutableInState
	}
	return j.graph.AddEdge(upstream, downstream)
}

// DeleteDependency removes the edge from upstream to downstream. Requires
// allow_change_graph.
func (j *Job) DeleteDependency(upstream, downstream string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.AllowChangeGraph() {
		return ErrImmutableInState
	}
	return j.graph.DeleteEdge(upstream, downstream)
}

// SetNotes replaces the job's free-form operator text. Requires
// allow_edit_job.
func (j *Job) SetNotes(notes string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.AllowEditJob() {
		return ErrImmutableInState
	}
	j.notes = notes
	return nil
}

// SetTaskTimeouts mutates a task's soft/hard timeouts. Requires
// allow_edit_task.
func (j *Job) SetTaskTimeouts(name string, soft, hard time.Duration) error {
	j.mu.Lock()
	if !j.state.AllowEditTask() {
		j.mu.Unlock()
		return ErrImmutableInState
	}
	node, ok := j.tasks[name]
	j.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	t, ok := node.(*task.Task)
	if !ok {
		return fmt.Errorf("%w: %q is a jobtask, not a task", ErrInvalidArgument, name)
	}
	if err := t.SetSoftTimeout(soft); err != nil {
		return err
	}
	return t.SetHardTimeout(hard)
}

// SetTaskHostname mutates a task's target host. Requires allow_edit_task.
func (j *Job) SetTaskHostname(name, hostname string) error {
	j.mu.Lock()
	if !j.state.AllowEditTask() {
		j.mu.Unlock()
		return ErrImmutableInState
	}
	node, ok := j.tasks[name]
	j.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	t, ok := node.(*task.Task)
	if !ok {
		return fmt.Errorf("%w: %q is a jobtask, not a task", ErrInvalidArgument, name)
	}
	t.SetHostname(hostname)
	return nil
}

// Schedule replaces the cron schedule. An empty cron expression clears
// next_run. Otherwise next_run is the first fire strictly after baseTime
// (zero baseTime means now). Requires allow_change_schedule.
func (j *Job) Schedule(cronExpr string, baseTime time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.AllowChangeSchedule() {
		return ErrImmutableInState
	}
	if cronExpr == "" {
		j.cronSchedule = ""
		j.cronIter = nil
		j.nextRun = time.Time{}
		return nil
	}

	iter, err := cronutil.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	if baseTime.IsZero() {
		baseTime = time.Now().UTC()
	}
	j.cronSchedule = cronExpr
	j.cronIter = iter
	j.nextRun = iter.NextAfter(baseTime)
	return nil
}

// AdvanceIfDue advances next_run to the following fire time when now is
// strictly after it. Called by the scheduler loop; exported so the
// scheduler package can apply it without reaching into Job internals.
func (j *Job) AdvanceIfDue(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cronIter == nil || j.nextRun.IsZero() {
		return
	}
	if now.After(j.nextRun) {
		j.nextRun = j.cronIter.NextAfter(now)
	}
}

// Start begins the job's run: snapshot, expand, reset, seed the run log,
// and dispatch every independent node (spec.md §4.3 "start").
func (j *Job) Start() error {
	j.mu.Lock()
	if !j.state.AllowStart() {
		j.mu.Unlock()
		return ErrImmutableInState
	}
	j.mu.Unlock()

	snapshot, tasksSnapshot, err := j.initializeSnapshot()
	if err != nil {
		return err
	}

	j.mu.Lock()
	if !j.state.AllowStart() {
		j.mu.Unlock()
		return ErrImmutableInState
	}

	now := time.Now().UTC()
	if j.cronIter != nil && !j.nextRun.IsZero() && now.After(j.nextRun) {
		j.nextRun = j.cronIter.NextAfter(now)
	}

	logID, err := j.backend.NewLogID()
	if err != nil {
		j.mu.Unlock()
		return fmt.Errorf("job %q: allocate log id: %w", j.name, err)
	}

	j.runLog = &RunLog{
		LogID:     logID,
		JobID:     j.id,
		JobName:   j.name,
		DagobahID: j.dagobahID,
		StartTime: now,
		Tasks:     make(map[string]*TaskRecord),
	}
	j.state = JobState{Status: StatusRunning}
	j.snapshot = snapshot
	j.tasksSnapshot = tasksSnapshot

	for _, node := range tasksSnapshot {
		if t, ok := node.(*task.Task); ok {
			_ = t.Reset()
		}
	}

	for _, name := range snapshot.IndNodes() {
		j.startNodeLocked(name)
	}
	j.mu.Unlock()

	return j.persistRunLog()
}

// Retry re-initializes the snapshot and restarts every task whose prior
// result was not a success. Requires status failed.
func (j *Job) Retry() error {
	j.mu.RLock()
	allowed := j.state.Status == StatusFailed
	j.mu.RUnlock()
	if !allowed {
		return ErrImmutableInState
	}

	snapshot, tasksSnapshot, err := j.initializeSnapshot()
	if err != nil {
		return err
	}

	j.mu.Lock()
	if j.state.Status != StatusFailed {
		j.mu.Unlock()
		return ErrImmutableInState
	}

	var failed []string
	for name, rec := range j.runLog.Tasks {
		if rec.Success == nil || !*rec.Success {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		j.mu.Unlock()
		return ErrNothingToRetry
	}

	j.snapshot = snapshot
	j.tasksSnapshot = tasksSnapshot
	j.state = JobState{Status: StatusRunning}
	j.runLog.LastRetryTime = time.Now().UTC()

	for _, name := range failed {
		if t, ok := tasksSnapshot[name].(*task.Task); ok {
			_ = t.Reset()
		}
		j.startNodeLocked(name)
	}
	j.mu.Unlock()

	return j.persistRunLog()
}

// startNodeLocked writes the node's initial run-log entry and starts it.
// Caller must hold j.mu.
func (j *Job) startNodeLocked(name string) {
	node, ok := j.tasksSnapshot[name]
	if !ok {
		return
	}
	t, ok := node.(*task.Task)
	if !ok {
		// Snapshot should contain no unexpanded JobTasks by the time a run
		// starts; defensive no-op otherwise.
		return
	}
	j.runLog.Tasks[name] = &TaskRecord{
		StartTime: time.Now().UTC(),
		Command:   t.Command,
	}
	if err := t.Start(j.ctx); err != nil {
		j.logger.Error("task failed to start", "job", j.name, "task", name, "error", err)
	}
}

// startIfReadyLocked starts name iff every predecessor in the snapshot has
// already reported success, and name has not already been started (the
// idempotency check named in spec.md §5). Caller must hold j.mu.
func (j *Job) startIfReadyLocked(name string) {
	if _, started := j.runLog.Tasks[name]; started {
		return
	}
	preds, err := j.snapshot.Predecessors(name)
	if err != nil {
		return
	}
	for _, p := range preds {
		rec, ok := j.runLog.Tasks[p]
		if !ok || rec.Success == nil || !*rec.Success {
			return
		}
	}
	j.startNodeLocked(name)
}

// TerminateAll sends terminate to every currently-executing task in the
// live task map. Best-effort (spec.md §4.3).
func (j *Job) TerminateAll() {
	j.forEachRunningLiveTask(func(t *task.Task) { _ = t.Terminate() })
}

// KillAll sends kill to every currently-executing task in the live task map.
func (j *Job) KillAll() {
	j.forEachRunningLiveTask(func(t *task.Task) { _ = t.Kill() })
}

func (j *Job) forEachRunningLiveTask(fn func(*task.Task)) {
	j.mu.RLock()
	tasks := make([]*task.Task, 0, len(j.tasks))
	for _, node := range j.tasks {
		if t, ok := node.(*task.Task); ok {
			tasks = append(tasks, t)
		}
	}
	j.mu.RUnlock()

	for _, t := range tasks {
		_, started := t.StartedAt()
		_, completed := t.CompletedAt()
		if started && !completed {
			fn(t)
		}
	}
}

// completeTask is the OnComplete callback bound to every Task this job
// owns. It is entered only by a Task's own poll goroutine, and serializes
// itself under completionMu so DAG advance, run-log persist, and status
// transition form a single critical section (spec.md §4.3 "_complete_task",
// §5 "completion_lock").
func (j *Job) completeTask(name string, result task.Result) {
	j.completionMu.Lock()
	defer j.completionMu.Unlock()

	j.mu.Lock()
	if j.runLog == nil || j.snapshot == nil {
		j.mu.Unlock()
		return
	}

	success := result.Success
	j.runLog.Tasks[name] = &TaskRecord{
		StartTime:    result.StartTime,
		Command:      result.Command,
		CompleteTime: result.CompleteTime,
		ReturnCode:   result.ReturnCode,
		Success:      &success,
		Stdout:       result.Stdout,
		Stderr:       result.Stderr,
	}

	downstream, _ := j.snapshot.Downstream(name)
	for _, d := range downstream {
		j.startIfReadyLocked(d)
	}

	runLogCopy := j.runLog.clone()
	j.mu.Unlock()

	if j.backend != nil {
		if err := j.backend.AcquireLock(); err != nil {
			j.logger.Error("acquire advisory lock failed", "job", j.name, "error", err)
		} else {
			if err := j.backend.CommitLog(runLogCopy); err != nil {
				j.logger.Error("persist run log failed", "job", j.name, "error", err)
			}
			j.backend.ReleaseLock()
		}
	}

	if !success && j.events != nil {
		j.events.Emit(events.TaskFailed, j.serializeTaskEvent(name))
	}

	j.onCompletion()
}

// onCompletion checks whether every recorded run-log entry has reported,
// and if so performs the terminal transition. Caller must hold
// completionMu but not mu.
func (j *Job) onCompletion() {
	j.mu.Lock()
	if j.state.Status != StatusRunning {
		j.mu.Unlock()
		return
	}
	for _, rec := range j.runLog.Tasks {
		if rec.Success == nil {
			j.mu.Unlock()
			return
		}
	}

	anyFailed := false
	for _, rec := range j.runLog.Tasks {
		if !*rec.Success {
			anyFailed = true
			break
		}
	}

	var emit string
	if anyFailed {
		j.state = JobState{Status: StatusFailed}
		emit = events.JobFailed
	} else {
		j.state = JobState{Status: StatusWaiting}
		emit = events.JobComplete
	}
	payload := j.serializeLocked(true)
	if !anyFailed {
		j.runLog = nil
	}
	j.snapshot = nil
	j.tasksSnapshot = nil
	j.mu.Unlock()

	if j.events != nil {
		j.events.Emit(emit, payload)
	}
}

// persistRunLog commits the current run log under the backend advisory
// lock.
func (j *Job) persistRunLog() error {
	j.mu.RLock()
	var cp *RunLog
	if j.runLog != nil {
		cp = j.runLog.clone()
	}
	j.mu.RUnlock()
	if cp == nil || j.backend == nil {
		return nil
	}
	if err := j.backend.AcquireLock(); err != nil {
		return fmt.Errorf("job %q: acquire lock: %w", j.name, err)
	}
	defer j.backend.ReleaseLock()
	return j.backend.CommitLog(cp)
}

// LastOutput implements task.HistorySource by consulting the backend's
// latest persisted run log for this job.
func (j *Job) LastOutput(taskName string, stream task.Stream) (string, error) {
	if j.backend == nil {
		return "", nil
	}
	log, err := j.backend.LatestRunLog(j.id, taskName)
	if err != nil || log == nil {
		return "", err
	}
	rec, ok := log.Tasks[taskName]
	if !ok {
		return "", nil
	}
	if stream == task.Stdout {
		return rec.Stdout, nil
	}
	return rec.Stderr, nil
}
