package job

import (
	"github.com/ashgrove/dagrunner/pkg/dagrunner/task"
)

// Serialize returns a snapshot of the job's public state. Timestamps such as
// next_run are time.Time values; strictjson.Normalize converts them to the
// strict JSON form, and Engine.Serialize applies it when strict output is
// requested. The job_complete/job_failed event payloads are built from the
// same map and are not normalized.
func (j *Job) Serialize() map[string]any {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.serializeLocked(false)
}

// SerializeWithRunLog is Serialize plus the current run log, used by the
// engine root when an export was requested with run logs included.
func (j *Job) SerializeWithRunLog() map[string]any {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.serializeLocked(true)
}

// serializeLocked builds the map returned by Serialize. Caller must hold at
// least j.mu.RLock(). When includeTasks is true, per-task entries are
// included (used for the job_complete/job_failed event payload, which
// carries the full task outcome set).
func (j *Job) serializeLocked(includeTasks bool) map[string]any {
	out := map[string]any{
		"id":            j.id,
		"dagobah_id":    j.dagobahID,
		"name":          j.name,
		"status":        string(j.state.Status),
		"notes":         j.notes,
		"cron_schedule": j.cronSchedule,
	}
	if !j.nextRun.IsZero() {
		out["next_run"] = j.nextRun
	}

	tasks := make([]map[string]any, 0, len(j.tasks))
	deps := make([][2]string, 0, len(j.tasks))
	for name, node := range j.tasks {
		switch n := node.(type) {
		case *task.Task:
			tasks = append(tasks, map[string]any{
				"name":         name,
				"command":      n.Command,
				"hostname":     n.Hostname,
				"soft_timeout": n.SoftTimeout.Seconds(),
				"hard_timeout": n.HardTimeout.Seconds(),
			})
		case *JobTask:
			tasks = append(tasks, map[string]any{
				"name":       name,
				"job_name":   n.TargetJob(),
				"is_jobtask": true,
			})
		}
		downstream, _ := j.graph.Downstream(name)
		for _, d := range downstream {
			deps = append(deps, [2]string{name, d})
		}
	}
	out["tasks"] = tasks
	out["dependencies"] = deps

	if includeTasks && j.runLog != nil {
		taskEntries := make(map[string]any, len(j.runLog.Tasks))
		for name, rec := range j.runLog.Tasks {
			taskEntries[name] = serializeTaskRecord(rec)
		}
		out["run_log"] = map[string]any{
			"log_id":          j.runLog.LogID,
			"start_time":      j.runLog.StartTime,
			"last_retry_time": j.runLog.LastRetryTime,
			"tasks":           taskEntries,
		}
	}
	return out
}

// serializeTaskEvent builds the task_failed event payload for one task. It
// takes its own read lock; call it only when j.mu is not already held.
func (j *Job) serializeTaskEvent(name string) map[string]any {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := map[string]any{
		"job_id":   j.id,
		"job_name": j.name,
		"task":     name,
	}
	if j.runLog != nil {
		if rec, ok := j.runLog.Tasks[name]; ok {
			out["result"] = serializeTaskRecord(rec)
		}
	}
	return out
}

func serializeTaskRecord(rec *TaskRecord) map[string]any {
	entry := map[string]any{
		"start_time":  rec.StartTime,
		"command":     rec.Command,
		"return_code": rec.ReturnCode,
		"stdout":      rec.Stdout,
		"stderr":      rec.Stderr,
	}
	if !rec.CompleteTime.IsZero() {
		entry["complete_time"] = rec.CompleteTime
	}
	if rec.Success != nil {
		entry["success"] = *rec.Success
	}
	return entry
}

// taskNames is a small helper used by tests to assert snapshot membership
// without reaching into Job internals directly.
func taskNames(tasks map[string]Node) []string {
	out := make([]string, 0, len(tasks))
	for name, n := range tasks {
		if _, ok := n.(*task.Task); ok {
			out = append(out, name)
		}
	}
	return out
}
