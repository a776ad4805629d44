package engine

import (
	"fmt"
	"time"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/job"
)

// FromBackend loads the persisted document for dagobahID, wipes local
// state, then re-adds every job, schedule, task (with timeouts and
// hostname), JobTask (carrying its target job name), dependency, and notes
// (spec.md §4.5 from_backend).
func (e *Engine) FromBackend(dagobahID string) error {
	doc, err := e.backend.DagobahJSON(dagobahID)
	if err != nil {
		return fmt.Errorf("engine: load dagobah %q: %w", dagobahID, err)
	}

	e.mu.Lock()
	for _, j := range e.jobs {
		j.Close()
	}
	e.jobs = make(map[string]*job.Job)
	e.id = dagobahID
	e.createdJobs = int(asFloat(doc["created_jobs"]))
	e.mu.Unlock()

	for _, jobDoc := range toMapSlice(doc["jobs"]) {
		if err := e.addJobFromSpec(jobDoc, false); err != nil {
			return fmt.Errorf("engine: reconstruct job %q: %w", asString(jobDoc["name"]), err)
		}
	}
	return nil
}

// AddJobFromJSON imports a single job document, following the same
// per-job reconstruction path as FromBackend (spec.md §4.5
// add_job_from_json). If destructive, any existing job of the same name is
// deleted first; the imported id is never trusted, a fresh one is always
// allocated.
func (e *Engine) AddJobFromJSON(doc map[string]any, destructive bool) error {
	name := asString(doc["name"])
	if destructive {
		e.mu.RLock()
		_, exists := e.jobs[name]
		e.mu.RUnlock()
		if exists {
			if err := e.DeleteJob(name); err != nil {
				return err
			}
		}
	}
	return e.addJobFromSpec(doc, true)
}

// addJobFromSpec builds and wires one job from a (possibly JSON-round-
// tripped) document. allocateID matters only for symmetry with
// AddJobFromJSON's "never trust the imported id" rule; FromBackend's own
// per-job ids are likewise always freshly allocated, since AddJob already
// does so unconditionally.
func (e *Engine) addJobFromSpec(doc map[string]any, _ bool) error {
	name := asString(doc["name"])
	j, err := e.AddJob(name)
	if err != nil {
		return err
	}

	if notes := asString(doc["notes"]); notes != "" {
		if err := j.SetNotes(notes); err != nil {
			return err
		}
	}
	if cron := asString(doc["cron_schedule"]); cron != "" {
		if err := j.Schedule(cron, time.Now().UTC()); err != nil {
			return err
		}
	}

	// Pass 1: create every task/jobtask node before wiring dependencies, so
	// edges can reference any node in the job regardless of doc order.
	for _, taskDoc := range toMapSlice(doc["tasks"]) {
		taskName := asString(taskDoc["name"])
		if b, _ := taskDoc["is_jobtask"].(bool); b {
			if err := j.AddJobTask(taskName, asString(taskDoc["job_name"])); err != nil {
				return err
			}
			continue
		}
		soft := time.Duration(asFloat(taskDoc["soft_timeout"])) * time.Second
		hard := time.Duration(asFloat(taskDoc["hard_timeout"])) * time.Second
		if err := j.AddTask(taskName, asString(taskDoc["command"]), asString(taskDoc["hostname"]), soft, hard); err != nil {
			return err
		}
	}

	// Pass 2: dependencies, now that every node exists.
	for _, pair := range toPairSlice(doc["dependencies"]) {
		if err := j.AddDependency(pair[0], pair[1]); err != nil {
			return err
		}
	}

	return e.commitJob(j)
}

// asString leniently extracts a string from a decoded-JSON or in-memory
// document value; absent or wrong-typed fields yield "".
func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat leniently extracts a number from either its native Go numeric
// type (when the document was built in-process) or float64 (when it came
// back through encoding/json).
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// toMapSlice accepts either []map[string]any (in-process documents) or
// []any of map[string]any (documents that round-tripped through
// encoding/json) and normalizes to the former.
func toMapSlice(v any) []map[string]any {
	switch vs := v.(type) {
	case []map[string]any:
		return vs
	case []any:
		out := make([]map[string]any, 0, len(vs))
		for _, elem := range vs {
			if m, ok := elem.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// toPairSlice accepts either [][2]string or its encoding/json round-tripped
// form ([]any of []any of two strings) and normalizes to [][2]string.
func toPairSlice(v any) [][2]string {
	switch vs := v.(type) {
	case [][2]string:
		return vs
	case []any:
		out := make([][2]string, 0, len(vs))
		for _, elem := range vs {
			pair, ok := elem.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			out = append(out, [2]string{asString(pair[0]), asString(pair[1])})
		}
		return out
	}
	return nil
}
