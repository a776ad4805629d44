package job

import (
	"fmt"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/dag"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/task"
)

// JobTask is a graph node that stands in for another job's entire graph. At
// snapshot time it is expanded away: its target job's tasks and edges are
// spliced into the expanding job's snapshot in its place (spec.md §4.3.1).
type JobTask struct {
	name      string
	targetJob string
}

// NewJobTask returns a JobTask named name that, on expansion, splices in the
// graph of the job called targetJob.
func NewJobTask(name, targetJob string) *JobTask {
	return &JobTask{name: name, targetJob: targetJob}
}

func (jt *JobTask) NodeName() string  { return jt.name }
func (jt *JobTask) TargetJob() string { return jt.targetJob }

// Clone returns a fresh JobTask with the same name and target.
func (jt *JobTask) Clone() *JobTask {
	return &JobTask{name: jt.name, targetJob: jt.targetJob}
}

// Expand resolves the target job through resolver and returns a clone of
// its live graph and task map, renamed by neither — renaming to avoid
// collisions with the expanding job's own namespace is the caller's
// responsibility (expandSnapshot), since only the caller knows the full set
// of names already in use.
func (jt *JobTask) Expand(resolver JobResolver) (*dag.Graph, map[string]Node, error) {
	target, ok := resolver.Job(jt.targetJob)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownJob, jt.targetJob)
	}

	target.mu.RLock()
	defer target.mu.RUnlock()

	g := target.graph.Clone()
	tasks := make(map[string]Node, len(target.tasks))
	for name, node := range target.tasks {
		switch n := node.(type) {
		case *task.Task:
			// OnComplete/History are rebound to the expanding job by
			// expandSnapshot once this subgraph is spliced in; Expand
			// itself only needs to produce fresh, independently-runnable
			// copies of the target's nodes.
			tasks[name] = n.Clone()
		case *JobTask:
			tasks[name] = n.Clone()
		default:
			tasks[name] = node
		}
	}
	return g, tasks, nil
}
