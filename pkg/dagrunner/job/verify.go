package job

import (
	"fmt"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/dag"
)

// verify implements spec.md §4.3.2: a cycle check across JobTask
// boundaries, run before a snapshot is expanded. It walks this job's live
// graph in topological order and, for every JobTask it finds, recurses into
// the target job with the same context set. context is shared and never
// backtracked as recursion returns, matching the original implementation:
// a job name reappearing anywhere in the traversal — even two separate
// JobTasks both landing on the same job, not only a true cycle — fails
// verification.
func (j *Job) verify(context map[string]bool, resolver JobResolver) error {
	if context[j.name] {
		return fmt.Errorf("%w: jobtask cycle reaches job %q again", dag.ErrCyclic, j.name)
	}
	context[j.name] = true

	j.mu.RLock()
	order, err := dag.TopologicalSort(j.graph)
	if err != nil {
		j.mu.RUnlock()
		return err
	}
	var targets []string
	for _, name := range order {
		if jt, ok := j.tasks[name].(*JobTask); ok {
			targets = append(targets, jt.TargetJob())
		}
	}
	j.mu.RUnlock()

	for _, target := range targets {
		cur, ok := resolver.Job(target)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownJob, target)
		}
		if err := cur.verify(context, resolver); err != nil {
			return err
		}
	}
	return nil
}
