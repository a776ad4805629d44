package job

import (
	"fmt"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/dag"
	"github.com/ashgrove/dagrunner/pkg/dagrunner/task"
)

// expandDelimiter separates a spliced-in subgraph's original node names
// from the JobTask name it replaced, keeping expanded names traceable to
// their origin while staying unique within the snapshot.
const expandDelimiter = "::"

// initializeSnapshot clones the live graph and task map, validates the
// clone, and expands every JobTask node in it. The live graph and tasks are
// left untouched; the returned pair is safe to run independently of
// concurrent graph edits (which are rejected anyway while running, but the
// snapshot also protects against torn reads of the live map).
func (j *Job) initializeSnapshot() (*dag.Graph, map[string]Node, error) {
	j.mu.RLock()
	graphCopy := j.graph.Clone()
	tasksCopy := make(map[string]Node, len(j.tasks))
	for name, node := range j.tasks {
		switch n := node.(type) {
		case *task.Task:
			tasksCopy[name] = n.Clone()
		case *JobTask:
			tasksCopy[name] = n.Clone()
		default:
			tasksCopy[name] = node
		}
	}
	resolver := j.resolver
	j.mu.RUnlock()

	if ok, reason := dag.Validate(graphCopy); !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidDAG, reason)
	}

	if err := j.verify(make(map[string]bool), resolver); err != nil {
		return nil, nil, err
	}

	if err := expandSnapshot(j, graphCopy, tasksCopy, resolver); err != nil {
		return nil, nil, err
	}
	if ok, reason := dag.Validate(graphCopy); !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidDAG, reason)
	}
	return graphCopy, tasksCopy, nil
}

// expandSnapshot repeatedly splices JobTask nodes out of graph/tasks until
// every remaining node is a Starter, breadth-first over the traversal
// frontier (spec.md §4.3.1). owner becomes every spliced-in task's
// OnComplete/History target, since the expanded tasks now belong to owner's
// run for completion-tracking purposes.
func expandSnapshot(owner *Job, graph *dag.Graph, tasks map[string]Node, resolver JobResolver) error {
	queue := graph.IndNodes()

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		node, ok := tasks[name]
		if !ok {
			continue
		}
		expander, ok := node.(Expander)
		if !ok {
			// Not itself a JobTask, but its downstream children might be —
			// keep walking the traversal frontier through it.
			children, err := graph.Downstream(name)
			if err != nil {
				return err
			}
			queue = append(queue, children...)
			continue
		}

		subgraph, subtasks, err := expander.Expand(resolver)
		if err != nil {
			return err
		}

		preds, err := graph.Predecessors(name)
		if err != nil {
			return err
		}
		children, err := graph.Downstream(name)
		if err != nil {
			return err
		}

		if subgraph.Len() == 0 {
			// Empty target graph: the JobTask is a no-op pass-through.
			// Connect its predecessors directly to its children and
			// remove it. Children still need to be visited in case they
			// are themselves JobTasks.
			for _, p := range preds {
				for _, c := range children {
					if p != c {
						_ = graph.AddEdge(p, c)
					}
				}
			}
			if err := graph.DeleteNode(name); err != nil {
				return err
			}
			delete(tasks, name)
			queue = append(queue, children...)
			continue
		}

		renamed := make(map[string]string, subgraph.Len())
		for _, sub := range subgraph.Nodes() {
			newName := name + expandDelimiter + sub
			if _, exists := tasks[newName]; exists {
				return fmt.Errorf("%w: %q already present while expanding %q", ErrNamingConflict, newName, name)
			}
			renamed[sub] = newName
		}
		for oldName, newName := range renamed {
			if err := subgraph.RenameEdges(oldName, newName); err != nil {
				return err
			}
		}

		for oldName, newName := range renamed {
			subNode := subtasks[oldName]
			if t, ok := subNode.(*task.Task); ok {
				t.OnComplete = owner.completeTask
				t.History = owner
			}
			tasks[newName] = subNode
			if err := graph.AddNode(newName); err != nil {
				return err
			}
		}
		for _, edges := range subgraphEdges(subgraph) {
			if err := graph.AddEdge(edges[0], edges[1]); err != nil {
				return err
			}
		}

		startNodes := subgraph.IndNodes()
		leafNodes := subgraph.AllLeaves()
		for _, p := range preds {
			for _, s := range startNodes {
				_ = graph.AddEdge(p, s)
			}
		}
		for _, l := range leafNodes {
			for _, c := range children {
				_ = graph.AddEdge(l, c)
			}
		}

		if err := graph.DeleteNode(name); err != nil {
			return err
		}
		delete(tasks, name)

		queue = append(queue, children...)
		for _, newName := range renamed {
			queue = append(queue, newName)
		}
	}

	return nil
}

// subgraphEdges flattens a Graph's adjacency into a slice of [from, to]
// pairs, since *dag.Graph exposes no direct edge iterator.
func subgraphEdges(g *dag.Graph) [][2]string {
	var out [][2]string
	for _, n := range g.Nodes() {
		downstream, _ := g.Downstream(n)
		for _, d := range downstream {
			out = append(out, [2]string{n, d})
		}
	}
	return out
}
