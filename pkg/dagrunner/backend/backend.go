// Package backend defines the durable storage contract for the engine
// (spec.md's Dagobah root) and its jobs, plus three implementations:
// sqlite, postgres, and a flat JSON file for single-node/dev use.
//
// Every document crossing this boundary is the map[string]any produced by
// a Serialize call elsewhere in the module (job, engine); the backend
// itself is opaque to the shape of those documents beyond the few fields
// it needs to index by (dagobah_id on engine and job documents, id on job
// documents).
package backend

import (
	"errors"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/job"
)

// Errors returned by Backend implementations. Callers match with errors.Is.
var (
	ErrNotFound  = errors.New("backend: not found")
	ErrLocked    = errors.New("backend: advisory lock held elsewhere")
	ErrNotLocked = errors.New("backend: release without a held lock")
)

// Backend is the full persistence surface the engine needs. It embeds
// job.LogStore so any Backend value can be handed directly to job.Config
// without an adapter — job only ever sees the narrower LogStore view.
type Backend interface {
	job.LogStore

	// NewDagobahID allocates an opaque id for a fresh engine instance.
	NewDagobahID() (string, error)
	// NewJobID allocates an opaque id for a fresh job.
	NewJobID() (string, error)

	// CommitDagobah persists the engine-level document (spec.md §4.6).
	CommitDagobah(doc map[string]any) error
	// CommitJob persists a single job's document.
	CommitJob(doc map[string]any) error
	// DeleteJob removes a job's document and its run logs.
	DeleteJob(jobID string) error
	// DeleteDagobah removes the engine-level document and every job under it.
	DeleteDagobah(dagobahID string) error

	// DagobahJSON returns the persisted engine document, or ErrNotFound.
	DagobahJSON(dagobahID string) (map[string]any, error)

	// Close releases any held resources (open DB handle, file lock).
	Close() error
}
