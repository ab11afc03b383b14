package cluster

import (
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and executing runs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight runs
	// but not claiming new ones (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker has stopped responding and should
	// have its claimed runs reassigned.
	WorkerDead WorkerState = "dead"
)

// Worker represents an orchestrator instance in a distributed cluster.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	Hostname    string            `json:"hostname"`
	Workflows   []string          `json:"workflows"`
	Concurrency int               `json:"concurrency"`
	State       WorkerState       `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
