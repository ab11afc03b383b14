package workflow

import (
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Checkpoint is the committed result of one completed step in a run.
// Checkpoints are the replay log: on re-execution, a step whose
// checkpoint exists returns the stored result without re-invoking its
// function. Seq is a per-run sequence number assigned by the store in
// commit order; it drives the timeline and replay-from-step.
type Checkpoint struct {
	ID        id.CheckpointID `json:"id"`
	RunID     id.RunID        `json:"run_id"`
	StepName  string          `json:"step_name"`
	Seq       int             `json:"seq"`
	Data      []byte          `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
