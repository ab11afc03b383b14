package cron

import (
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Schedule represents a recurring workflow trigger.
type Schedule struct {
	orchestration.Entity

	ID          id.ScheduleID `json:"id"`
	Name        string        `json:"name"`
	Expr        string        `json:"expr"`
	Workflow    string        `json:"workflow"`
	Input       []byte        `json:"input,omitempty"`
	ScopeAppID  string        `json:"scope_app_id,omitempty"`
	ScopeOrgID  string        `json:"scope_org_id,omitempty"`
	LastRunAt   *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time    `json:"next_run_at,omitempty"`
	LockedBy    string        `json:"locked_by,omitempty"`
	LockedUntil *time.Time    `json:"locked_until,omitempty"`
	Enabled     bool          `json:"enabled"`
}
