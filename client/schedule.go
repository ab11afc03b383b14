package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/wire"
)

// ListSchedules lists registered cron schedules.
func (c *Client) ListSchedules(ctx context.Context) ([]*cron.Schedule, error) {
	var schedules []*cron.Schedule
	if err := c.requestInto(ctx, wire.MethodScheduleList, nil, &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

// CreateSchedule registers a recurring workflow trigger. The expression
// uses standard 5-field cron syntax or descriptors like "@every 30s".
func (c *Client) CreateSchedule(ctx context.Context, name, expr, workflowName string, input any) (*cron.Schedule, error) {
	var raw json.RawMessage
	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("orchestration client: marshal schedule input: %w", err)
		}
		raw = data
	}

	var sched cron.Schedule
	if err := c.requestInto(ctx, wire.MethodScheduleCreate, wire.ScheduleCreateRequest{
		Name:     name,
		Expr:     expr,
		Workflow: workflowName,
		Input:    raw,
	}, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}
