package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bcorn-cely/Agent-Orchestration/wire"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// RunInfo identifies a started, replayed, or retriggered run.
type RunInfo struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// StartRun starts a workflow run with a JSON-encoded input. The run
// executes on the server's pool; the response carries only its identity.
func (c *Client) StartRun(ctx context.Context, name string, input any) (*RunInfo, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("orchestration client: marshal input: %w", err)
	}

	var info RunInfo
	if err := c.requestInto(ctx, wire.MethodRunStart, wire.RunStartRequest{
		Name:  name,
		Input: raw,
	}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetRun fetches a run by ID.
func (c *Client) GetRun(ctx context.Context, runID string) (*workflow.Run, error) {
	var run workflow.Run
	if err := c.requestInto(ctx, wire.MethodRunGet, wire.RunGetRequest{RunID: runID}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRunsOpts filters ListRuns. Zero values mean no filter.
type ListRunsOpts struct {
	Status string
	Name   string
	Limit  int
	Offset int
}

// ListRuns lists runs, newest first.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]*workflow.Run, error) {
	var runs []*workflow.Run
	if err := c.requestInto(ctx, wire.MethodRunList, wire.RunListRequest{
		Status: opts.Status,
		Name:   opts.Name,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Timeline fetches the merged checkpoint and event history of a run.
func (c *Client) Timeline(ctx context.Context, runID string) ([]workflow.TimelineEntry, error) {
	var entries []workflow.TimelineEntry
	if err := c.requestInto(ctx, wire.MethodRunTimeline, wire.RunTimelineRequest{RunID: runID}, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Replay rewinds a run to just before the named step and re-queues it.
// Checkpoints from that step onward are discarded; earlier steps keep
// their committed results.
func (c *Client) Replay(ctx context.Context, runID, fromStep string) (*RunInfo, error) {
	var info RunInfo
	if err := c.requestInto(ctx, wire.MethodRunReplay, wire.RunReplayRequest{
		RunID:    runID,
		FromStep: fromStep,
	}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Retrigger starts a fresh run from a failed one, reusing its input.
func (c *Client) Retrigger(ctx context.Context, runID string) (*RunInfo, error) {
	var info RunInfo
	if err := c.requestInto(ctx, wire.MethodRunRetrigger, wire.RunRetriggerRequest{RunID: runID}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
