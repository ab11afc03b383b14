package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bcorn-cely/Agent-Orchestration/stream"
	"github.com/bcorn-cely/Agent-Orchestration/wire"
)

// Subscribe subscribes to a stream topic and returns a channel of
// events. The channel is closed when the client disconnects or
// Unsubscribe is called.
//
// Topics follow the stream package convention:
//   - "run:<runID>"        — events for one run
//   - "workflow:<name>"    — events for all runs of one workflow
//   - "runs"               — all run lifecycle events
//   - "schedules"          — schedule firings
//   - "firehose"           — everything
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan *stream.Event, error) {
	_, err := c.request(ctx, wire.MethodSubscribe, wire.SubscribeRequest{
		Channel: topic,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", topic, err)
	}

	ch := make(chan *stream.Event, 64)
	c.subs.Store(topic, ch)

	return ch, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	_, err := c.request(ctx, wire.MethodUnsubscribe, wire.UnsubscribeRequest{
		Channel: topic,
	})

	// Close and remove the local channel regardless.
	if val, ok := c.subs.LoadAndDelete(topic); ok {
		ch := val.(chan *stream.Event) //nolint:errcheck // subs always stores chan *stream.Event
		close(ch)
	}

	return err
}

// WatchRun subscribes to one run's events. Convenience for
// Subscribe("run:<runID>").
func (c *Client) WatchRun(ctx context.Context, runID string) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.RunTopic(runID))
}

// Stats retrieves broker statistics from the server.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, wire.MethodStats, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
