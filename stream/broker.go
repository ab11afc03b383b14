package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/ext"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Broker)(nil)
	_ ext.RunStarted    = (*Broker)(nil)
	_ ext.RunSuspended  = (*Broker)(nil)
	_ ext.RunResumed    = (*Broker)(nil)
	_ ext.RunCompleted  = (*Broker)(nil)
	_ ext.RunFailed     = (*Broker)(nil)
	_ ext.StepCompleted = (*Broker)(nil)
	_ ext.StepRetried   = (*Broker)(nil)
	_ ext.StepFailed    = (*Broker)(nil)
	_ ext.HookCreated   = (*Broker)(nil)
	_ ext.HookResolved  = (*Broker)(nil)
	_ ext.HookExpired   = (*Broker)(nil)
	_ ext.ScheduleFired = (*Broker)(nil)
	_ ext.Shutdown      = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the ext.Extension
// interface to receive lifecycle events and fans them out to subscribers
// via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use (e.g., wire server).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.totalDropped.Add(sub.Dropped())
		sub.Close()
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics. Dropped counts include events lost
// by live subscribers plus those folded in when subscribers were removed.
func (b *Broker) Stats() BrokerStats {
	count := 0
	liveDropped := int64(0)
	b.subscribers.Range(func(_, val any) bool {
		count++
		liveDropped += val.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load() + liveDropped,
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish creates an event and broadcasts it to all matching topics,
// plus any extra topics the caller names (e.g. the workflow-name topic).
func (b *Broker) publish(evt *Event, extra ...string) {
	topics := append(resolveTopics(evt), extra...)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// runData builds the common payload for run-level events.
func runData(r *workflow.Run) RunEventData {
	return RunEventData{
		RunID:      r.ID.String(),
		Name:       r.Name,
		Status:     string(r.Status),
		ScopeAppID: r.ScopeAppID,
		ScopeOrgID: r.ScopeOrgID,
	}
}

// ── Run lifecycle hooks ─────────────────────────────

func (b *Broker) OnRunStarted(_ context.Context, r *workflow.Run) error {
	b.publish(&Event{
		Type:      EventRunStarted,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data:      mustMarshal(runData(r)),
	}, WorkflowTopic(r.Name))
	return nil
}

func (b *Broker) OnRunSuspended(_ context.Context, r *workflow.Run) error {
	b.publish(&Event{
		Type:      EventRunSuspended,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data:      mustMarshal(runData(r)),
	}, WorkflowTopic(r.Name))
	return nil
}

func (b *Broker) OnRunResumed(_ context.Context, r *workflow.Run) error {
	b.publish(&Event{
		Type:      EventRunResumed,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data:      mustMarshal(runData(r)),
	}, WorkflowTopic(r.Name))
	return nil
}

func (b *Broker) OnRunCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	data := runData(r)
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(&Event{
		Type:      EventRunCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data:      mustMarshal(data),
	}, WorkflowTopic(r.Name))
	return nil
}

func (b *Broker) OnRunFailed(_ context.Context, r *workflow.Run, runErr error) error {
	data := runData(r)
	data.Error = runErr.Error()
	b.publish(&Event{
		Type:      EventRunFailed,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data:      mustMarshal(data),
	}, WorkflowTopic(r.Name))
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

func (b *Broker) OnStepCompleted(_ context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error {
	data := runData(r)
	data.StepName = stepName
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(&Event{
		Type:      EventStepCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data:      mustMarshal(data),
	}, WorkflowTopic(r.Name))
	return nil
}

func (b *Broker) OnStepRetried(_ context.Context, r *workflow.Run, stepName string, attempt int, delay time.Duration) error {
	data := runData(r)
	data.StepName = stepName
	data.Attempt = attempt
	data.DelayMs = delay.Milliseconds()
	b.publish(&Event{
		Type:      EventStepRetried,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data:      mustMarshal(data),
	}, WorkflowTopic(r.Name))
	return nil
}

func (b *Broker) OnStepFailed(_ context.Context, r *workflow.Run, stepName string, stepErr error) error {
	data := runData(r)
	data.StepName = stepName
	data.Error = stepErr.Error()
	b.publish(&Event{
		Type:      EventStepFailed,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data:      mustMarshal(data),
	}, WorkflowTopic(r.Name))
	return nil
}

// ── Hook lifecycle hooks ────────────────────────────

func (b *Broker) OnHookCreated(_ context.Context, r *workflow.Run, h *hook.Hook) error {
	b.publish(&Event{
		Type:      EventHookCreated,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(HookEventData{
			RunID:     r.ID.String(),
			Name:      r.Name,
			HookName:  h.Name,
			Token:     h.Token(),
			Kind:      h.Kind,
			ExpiresAt: h.ExpiresAt.Format(time.RFC3339),
		}),
	}, WorkflowTopic(r.Name))
	return nil
}

func (b *Broker) OnHookResolved(_ context.Context, r *workflow.Run, h *hook.Hook) error {
	b.publish(&Event{
		Type:      EventHookResolved,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(HookEventData{
			RunID:      r.ID.String(),
			Name:       r.Name,
			HookName:   h.Name,
			Token:      h.Token(),
			Kind:       h.Kind,
			ResolvedBy: h.ResolvedBy,
		}),
	}, WorkflowTopic(r.Name))
	return nil
}

func (b *Broker) OnHookExpired(_ context.Context, r *workflow.Run, h *hook.Hook) error {
	b.publish(&Event{
		Type:      EventHookExpired,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(HookEventData{
			RunID:    r.ID.String(),
			Name:     r.Name,
			HookName: h.Name,
			Token:    h.Token(),
			Kind:     h.Kind,
		}),
	}, WorkflowTopic(r.Name))
	return nil
}

// ── Schedule lifecycle hooks ────────────────────────

func (b *Broker) OnScheduleFired(_ context.Context, scheduleName string, runID id.RunID) error {
	b.publish(&Event{
		Type:      EventScheduleFired,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(ScheduleEventData{
			ScheduleName: scheduleName,
			RunID:        runID.String(),
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.totalDropped.Add(sub.Dropped())
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
