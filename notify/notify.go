// Package notify delivers out-of-band messages from running workflows,
// typically approval requests that embed a hook token URL. Notifiers are
// called from inside steps, so a delivery failure surfaces as a step
// error and retries with the step.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Message is a notification addressed to a human or an external system.
// URL carries the resume link for approval flows.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	URL     string `json:"url,omitempty"`
}

// Notifier sends a message. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, msg Message) error

// Send implements Notifier.
func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogNotifier writes notifications to a structured logger. It is the
// default notifier for local development, where there is no mail or
// chat system to deliver to.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at Info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send implements Notifier.
func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("notification",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
		slog.String("url", msg.URL),
	)
	return nil
}

// Recorder is a Notifier that captures every message it is asked to
// send. Tests use it to assert that a workflow requested an approval
// and to fish the hook token URL out of the message.
type Recorder struct {
	mu       sync.Mutex
	messages []Message

	// Err, when set, is returned from Send after recording.
	Err error
}

// Send implements Notifier.
func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	return r.Err
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Last returns the most recent message, or a zero Message when nothing
// has been sent.
func (r *Recorder) Last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return Message{}
	}
	return r.messages[len(r.messages)-1]
}

var (
	_ Notifier = Func(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Recorder)(nil)
)
