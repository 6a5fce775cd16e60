// Package notify enqueues outbound notifications. Delivery itself happens
// elsewhere; the core only hands messages to the queue and never fails an
// operation over a notification.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskTypeSend is the asynq task type for outbound notifications.
const TaskTypeSend = "notify:send"

// Channel selects the delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one queued notification.
type Message struct {
	ID        string  `json:"id"`
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
}

// Notifier enqueues messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// QueueNotifier pushes messages onto the asynq default queue.
type QueueNotifier struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewQueueNotifier wires a notifier on an existing asynq client.
func NewQueueNotifier(client *asynq.Client, logger *slog.Logger) *QueueNotifier {
	return &QueueNotifier{client: client, logger: logger}
}

// Notify enqueues the message. Fire and forget: enqueue failures are logged
// and swallowed so the calling operation never rolls back over one.
func (n *QueueNotifier) Notify(ctx context.Context, msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Warn("notification marshal failed", slog.String("id", msg.ID), slog.Any("error", err))
		return
	}
	task := asynq.NewTask(TaskTypeSend, payload)
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		n.logger.Warn("notification enqueue failed",
			slog.String("id", msg.ID),
			slog.String("recipient", msg.Recipient),
			slog.Any("error", err))
	}
}

// NopNotifier drops every message; used where no queue is configured.
type NopNotifier struct{}

// Notify discards the message.
func (NopNotifier) Notify(context.Context, Message) {}
