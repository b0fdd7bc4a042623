// Package adapter defines the notification channel boundary.
//
// Adapters deliver run outcome notifications to operators. The pipeline
// owns adapter lifecycle; users provide configuration only. Delivery is
// fire-and-forget from the pipeline's point of view: a failed Send is
// logged and counted by the caller and never changes a run's outcome.
package adapter

import (
	"context"

	"github.com/nsls2/srx-export/types"
)

// Message is one notification.
type Message struct {
	// Text is the human-readable message.
	Text string
	// Channel overrides the adapter's default destination when non-empty
	// (a Slack channel for webhooks, a pub/sub channel for Redis).
	Channel string
	// Event is the structured form of the notification.
	Event *types.NotificationEvent
}

// Adapter delivers notifications to a downstream system.
type Adapter interface {
	// Send delivers msg. Must respect context cancellation and deadlines.
	Send(ctx context.Context, msg *Message) error

	// Close releases adapter resources.
	Close() error
}

// Nop is an Adapter that discards every message.
type Nop struct{}

// Send implements Adapter.
func (Nop) Send(context.Context, *Message) error { return nil }

// Close implements Adapter.
func (Nop) Close() error { return nil }

var _ Adapter = Nop{}
