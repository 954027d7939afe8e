// Package notify delivers outbound bot messages to channel addresses.
package notify

import (
	"context"
	"log/slog"
)

// Sender pushes one plain-text message to a channel address.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Broadcast sends body to every recipient. Delivery is best effort: a
// failed recipient is logged and the rest still get the message.
func Broadcast(ctx context.Context, sender Sender, recipients []string, body string) {
	for _, to := range recipients {
		if err := sender.Send(ctx, to, body); err != nil {
			slog.Error("Failed to deliver notification", "to", to, "error", err)
		}
	}
}
