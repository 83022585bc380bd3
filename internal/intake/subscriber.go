package intake

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/flowboard/pkg/board"
)

// EventSource is a pub/sub feed of change events.
type EventSource interface {
	SubscribeChangeEvents(ctx context.Context) (*board.Subscription, error)
}

// Submitter accepts events for asynchronous processing.
type Submitter interface {
	Submit(ev *board.ChangeEvent) error
}

// Subscribe forwards events from src to q until ctx is cancelled, which
// returns nil. A subscription that ends while ctx is live is an error.
// Malformed messages and full-queue rejections are logged and skipped.
func Subscribe(ctx context.Context, src EventSource, q Submitter) error {
	subscription, err := src.SubscribeChangeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to change events: %w", err)
	}
	defer subscription.Close()

	log.Printf("[Intake] Subscribed to change_events")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-subscription.Events():
			if !ok {
				return subscriptionClosed(ctx)
			}
			if err := q.Submit(ev); err != nil {
				log.Printf("[Intake] Dropping %s on %s from pub/sub: %v", ev.ChangeType, ev.Table, err)
			}

		case err, ok := <-subscription.Errors():
			if !ok {
				return subscriptionClosed(ctx)
			}
			log.Printf("[Intake] Subscription error: %v", err)
		}
	}
}

func subscriptionClosed(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	log.Printf("[Intake] Subscription closed unexpectedly")
	return fmt.Errorf("change-event subscription closed")
}
