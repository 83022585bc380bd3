package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the shared tier and the
// change-event bus. The client is thread-safe and can be used concurrently
// from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new board client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: deployment identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the namespace used for keys and channels.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetLayout reads a cached layout.
// Returns (nil, redis.Nil) if the key doesn't exist. Use IsNotFound() to check.
func (c *Client) GetLayout(ctx context.Context, key string) ([]ResolvedSection, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read layout from Redis: %w", err)
	}

	layout, err := DecodeLayout(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize layout: %w", err)
	}

	return layout, nil
}

// SetLayout writes a layout with the given expiry.
func (c *Client) SetLayout(ctx context.Context, key string, layout []ResolvedSection, ttl time.Duration) error {
	data, err := EncodeLayout(layout)
	if err != nil {
		return fmt.Errorf("failed to serialize layout: %w", err)
	}

	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write layout to Redis: %w", err)
	}

	return nil
}

// DeleteLayout removes a cached layout. Deleting a missing key is not an error.
func (c *Client) DeleteLayout(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete layout from Redis: %w", err)
	}
	return nil
}

// PublishChangeEvent validates an event and publishes it to
// flowboard:{instance}:change_events.
func (c *Client) PublishChangeEvent(ctx context.Context, ev *ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid change event: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	channel := ChangeEventsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	return nil
}

// Subscription represents an active Pub/Sub subscription to change events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *ChangeEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of change events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *ChangeEvent {
	return s.events
}

// Errors returns the channel of subscription errors.
// Malformed payloads are reported here and skipped; the subscription continues.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeChangeEvents subscribes to the change-event channel for this instance.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Redis Pub/Sub is at-most-once: events published while no subscriber is
// connected are lost. The HTTP webhook remains the primary delivery path.
func (c *Client) SubscribeChangeEvents(ctx context.Context) (*Subscription, error) {
	channel := ChangeEventsChannel(c.instanceName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so that publishes issued right
	// after this call are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan *ChangeEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				ev, err := UnmarshalChangeEvent([]byte(msg.Payload))
				if err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
