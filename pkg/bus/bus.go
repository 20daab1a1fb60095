// Package bus carries turn events between the orchestrator and its
// consumers. The orchestrator publishes every sink callback as a tagged
// JSON event on a stagehand.turn.* subject; the relay server and any
// other listener subscribe with wildcards. The in-memory bus serves a
// single process; the NATS bus mirrors the same subjects across
// processes.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a request times out waiting for a reply.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when a request has no subscriber to answer it.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is a subject-based publish/subscribe transport.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the subject. It
	// returns without waiting for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the subject. The
	// handler runs on the subscription's own goroutine. Subjects use
	// NATS wildcard rules: "stagehand.turn.*" matches one token,
	// "stagehand.>" matches the rest of the subject.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request publishes a message and waits for a single reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close shuts down the bus and every subscription.
	Close() error
}

// MessageHandler processes one incoming message. For request/reply,
// return the response body; return nil to send no response.
type MessageHandler func(msg *Message) []byte

// Message is one delivery from the bus.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string // set when the sender expects a response
}

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops delivery and releases the subscription.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription was made with.
	Subject() string
}

// Config selects and tunes the bus implementation.
type Config struct {
	// URL is the NATS server URL. Leave empty for the in-memory bus.
	URL string

	// Name identifies this client to the NATS server.
	Name string

	// Timeout is the default timeout for connect and request operations.
	Timeout time.Duration
}

// DefaultConfig returns a Config for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "stagehand",
		Timeout: 30 * time.Second,
	}
}

// New creates a bus from the config: in-memory when no URL is set,
// NATS otherwise.
func New(cfg Config) (MessageBus, error) {
	if cfg.URL == "" {
		return NewMemoryBus(), nil
	}
	return NewNATSBus(cfg)
}
