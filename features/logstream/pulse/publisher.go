// Package pulse publishes log-stream events over goa.design/pulse streams.
// Services build a Redis client, pass it to the Pulse client, and hand the
// resulting publisher to the worker; WebSocket relays subscribe to the same
// streams on the other side.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientspulse "github.com/docstruct/docstruct/features/pulse"
	"github.com/docstruct/docstruct/runtime/logstream"
)

type (
	// Options configures the Pulse publisher.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target Pulse stream from a channel name.
		// Defaults to `logs/<channel>`.
		StreamID func(channel string) (string, error)
		// Now overrides the envelope timestamp source. Tests only.
		Now func() time.Time
	}

	// Publisher implements logstream.Publisher on top of Pulse streams.
	// Thread-safe for concurrent Publish calls.
	Publisher struct {
		client   clientspulse.Client
		streamID func(string) (string, error)
		now      func() time.Time
	}

	// envelope wraps log-stream events for transmission over Pulse streams.
	envelope struct {
		// Type is the event kind, LOG or UPDATE.
		Type string `json:"type"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload contains the event-specific data.
		Payload any `json:"payload"`
	}
)

// NewPublisher constructs a Pulse-backed log-stream publisher.
func NewPublisher(opts Options) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	p := &Publisher{
		client:   opts.Client,
		streamID: defaultStreamID,
		now:      time.Now,
	}
	if opts.StreamID != nil {
		p.streamID = opts.StreamID
	}
	if opts.Now != nil {
		p.now = opts.Now
	}
	return p, nil
}

// Publish implements logstream.Publisher. It derives the stream from the
// channel, wraps the event in an envelope and appends it to the stream.
func (p *Publisher) Publish(ctx context.Context, channel string, ev logstream.Event) error {
	streamID, err := p.streamID(channel)
	if err != nil {
		return err
	}
	handle, err := p.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := envelope{
		Type:      string(ev.Kind()),
		Timestamp: p.now().UTC(),
		Payload:   ev,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal log envelope: %w", err)
	}
	if _, err := handle.Add(ctx, env.Type, payload); err != nil {
		return err
	}
	return nil
}

// Close releases resources owned by the publisher. The caller owns the Redis
// connection lifecycle.
func (p *Publisher) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

// defaultStreamID derives the Pulse stream name from the channel.
func defaultStreamID(channel string) (string, error) {
	if channel == "" {
		return "", errors.New("log stream channel is required")
	}
	return fmt.Sprintf("logs/%s", channel), nil
}
