package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/docstruct/docstruct/features/pulse"
	"github.com/docstruct/docstruct/runtime/logstream"
)

type (
	// EnvelopeDecoder converts raw payloads read from Pulse into log-stream
	// events.
	EnvelopeDecoder func([]byte) (logstream.Event, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "logstream_subscriber".
		SinkName string
		// Buffer specifies the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the built-in JSON
		// decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes Pulse log streams and emits log-stream events. It
	// wraps a Pulse sink (consumer group) and decodes incoming payloads.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "logstream_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a Pulse sink on the channel's stream and returns channels
// for events and errors. The returned cancel function stops consumption and
// closes both channels.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	channel string,
	opts ...streamopts.Sink,
) (<-chan logstream.Event, <-chan error, context.CancelFunc, error) {
	streamID, err := defaultStreamID(channel)
	if err != nil {
		return nil, nil, nil, err
	}
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan logstream.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

// consume reads events from the Pulse sink channel, decodes them and emits
// them on out, acking each after successful emission.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- logstream.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

// decodeEnvelope deserializes the default JSON envelope format and rebuilds
// the concrete event from its kind discriminator.
func decodeEnvelope(payload []byte) (logstream.Event, error) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	switch logstream.Kind(env.Type) {
	case logstream.KindLog:
		var ev logstream.LogEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case logstream.KindUpdate:
		var ev logstream.UpdateEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown log event type %q", env.Type)
	}
}
